package chatsession

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
)

// Send posts text to the active chat, or creates a chat when there is none.
// The user entry is visible before the request is made. On failure exactly
// that entry is retracted and the error is returned and recorded.
func (c *Coordinator) Send(ctx context.Context, text string) (*gateway.AskResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.sending {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.sending = true
	c.attempt++
	token := c.attempt
	chatID := c.chatID
	view := c.view
	c.entries = append(c.entries, Entry{
		Message: chatapi.Message{
			ID:        fmt.Sprintf("local-%s-%d", c.sessionID, token),
			ChatID:    chatID,
			Role:      chatapi.RoleUser,
			Content:   text,
			Timestamp: chatapi.Timestamp{Time: time.Now().UTC()},
		},
		Origin:  OriginLocal,
		Attempt: token,
	})
	if c.phase == PhaseNoChat {
		c.phase = PhasePending
	}
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	c.log.Debug().Str("chat_id", chatID).Uint64("attempt", token).Msg("sending message")
	resp, err := c.gw.AskWithChat(ctx, text, chatID)

	c.mu.Lock()
	c.sending = false
	if c.closed || c.view != view {
		c.mu.Unlock()
		c.log.Info().Str("chat_id", chatID).Uint64("attempt", token).Msg("dropping answer for a chat no longer in view")
		c.notify()
		return resp, err
	}

	if err != nil {
		c.lastErr = err
		c.retractLocked(token)
		if c.phase == PhasePending {
			c.phase = PhaseNoChat
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("chat_id", chatID).Uint64("attempt", token).Msg("send failed")
		c.notify()
		return nil, err
	}

	adopted := ""
	switch {
	case c.chatID == "" && resp.ChatID != "":
		c.adoptLocked(resp.ChatID)
		adopted = resp.ChatID
	case resp.ChatID != "" && c.chatID != resp.ChatID:
		c.mu.Unlock()
		c.log.Warn().Str("chat_id", c.chatID).Str("answer_chat_id", resp.ChatID).Msg("dropping answer for another chat")
		c.notify()
		return resp, nil
	case c.chatID == "":
		// answered without a chat id: nothing to adopt
		c.phase = PhaseNoChat
	}

	idx := indexOfAttempt(c.entries, token)
	if idx >= 0 && c.entries[idx].Origin == OriginLocal {
		c.entries[idx].Origin = OriginAnswered
		c.entries[idx].ChatID = c.chatID
	}
	if !hasAnswerAfter(c.entries, idx, resp.Answer) {
		c.entries = append(c.entries, Entry{
			Message: chatapi.Message{
				ID:        fmt.Sprintf("answer-%s-%d", c.sessionID, token),
				ChatID:    c.chatID,
				Role:      chatapi.RoleAssistant,
				Content:   resp.Answer,
				Timestamp: chatapi.Timestamp{Time: time.Now().UTC()},
			},
			Origin:  OriginAnswered,
			Attempt: token,
		})
	}
	var chat chatapi.Chat
	if adopted != "" {
		if c.chat != nil && c.chat.ID == adopted {
			chat = *c.chat
		} else {
			chat = chatapi.Chat{ID: adopted}
		}
	}
	c.mu.Unlock()

	if adopted != "" {
		c.log.Info().Str("chat_id", adopted).Msg("chat created by first message")
		c.acquire(adopted)
		c.announce(chat, true)
	}
	c.notify()
	return resp, nil
}

// retractLocked removes the optimistic entry of attempt token, if it is still
// unconfirmed.
func (c *Coordinator) retractLocked(token uint64) {
	for i, e := range c.entries {
		if e.Attempt == token && e.Origin == OriginLocal {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}
