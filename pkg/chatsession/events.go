package chatsession

import (
	"context"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/metrics"
	"github.com/go-go-golems/docchat/pkg/realtime"
)

func (c *Coordinator) handleEvent(_ context.Context, ev realtime.Event) error {
	switch ev.Name {
	case realtime.EventConnected:
		c.onConnected()
	case realtime.EventDisconnected:
		c.setConnection(c.transport.State())
	case realtime.EventChatCreated:
		var chat chatapi.ChatCreatedPayload
		if err := ev.Decode(&chat); err != nil {
			return err
		}
		c.onChatCreatedEvent(chat)
	case realtime.EventMessageAdded:
		var m chatapi.MessageAddedPayload
		if err := ev.Decode(&m); err != nil {
			return err
		}
		c.onMessageAdded(m)
	case realtime.EventStatusUpdate:
		var p chatapi.StatusUpdatePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.onStatusUpdate(p)
	case realtime.EventChatMessages:
		var p chatapi.ChatMessagesPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		for i := range p.Messages {
			if p.Messages[i].ChatID == "" {
				p.Messages[i].ChatID = p.ChatID
			}
		}
		c.applyPage(p.ChatID, 0, sourcePush, p.Messages)
	case realtime.EventError:
		var p chatapi.ErrorPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		c.lastErr = &ChannelError{Message: p.Error}
		c.mu.Unlock()
		c.notify()
	}
	return nil
}

func (c *Coordinator) setConnection(s realtime.State) {
	c.mu.Lock()
	c.connection = s
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) onConnected() {
	c.mu.Lock()
	c.connection = realtime.StateConnected
	if _, ok := c.lastErr.(*ChannelError); ok {
		c.lastErr = nil
	}
	chatID := c.chatID
	closed := c.closed
	c.mu.Unlock()

	if !closed && chatID != "" {
		c.acquire(chatID)
	}
	c.notify()
}

// onChatCreatedEvent adopts a chat the server just created. From no-chat or
// pending the current transcript becomes that chat's; from has-chat it is a
// switch. Adopting the active chat again only refreshes its details.
func (c *Coordinator) onChatCreatedEvent(chat chatapi.Chat) {
	if chat.ID == "" {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.chatID == chat.ID {
		detail := chat
		c.chat = &detail
		c.mu.Unlock()
		c.announce(chat, false)
		c.notify()
		return
	}

	var (
		gen         uint64
		releasePrev func()
		switched    bool
	)
	if c.phase == PhaseHasChat {
		gen, releasePrev = c.switchLocked(chat.ID)
		switched = true
	} else {
		c.adoptLocked(chat.ID)
	}
	detail := chat
	c.chat = &detail
	c.mu.Unlock()

	c.log.Info().Str("chat_id", chat.ID).Bool("switch", switched).Msg("adopting created chat")
	if switched {
		releasePrev()
		go func() {
			if err := c.load(c.ctx, chat.ID, gen); err != nil {
				c.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("load of created chat failed")
			}
		}()
	} else {
		c.acquire(chat.ID)
	}
	c.announce(chat, true)
	c.notify()
}

func (c *Coordinator) onMessageAdded(m chatapi.Message) {
	c.mu.Lock()
	if c.closed || m.ChatID == "" || m.ChatID != c.chatID {
		c.mu.Unlock()
		return
	}
	var changed bool
	c.entries, changed = upsert(c.entries, m, true)
	chatID := c.chatID
	c.mu.Unlock()

	if !changed {
		metrics.TranscriptMerges.WithLabelValues(sourceEvent, "unchanged").Inc()
		return
	}
	metrics.TranscriptMerges.WithLabelValues(sourceEvent, "applied").Inc()
	if m.ID != "" {
		c.persist(chatID, []chatapi.Message{m})
	}
	c.notify()
}

func (c *Coordinator) onStatusUpdate(p chatapi.StatusUpdatePayload) {
	c.mu.Lock()
	if c.closed || p.ChatID == "" || p.ChatID != c.chatID {
		c.mu.Unlock()
		return
	}
	c.status = p.Status
	c.statusMessage = p.Message
	if p.Status == chatapi.StatusError {
		c.lastErr = &ChannelError{Message: p.Message}
	}
	c.mu.Unlock()
	c.notify()
}
