package realtime

import (
	"sync"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// Subscribe registers interest in chatID and returns its release function.
// Interest is reference counted: join/subscribe go out for the first holder
// and leave/unsubscribe for the last. Held subscriptions are replayed after
// every (re)connect.
func (c *Conn) Subscribe(chatID string) func() {
	if chatID == "" {
		return func() {}
	}
	c.mu.Lock()
	c.subs[chatID]++
	first := c.subs[chatID] == 1
	connected := c.state == StateConnected
	c.mu.Unlock()

	if first && connected {
		c.sendSubscribe(chatID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.release(chatID) })
	}
}

func (c *Conn) release(chatID string) {
	c.mu.Lock()
	n := c.subs[chatID] - 1
	if n <= 0 {
		delete(c.subs, chatID)
	} else {
		c.subs[chatID] = n
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if n <= 0 && connected {
		_ = c.LeaveChat(chatID)
		_ = c.UnsubscribeFromChat(chatID)
	}
}

// Subscriptions returns the chat ids currently held with their counts.
func (c *Conn) Subscriptions() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *Conn) sendSubscribe(chatID string) {
	if err := c.JoinChat(chatID); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("join failed")
		return
	}
	if err := c.SubscribeToChat(chatID); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("subscribe failed")
	}
}

func (c *Conn) JoinChat(chatID string) error {
	return c.Send(EventJoinChat, chatapi.ChatRef{ChatID: chatID})
}

func (c *Conn) LeaveChat(chatID string) error {
	return c.Send(EventLeaveChat, chatapi.ChatRef{ChatID: chatID})
}

func (c *Conn) SubscribeToChat(chatID string) error {
	return c.Send(EventSubscribeToChat, chatapi.ChatRef{ChatID: chatID})
}

func (c *Conn) UnsubscribeFromChat(chatID string) error {
	return c.Send(EventUnsubscribeFromChat, chatapi.ChatRef{ChatID: chatID})
}

// RequestChatMessages asks the server to push a chat_messages snapshot.
func (c *Conn) RequestChatMessages(chatID string, limit, offset int) error {
	return c.Send(EventGetChatMessages, chatapi.ChatMessagesRequest{ChatID: chatID, Limit: limit, Offset: offset})
}

func (c *Conn) RequestChatStats() error {
	return c.Send(EventGetChatStats, nil)
}
