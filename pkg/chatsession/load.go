package chatsession

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/metrics"
)

// page sources
const (
	sourceCache = "cache"
	sourcePull  = "pull"
	sourcePush  = "push"
	sourceEvent = "event"
)

// Open makes chatID the active chat and loads it. An empty chatID starts a
// new, not yet created chat. Open returns once the detail and message loads
// have finished. A message load failure is returned and recorded as
// LastError; a detail failure is only logged.
func (c *Coordinator) Open(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	gen, releasePrev := c.switchLocked(chatID)
	c.mu.Unlock()

	releasePrev()
	c.log.Debug().Str("chat_id", chatID).Uint64("gen", gen).Msg("open chat")
	c.notify()
	if chatID == "" {
		return nil
	}
	return c.load(ctx, chatID, gen)
}

func (c *Coordinator) load(ctx context.Context, chatID string, gen uint64) error {
	c.hydrate(ctx, chatID, gen)
	c.acquire(chatID)

	var g errgroup.Group
	g.Go(func() error {
		chat, err := c.gw.GetChat(ctx, chatID)
		c.applyDetail(chatID, gen, chat, err)
		return nil
	})
	g.Go(func() error {
		page, err := c.gw.GetChatMessages(ctx, chatID, c.pageSize, 0)
		if err != nil {
			c.failMessages(chatID, gen, err)
			return errors.Wrap(err, "load chat messages")
		}
		c.applyPage(chatID, gen, sourcePull, page.Messages)
		return nil
	})
	return g.Wait()
}

// hydrate shows the cached transcript, if any, before the network answers.
func (c *Coordinator) hydrate(ctx context.Context, chatID string, gen uint64) {
	if c.store == nil {
		return
	}
	msgs, err := c.store.LoadMessages(ctx, chatID)
	if err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("transcript cache read failed")
		return
	}
	if len(msgs) > 0 {
		c.applyPage(chatID, gen, sourceCache, msgs)
	}
	if chat, ok, err := c.store.GetChat(ctx, chatID); err == nil && ok {
		c.mu.Lock()
		if c.chatID == chatID && c.gen == gen && c.chat == nil {
			c.chat = &chat
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) applyDetail(chatID string, gen uint64, chat *chatapi.Chat, err error) {
	c.mu.Lock()
	if c.closed || c.chatID != chatID || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.loadingChat = false
	if err == nil && chat != nil {
		detail := *chat
		c.chat = &detail
	}
	c.mu.Unlock()

	if err != nil {
		// not critical: the transcript still loads
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("chat details unavailable")
	} else if c.store != nil && chat != nil {
		if err := c.store.UpsertChat(c.ctx, *chat); err != nil {
			c.log.Warn().Err(err).Str("chat_id", chatID).Msg("transcript cache write failed")
		}
	}
	c.notify()
}

func (c *Coordinator) failMessages(chatID string, gen uint64, err error) {
	c.mu.Lock()
	if c.closed || c.chatID != chatID || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.loadingMessages = false
	c.lastErr = errors.Wrap(err, "Failed to load chat messages")
	c.mu.Unlock()
	c.log.Warn().Err(err).Str("chat_id", chatID).Msg("message load failed")
	c.notify()
}

// applyPage merges a message page for chatID. Pages for another chat or an
// older load are dropped. After the first page, a page holding fewer
// confirmed messages than the transcript is ignored.
func (c *Coordinator) applyPage(chatID string, gen uint64, source string, msgs []chatapi.Message) {
	c.mu.Lock()
	if c.closed || c.chatID != chatID || (gen != 0 && c.gen != gen) {
		c.mu.Unlock()
		metrics.TranscriptMerges.WithLabelValues(source, "stale").Inc()
		c.log.Debug().Str("chat_id", chatID).Str("source", source).Msg("dropping stale page")
		return
	}
	if source == sourcePull {
		c.loadingMessages = false
	}
	if c.hasLoadedInitial && len(msgs) < confirmedCount(c.entries) {
		c.mu.Unlock()
		metrics.TranscriptMerges.WithLabelValues(source, "ignored").Inc()
		c.notify()
		return
	}
	var changed bool
	c.entries, changed = mergePage(c.entries, msgs)
	if source != sourceCache {
		c.hasLoadedInitial = true
	}
	c.mu.Unlock()

	result := "unchanged"
	if changed {
		result = "applied"
	}
	metrics.TranscriptMerges.WithLabelValues(source, result).Inc()
	if source != sourceCache {
		c.persist(chatID, msgs)
	}
	c.notify()
}

func (c *Coordinator) persist(chatID string, msgs []chatapi.Message) {
	if c.store == nil || len(msgs) == 0 {
		return
	}
	if err := c.store.SaveMessages(c.ctx, chatID, msgs); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("transcript cache write failed")
	}
}
