package chatsession

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
	"github.com/go-go-golems/docchat/pkg/persistence/transcriptstore"
)

type ChatLister interface {
	ListChats(ctx context.Context, limit, offset int) (*gateway.ChatPage, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// ChatList is the local list of known chats, newest first.
type ChatList struct {
	gw       ChatLister
	store    transcriptstore.Store
	pageSize int
	log      zerolog.Logger

	mu      sync.Mutex
	chats   []chatapi.Chat
	loading bool
	err     error
}

type ChatListOption func(*ChatList)

// WithChatListStore keeps the list in s and falls back to it when the
// service cannot be reached.
func WithChatListStore(s transcriptstore.Store) ChatListOption {
	return func(l *ChatList) { l.store = s }
}

func WithChatPageSize(n int) ChatListOption {
	return func(l *ChatList) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func NewChatList(gw ChatLister, opts ...ChatListOption) *ChatList {
	l := &ChatList{
		gw:       gw,
		pageSize: 50,
		log:      log.With().Str("component", "chatlist").Logger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load replaces the list with the first page from the service. On failure the
// current list is kept, or filled from the cache when empty.
func (l *ChatList) Load(ctx context.Context) error {
	l.mu.Lock()
	l.loading = true
	l.err = nil
	l.mu.Unlock()

	page, err := l.gw.ListChats(ctx, l.pageSize, 0)
	if err != nil {
		err = errors.Wrap(err, "Failed to load chats")
		var cached []chatapi.Chat
		if l.store != nil {
			var cacheErr error
			cached, cacheErr = l.store.ListChats(ctx, l.pageSize)
			if cacheErr != nil {
				l.log.Warn().Err(cacheErr).Msg("chat cache read failed")
			}
		}
		l.mu.Lock()
		l.loading = false
		l.err = err
		if len(l.chats) == 0 && len(cached) > 0 {
			l.chats = cached
		}
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.loading = false
	l.chats = append([]chatapi.Chat(nil), page.Chats...)
	l.mu.Unlock()

	if l.store != nil {
		for _, chat := range page.Chats {
			if err := l.store.UpsertChat(ctx, chat); err != nil {
				l.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("chat cache write failed")
				break
			}
		}
	}
	return nil
}

// Delete removes the chat on the service, then locally and from the cache.
// A transcript currently open for that chat is not touched.
func (l *ChatList) Delete(ctx context.Context, chatID string) error {
	if err := l.gw.DeleteChat(ctx, chatID); err != nil {
		err = errors.Wrap(err, "Failed to delete chat")
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		return err
	}
	l.mu.Lock()
	out := l.chats[:0]
	for _, c := range l.chats {
		if c.ID != chatID {
			out = append(out, c)
		}
	}
	l.chats = out
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeleteChat(ctx, chatID); err != nil {
			l.log.Warn().Err(err).Str("chat_id", chatID).Msg("chat cache purge failed")
		}
	}
	return nil
}

// Add puts chat at the front of the list. A chat already listed is updated
// in place instead.
func (l *ChatList) Add(chat chatapi.Chat) {
	if chat.ID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.chats {
		if c.ID == chat.ID {
			l.chats[i] = mergeChat(c, chat)
			return
		}
	}
	l.chats = append([]chatapi.Chat{chat}, l.chats...)
}

// Update applies patch to the listed chat with chatID.
func (l *ChatList) Update(chatID string, patch chatapi.ChatPatch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.chats {
		if c.ID == chatID {
			l.chats[i] = c.Apply(patch)
			return true
		}
	}
	return false
}

func (l *ChatList) Chats() []chatapi.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chatapi.Chat(nil), l.chats...)
}

func (l *ChatList) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

func (l *ChatList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func mergeChat(prev, next chatapi.Chat) chatapi.Chat {
	if next.Title == "" {
		next.Title = prev.Title
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = prev.UpdatedAt
	}
	if next.MessageCount == 0 {
		next.MessageCount = prev.MessageCount
	}
	if len(next.Metadata) == 0 {
		next.Metadata = prev.Metadata
	}
	return next
}
