package transcriptstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// MemoryStore mirrors SQLiteStore ordering and merge rules without a database.
type MemoryStore struct {
	mu       sync.Mutex
	chats    map[string]chatapi.Chat
	messages map[string][]chatapi.Message
	index    map[string]map[string]int
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    map[string]chatapi.Chat{},
		messages: map[string][]chatapi.Message{},
		index:    map[string]map[string]int{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveMessages(_ context.Context, chatID string, msgs []chatapi.Message) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("memory transcript store: chatID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[chatID]
	if !ok {
		idx = map[string]int{}
		s.index[chatID] = idx
	}
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		m.ChatID = chatID
		if i, ok := idx[m.ID]; ok {
			prev := s.messages[chatID][i]
			if m.Timestamp.IsZero() {
				m.Timestamp = prev.Timestamp
			}
			if m.Seq == 0 {
				m.Seq = prev.Seq
			}
			s.messages[chatID][i] = m
			continue
		}
		idx[m.ID] = len(s.messages[chatID])
		s.messages[chatID] = append(s.messages[chatID], m)
	}
	if _, ok := s.chats[chatID]; !ok {
		s.chats[chatID] = chatapi.Chat{ID: chatID}
	}
	return nil
}

func (s *MemoryStore) LoadMessages(_ context.Context, chatID string) ([]chatapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]chatapi.Message(nil), s.messages[chatID]...)
	sortMessages(out)
	return out, nil
}

func (s *MemoryStore) UpsertChat(_ context.Context, chat chatapi.Chat) error {
	if strings.TrimSpace(chat.ID) == "" {
		return errors.New("memory transcript store: chat id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.chats[chat.ID]
	if !ok {
		s.chats[chat.ID] = chat
		return nil
	}
	if chat.Title == "" {
		chat.Title = prev.Title
	}
	if !prev.CreatedAt.IsZero() {
		chat.CreatedAt = prev.CreatedAt
	}
	if prev.UpdatedAt.After(chat.UpdatedAt.Time) {
		chat.UpdatedAt = prev.UpdatedAt
	}
	if chat.MessageCount == 0 {
		chat.MessageCount = prev.MessageCount
	}
	if len(chat.Metadata) == 0 {
		chat.Metadata = prev.Metadata
	}
	s.chats[chat.ID] = chat
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (chatapi.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return c, ok, nil
}

func (s *MemoryStore) ListChats(_ context.Context, limit int) ([]chatapi.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	out := make([]chatapi.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt.Time) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt.Time)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	delete(s.index, chatID)
	return nil
}
