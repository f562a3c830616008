// Package transcriptstore caches the last known good transcript of each chat
// so a session can show history before the network answers.
package transcriptstore

import (
	"context"
	"sort"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// Store persists confirmed messages (those with a server id) per chat.
//
// SaveMessages upserts by message id and never removes messages: a cached
// transcript only grows until DeleteChat drops it.
type Store interface {
	SaveMessages(ctx context.Context, chatID string, msgs []chatapi.Message) error
	LoadMessages(ctx context.Context, chatID string) ([]chatapi.Message, error)
	UpsertChat(ctx context.Context, chat chatapi.Chat) error
	GetChat(ctx context.Context, chatID string) (chatapi.Chat, bool, error)
	ListChats(ctx context.Context, limit int) ([]chatapi.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	Close() error
}

// sortMessages orders by server seq when every message has one, otherwise
// keeps the given (insertion) order.
func sortMessages(msgs []chatapi.Message) {
	for _, m := range msgs {
		if m.Seq == 0 {
			return
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
}
