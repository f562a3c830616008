package transcriptstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

func ts(sec int64) chatapi.Timestamp {
	return chatapi.Timestamp{Time: time.Unix(sec, 0).UTC()}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStore_SaveAndLoadMessages(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.Error(t, s.SaveMessages(ctx, "", []chatapi.Message{{ID: "m1"}}))

			require.NoError(t, s.SaveMessages(ctx, "c1", []chatapi.Message{
				{ID: "m1", Role: chatapi.RoleUser, Content: "hi", Timestamp: ts(100)},
				{Role: chatapi.RoleUser, Content: "provisional entries are not cached"},
				{ID: "m2", Role: chatapi.RoleAssistant, Content: "hello", Timestamp: ts(101)},
			}))
			// re-saving a shorter page never drops cached messages
			require.NoError(t, s.SaveMessages(ctx, "c1", []chatapi.Message{
				{ID: "m1", Role: chatapi.RoleUser, Content: "hi (edited)"},
			}))

			msgs, err := s.LoadMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			require.Equal(t, "m1", msgs[0].ID)
			require.Equal(t, "hi (edited)", msgs[0].Content)
			require.Equal(t, ts(100).Unix(), msgs[0].Timestamp.Unix())
			require.Equal(t, "c1", msgs[0].ChatID)
			require.Equal(t, "m2", msgs[1].ID)

			empty, err := s.LoadMessages(ctx, "other")
			require.NoError(t, err)
			require.Empty(t, empty)
		})
	}
}

func TestStore_OrdersBySeqWhenComplete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveMessages(ctx, "c1", []chatapi.Message{
				{ID: "b", Role: chatapi.RoleAssistant, Content: "second", Seq: 2},
				{ID: "a", Role: chatapi.RoleUser, Content: "first", Seq: 1},
			}))
			msgs, err := s.LoadMessages(ctx, "c1")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, []string{msgs[0].ID, msgs[1].ID})

			require.NoError(t, s.SaveMessages(ctx, "c1", []chatapi.Message{
				{ID: "c", Role: chatapi.RoleUser, Content: "no seq"},
			}))
			msgs, err = s.LoadMessages(ctx, "c1")
			require.NoError(t, err)
			require.Equal(t, []string{"b", "a", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
		})
	}
}

func TestStore_Chats(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertChat(ctx, chatapi.Chat{ID: "c1", Title: "Budget", CreatedAt: ts(10), UpdatedAt: ts(20)}))
			require.NoError(t, s.UpsertChat(ctx, chatapi.Chat{ID: "c2", Title: "Specs", CreatedAt: ts(11), UpdatedAt: ts(30), Metadata: map[string]any{"k": "v"}}))
			// an empty title and an older update time keep the stored values
			require.NoError(t, s.UpsertChat(ctx, chatapi.Chat{ID: "c1", UpdatedAt: ts(15), MessageCount: 4}))

			c1, ok, err := s.GetChat(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "Budget", c1.Title)
			require.Equal(t, ts(20).Unix(), c1.UpdatedAt.Unix())
			require.Equal(t, 4, c1.MessageCount)

			list, err := s.ListChats(ctx, 10)
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "c2", list[0].ID)
			require.Equal(t, "v", list[0].Metadata["k"])

			_, ok, err = s.GetChat(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStore_DeleteChat(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertChat(ctx, chatapi.Chat{ID: "c1", Title: "x"}))
			require.NoError(t, s.SaveMessages(ctx, "c1", []chatapi.Message{{ID: "m1", Role: chatapi.RoleUser, Content: "hi"}}))
			require.NoError(t, s.DeleteChat(ctx, "c1"))

			msgs, err := s.LoadMessages(ctx, "c1")
			require.NoError(t, err)
			require.Empty(t, msgs)
			_, ok, err := s.GetChat(ctx, "c1")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	dsn, err := SQLiteDSNForFile(path)
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	require.NoError(t, s.SaveMessages(context.Background(), "c1", []chatapi.Message{{ID: "m1", Role: chatapi.RoleUser, Content: "hi"}}))
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	msgs, err := s.LoadMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
