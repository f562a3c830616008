package chatapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshal_CreatedAtFallback(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"m1","chat_id":"c1","role":"user","content":"hi","created_at":"2025-03-01T10:00:00.123456"}`), &m)
	require.NoError(t, err)
	require.Equal(t, "m1", m.ID)
	require.Equal(t, RoleUser, m.Role)
	require.Equal(t, 2025, m.Timestamp.Year())
	require.Equal(t, 123456000, m.Timestamp.Nanosecond())
}

func TestMessageUnmarshal_TimestampWins(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"id":"m1","timestamp":"2025-03-02T00:00:00Z","created_at":"2025-03-01T00:00:00Z","seq":7}`), &m)
	require.NoError(t, err)
	require.Equal(t, 2, m.Timestamp.Day())
	require.Equal(t, uint64(7), m.Seq)
}

func TestTimestamp_UnixValues(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1700000000`), &ts))
	require.Equal(t, time.Unix(1700000000, 0).UTC(), ts.Time)

	require.NoError(t, json.Unmarshal([]byte(`1700000000123`), &ts))
	require.Equal(t, time.UnixMilli(1700000000123).UTC(), ts.Time)

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	require.True(t, ts.IsZero())
}

func TestTimestamp_Rejects(t *testing.T) {
	var ts Timestamp
	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestChatApply(t *testing.T) {
	title := "renamed"
	count := 4
	c := Chat{ID: "c1", Title: "old"}.Apply(ChatPatch{Title: &title, MessageCount: &count})
	require.Equal(t, "renamed", c.Title)
	require.Equal(t, 4, c.MessageCount)
}
