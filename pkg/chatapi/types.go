// Package chatapi holds the wire model shared by the HTTP gateway and the
// realtime channel of the document-chat service.
package chatapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Chat is a conversation as the remote service describes it.
type Chat struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	CreatedAt    Timestamp      `json:"created_at,omitempty"`
	UpdatedAt    Timestamp      `json:"updated_at,omitempty"`
	MessageCount int            `json:"message_count,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ChatPatch carries the fields of a Chat that may be updated locally.
type ChatPatch struct {
	Title        *string
	UpdatedAt    *time.Time
	MessageCount *int
}

func (c Chat) Apply(p ChatPatch) Chat {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = Timestamp{Time: *p.UpdatedAt}
	}
	if p.MessageCount != nil {
		c.MessageCount = *p.MessageCount
	}
	return c
}

// Message is a confirmed chat message. Seq is zero when the server did not
// assign one.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
}

// UnmarshalJSON accepts either `timestamp` or `created_at` for the message time.
func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var raw struct {
		plain
		CreatedAt Timestamp `json:"created_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	if m.Timestamp.IsZero() {
		m.Timestamp = raw.CreatedAt
	}
	return nil
}

type ChatStats struct {
	TotalChats             int     `json:"total_chats"`
	TotalMessages          int     `json:"total_messages"`
	AverageMessagesPerChat float64 `json:"average_messages_per_chat"`
}

type Document struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size,omitempty"`
	UploadedAt Timestamp `json:"uploaded_at,omitempty"`
}

// Timestamp decodes the handful of time encodings the service emits: RFC3339
// with or without zone, and unix seconds or milliseconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if s[0] != '"' {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrapf(err, "timestamp %s", s)
		}
		// values past year 33658 in seconds are treated as milliseconds
		if n > 1e12 {
			t.Time = time.UnixMilli(int64(n)).UTC()
		} else {
			t.Time = time.Unix(int64(n), 0).UTC()
		}
		return nil
	}
	str, err := strconv.Unquote(s)
	if err != nil {
		return errors.Wrap(err, "timestamp")
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, str); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.Errorf("unrecognized timestamp %q", str)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
