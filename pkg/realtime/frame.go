package realtime

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Outbound event names.
const (
	EventJoinChat            = "join_chat"
	EventLeaveChat           = "leave_chat"
	EventSubscribeToChat     = "subscribe_to_chat"
	EventUnsubscribeFromChat = "unsubscribe_from_chat"
	EventGetChatMessages     = "get_chat_messages"
	EventGetChatStats        = "get_chat_stats"
)

// Inbound event names.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventChatCreated  = "chat_created"
	EventMessageAdded = "message_added"
	EventStatusUpdate = "status_update"
	EventChatMessages = "chat_messages"
	EventChatStats    = "chat_stats"
	EventError        = "error"
)

// InboundEvents lists every event the server may push.
var InboundEvents = []string{
	EventConnected,
	EventDisconnected,
	EventChatCreated,
	EventMessageAdded,
	EventStatusUpdate,
	EventChatMessages,
	EventChatStats,
	EventError,
}

// Event is an application-level event carried by one frame.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return errors.Errorf("event %s has no payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", e.Name)
	}
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, errors.New("empty event name")
	}
	f := frame{Event: event}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", event)
		}
		f.Data = b
	}
	return json.Marshal(f)
}

func decodeFrame(b []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Event{}, errors.Wrap(err, "malformed frame")
	}
	if f.Event == "" {
		return Event{}, errors.New("frame has no event name")
	}
	return Event{Name: f.Event, Data: f.Data}, nil
}

func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
