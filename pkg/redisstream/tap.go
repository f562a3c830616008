package redisstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/realtime"
)

// Envelope is the payload of every message the Tap publishes.
type Envelope struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// DecodeEnvelope unmarshals a published message.
func DecodeEnvelope(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

// Tap republishes inbound realtime events to a Watermill topic.
type Tap struct {
	pub   message.Publisher
	topic string
	now   func() time.Time

	mu  sync.Mutex
	off func()
}

func NewTap(pub message.Publisher, topic string) *Tap {
	return &Tap{pub: pub, topic: topic, now: time.Now}
}

// Attach registers the tap on d for every inbound event. Attaching again
// moves the tap to the new dispatcher.
func (t *Tap) Attach(d *realtime.Dispatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.off != nil {
		t.off()
	}
	t.off = d.OnAll(t)
}

func (t *Tap) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.off != nil {
		t.off()
		t.off = nil
	}
}

func (t *Tap) HandleEvent(_ context.Context, ev realtime.Event) error {
	b, err := json.Marshal(Envelope{Event: ev.Name, Data: ev.Data, ReceivedAt: t.now().UTC()})
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("event", ev.Name)
	if err := t.pub.Publish(t.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "tap").Str("event", ev.Name).Str("topic", t.topic).Msg("publish failed")
		return errors.Wrap(err, "publish event")
	}
	return nil
}
