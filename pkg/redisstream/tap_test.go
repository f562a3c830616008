package redisstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/realtime"
)

func TestTapRepublishesEvents(t *testing.T) {
	bus, err := BuildBus(DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscriber.Subscribe(ctx, "events")
	require.NoError(t, err)

	d := realtime.NewDispatcher()
	tap := NewTap(bus.Publisher, "events")
	tap.now = func() time.Time { return time.Unix(1700000000, 0) }
	tap.Attach(d)
	require.Equal(t, 1, d.Count(realtime.EventMessageAdded))

	d.Dispatch(ctx, realtime.EventMessageAdded, json.RawMessage(`{"id":"m1","chat_id":"c1"}`))

	select {
	case msg := <-msgs:
		msg.Ack()
		require.Equal(t, realtime.EventMessageAdded, msg.Metadata.Get("event"))
		env, err := DecodeEnvelope(msg)
		require.NoError(t, err)
		require.Equal(t, realtime.EventMessageAdded, env.Event)
		require.JSONEq(t, `{"id":"m1","chat_id":"c1"}`, string(env.Data))
		require.Equal(t, int64(1700000000), env.ReceivedAt.Unix())
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	tap.Detach()
	require.Equal(t, 0, d.Count(realtime.EventMessageAdded))
}

func TestTapAttachMovesBetweenDispatchers(t *testing.T) {
	bus, err := BuildBus(DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	a, b := realtime.NewDispatcher(), realtime.NewDispatcher()
	tap := NewTap(bus.Publisher, "events")
	tap.Attach(a)
	tap.Attach(b)
	require.Equal(t, 0, a.Count(realtime.EventError))
	require.Equal(t, 1, b.Count(realtime.EventError))
}

func TestDefaultSettingsAreInMemory(t *testing.T) {
	s := DefaultSettings()
	require.False(t, s.Enabled)
	require.Equal(t, "docchat.events", s.Stream)
}
