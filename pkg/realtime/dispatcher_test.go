package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSetSemantics(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	l := Listen(func(context.Context, Event) error {
		calls++
		return nil
	})

	d.On(EventMessageAdded, l)
	d.On(EventMessageAdded, l)
	require.Equal(t, 1, d.Count(EventMessageAdded))

	d.Dispatch(context.Background(), EventMessageAdded, json.RawMessage(`{}`))
	require.Equal(t, 1, calls)

	d.Off(EventMessageAdded, l)
	d.Dispatch(context.Background(), EventMessageAdded, json.RawMessage(`{}`))
	require.Equal(t, 1, calls)
	require.Equal(t, 0, d.Count(EventMessageAdded))
}

func TestDispatcherIsolatesFailingListeners(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.On(EventStatusUpdate, Listen(func(context.Context, Event) error {
		return errors.New("boom")
	}))
	d.On(EventStatusUpdate, Listen(func(context.Context, Event) error {
		panic("listener bug")
	}))
	d.On(EventStatusUpdate, Listen(func(_ context.Context, ev Event) error {
		got = append(got, string(ev.Data))
		return nil
	}))

	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), EventStatusUpdate, json.RawMessage(`{"status":"processing"}`))
	})
	require.Equal(t, []string{`{"status":"processing"}`}, got)
}

func TestDispatcherKeepsNoHistory(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(context.Background(), EventChatCreated, json.RawMessage(`{"id":"c-1"}`))

	calls := 0
	d.On(EventChatCreated, Listen(func(context.Context, Event) error {
		calls++
		return nil
	}))
	require.Equal(t, 0, calls)

	d.Dispatch(context.Background(), EventChatCreated, json.RawMessage(`{"id":"c-2"}`))
	require.Equal(t, 1, calls)
}

func TestDispatcherOnAllUnregisters(t *testing.T) {
	d := NewDispatcher()
	var names []string
	off := d.OnAll(Listen(func(_ context.Context, ev Event) error {
		names = append(names, ev.Name)
		return nil
	}))
	for _, ev := range InboundEvents {
		require.Equal(t, 1, d.Count(ev))
	}

	d.Dispatch(context.Background(), EventError, json.RawMessage(`{"error":"x"}`))
	off()
	d.Dispatch(context.Background(), EventError, json.RawMessage(`{"error":"y"}`))
	require.Equal(t, []string{EventError}, names)
	require.Equal(t, 0, d.Count(EventError))
}

func TestDispatcherListenerMayUnregisterItself(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	var l *ListenerFunc
	l = Listen(func(context.Context, Event) error {
		calls++
		d.Off(EventConnected, l)
		return nil
	})
	d.On(EventConnected, l)

	d.Dispatch(context.Background(), EventConnected, nil)
	d.Dispatch(context.Background(), EventConnected, nil)
	require.Equal(t, 1, calls)
}
