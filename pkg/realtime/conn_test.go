package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/remotetest"
)

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// recordingScheduler records every requested delay. When fire is set the
// callback runs immediately on its own goroutine.
type recordingScheduler struct {
	mu      sync.Mutex
	fire    bool
	delays  []time.Duration
	pending []func()
}

func (s *recordingScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	if s.fire {
		go f()
	} else {
		s.pending = append(s.pending, f)
	}
	return &fakeTimer{}
}

func (s *recordingScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *recordingScheduler) runPending() {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listener() *ListenerFunc {
	return Listen(func(_ context.Context, ev Event) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
		return nil
	})
}

func (l *eventLog) names(filter ...string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := map[string]bool{}
	for _, f := range filter {
		want[f] = true
	}
	var out []string
	for _, ev := range l.events {
		if len(want) == 0 || want[ev.Name] {
			out = append(out, ev.Name)
		}
	}
	return out
}

func (l *eventLog) last(name string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Name == name {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func newServer(t *testing.T) *remotetest.Server {
	t.Helper()
	srv := remotetest.New()
	t.Cleanup(srv.Close)
	return srv
}

func newTestConn(t *testing.T, srv *remotetest.Server, sched *recordingScheduler) (*Conn, *eventLog) {
	t.Helper()
	d := NewDispatcher()
	log := &eventLog{}
	d.OnAll(log.listener())
	opts := DefaultOptions(srv.WebSocketURL())
	opts.HandshakeTimeout = 2 * time.Second
	var options []ConnOption
	if sched != nil {
		options = append(options, WithScheduler(sched.schedule))
	}
	c := NewConn(opts, d, options...)
	t.Cleanup(c.Disconnect)
	return c, log
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newServer(t)
	c, log := newTestConn(t, srv, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateConnected, c.State())
	require.Equal(t, 1, srv.Dials())
	require.Equal(t, []string{EventConnected}, log.names(EventConnected))
}

func TestInitialConnectFailureIsNotRetried(t *testing.T) {
	srv := newServer(t)
	srv.RejectUpgrades(true)
	sched := &recordingScheduler{fire: true}
	c, log := newTestConn(t, srv, sched)

	require.Error(t, c.Connect(context.Background()))
	require.Equal(t, StateDisconnected, c.State())
	require.Empty(t, sched.Delays())
	require.Empty(t, log.names(EventConnected))
}

func TestSendWhenDisconnected(t *testing.T) {
	srv := newServer(t)
	c, _ := newTestConn(t, srv, nil)

	require.ErrorIs(t, c.Send(EventJoinChat, chatapi.ChatRef{ChatID: "c-1"}), ErrNotConnected)
	require.ErrorIs(t, c.RequestChatStats(), ErrNotConnected)
}

func TestInboundEventsAreDispatchedAndMalformedFramesDropped(t *testing.T) {
	srv := newServer(t)
	c, log := newTestConn(t, srv, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.PushRaw([]byte(`{{not json`))
	srv.PushRaw([]byte(`{"data":{"x":1}}`))
	srv.Push(EventStatusUpdate, chatapi.StatusUpdatePayload{ChatID: "c-1", Status: chatapi.StatusProcessing})

	require.Eventually(t, func() bool {
		return len(log.names(EventStatusUpdate)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ev, _ := log.last(EventStatusUpdate)
	var p chatapi.StatusUpdatePayload
	require.NoError(t, ev.Decode(&p))
	require.Equal(t, "c-1", p.ChatID)
	require.Equal(t, StateConnected, c.State())
}

func TestRequestChatStatsRoundTrip(t *testing.T) {
	srv := newServer(t)
	srv.SeedChat(chatapi.Chat{ID: "c-1"},
		chatapi.Message{Role: chatapi.RoleUser, Content: "hi"},
		chatapi.Message{Role: chatapi.RoleAssistant, Content: "hello"},
	)
	c, log := newTestConn(t, srv, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.RequestChatStats())

	require.Eventually(t, func() bool {
		_, ok := log.last(EventChatStats)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	ev, _ := log.last(EventChatStats)
	var st chatapi.ChatStatsPayload
	require.NoError(t, ev.Decode(&st))
	require.Equal(t, 1, st.TotalChats)
	require.Equal(t, 2, st.TotalMessages)
}

func TestSubscribeIsReferenceCounted(t *testing.T) {
	srv := newServer(t)
	c, _ := newTestConn(t, srv, nil)
	require.NoError(t, c.Connect(context.Background()))

	releaseA := c.Subscribe("c-1")
	releaseB := c.Subscribe("c-1")
	require.Equal(t, map[string]int{"c-1": 2}, c.Subscriptions())

	releaseA()
	releaseA()
	require.Equal(t, map[string]int{"c-1": 1}, c.Subscriptions())

	releaseB()
	require.Empty(t, c.Subscriptions())

	require.Eventually(t, func() bool {
		return len(srv.ReceivedEvents(EventLeaveChat, EventUnsubscribeFromChat)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t,
		[]string{EventJoinChat, EventSubscribeToChat, EventLeaveChat, EventUnsubscribeFromChat},
		srv.ReceivedEvents(EventJoinChat, EventSubscribeToChat, EventLeaveChat, EventUnsubscribeFromChat),
	)
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	srv := newServer(t)
	sched := &recordingScheduler{fire: true}
	c, log := newTestConn(t, srv, sched)
	require.NoError(t, c.Connect(context.Background()))
	release := c.Subscribe("c-7")
	defer release()

	require.Eventually(t, func() bool { return len(srv.Subscriptions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.CloseClients(websocket.CloseInternalServerErr, "restart")

	require.Eventually(t, func() bool {
		return len(log.names(EventConnected)) == 2 && c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(srv.ReceivedEvents(EventJoinChat)) == 2 && len(srv.ReceivedEvents(EventSubscribeToChat)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []time.Duration{time.Second}, sched.Delays())

	ev, ok := log.last(EventDisconnected)
	require.True(t, ok)
	var p chatapi.DisconnectedPayload
	require.NoError(t, ev.Decode(&p))
	require.Equal(t, websocket.CloseInternalServerErr, p.Code)
}

func TestConnectedIsDispatchedAfterSubscriptionsAreReplayed(t *testing.T) {
	srv := newServer(t)
	sched := &recordingScheduler{fire: true}
	d := NewDispatcher()
	opts := DefaultOptions(srv.WebSocketURL())
	opts.HandshakeTimeout = 2 * time.Second
	c := NewConn(opts, d, WithScheduler(sched.schedule))
	t.Cleanup(c.Disconnect)

	var connects atomic.Int32
	d.On(EventConnected, Listen(func(_ context.Context, _ Event) error {
		if connects.Add(1) > 1 {
			return c.RequestChatMessages("c-7", 50, 0)
		}
		return nil
	}))

	require.NoError(t, c.Connect(context.Background()))
	release := c.Subscribe("c-7")
	defer release()
	require.Eventually(t, func() bool { return len(srv.Subscriptions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.CloseClients(websocket.CloseInternalServerErr, "restart")
	require.Eventually(t, func() bool {
		return len(srv.ReceivedEvents(EventGetChatMessages)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t,
		[]string{
			EventJoinChat, EventSubscribeToChat,
			EventJoinChat, EventSubscribeToChat, EventGetChatMessages,
		},
		srv.ReceivedEvents(EventJoinChat, EventSubscribeToChat, EventGetChatMessages))
}

func TestReconnectBackoffUntilExhausted(t *testing.T) {
	srv := newServer(t)
	sched := &recordingScheduler{fire: true}
	c, log := newTestConn(t, srv, sched)
	require.NoError(t, c.Connect(context.Background()))

	srv.RejectUpgrades(true)
	srv.CloseClients(websocket.CloseGoingAway, "shutdown")

	require.Eventually(t, func() bool {
		_, ok := log.last(EventError)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, StateDisconnected, c.State())
	require.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, sched.Delays())
	require.Equal(t, 6, srv.Dials())
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	srv := newServer(t)
	sched := &recordingScheduler{fire: true}
	c, log := newTestConn(t, srv, sched)
	require.NoError(t, c.Connect(context.Background()))

	srv.CloseClients(websocket.CloseNormalClosure, "bye")
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, sched.Delays())
	require.Equal(t, []string{EventConnected, EventDisconnected}, log.names(EventConnected, EventDisconnected))
	require.Empty(t, log.names(EventError))
}

func TestDisconnectCancelsScheduledReconnect(t *testing.T) {
	srv := newServer(t)
	sched := &recordingScheduler{}
	c, _ := newTestConn(t, srv, sched)
	require.NoError(t, c.Connect(context.Background()))

	srv.CloseClients(0, "")
	require.Eventually(t, func() bool {
		return c.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)

	c.Disconnect()
	require.Equal(t, StateDisconnected, c.State())

	sched.runPending()
	require.Equal(t, StateDisconnected, c.State())
	require.Equal(t, 1, srv.Dials())
}

func TestDisconnectSendsNormalClosure(t *testing.T) {
	srv := newServer(t)
	c, log := newTestConn(t, srv, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Disconnect()
	c.Disconnect()
	require.Equal(t, StateDisconnected, c.State())
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	ev, ok := log.last(EventDisconnected)
	require.True(t, ok)
	var p chatapi.DisconnectedPayload
	require.NoError(t, ev.Decode(&p))
	require.Equal(t, websocket.CloseNormalClosure, p.Code)
	require.Equal(t, []string{EventDisconnected}, log.names(EventDisconnected))
}
