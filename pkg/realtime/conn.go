// Package realtime owns the single persistent channel to the chat service and
// the event dispatcher layered over its inbound frames.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/metrics"
)

var ErrNotConnected = errors.New("realtime channel not connected")

var errSuperseded = errors.New("connect superseded")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer is the handle of a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The default is time.AfterFunc.
type Scheduler func(d time.Duration, f func()) Timer

type Options struct {
	URL              string
	Header           http.Header
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		MaxAttempts:      5,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

type ConnOption func(*Conn)

func WithScheduler(s Scheduler) ConnOption {
	return func(c *Conn) {
		if s != nil {
			c.schedule = s
		}
	}
}

func WithLogger(l zerolog.Logger) ConnOption {
	return func(c *Conn) {
		c.log = l
	}
}

// Conn is the process-wide realtime channel. Construct it once and share it;
// it holds no chat transcript state.
type Conn struct {
	opts       Options
	dispatcher *Dispatcher
	dialer     *websocket.Dialer
	schedule   Scheduler
	log        zerolog.Logger
	baseCtx    context.Context

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	gen      uint64
	dialSeq  uint64
	attempts int
	timer    Timer
	manual   bool
	subs     map[string]int

	writeMu sync.Mutex
}

func NewConn(opts Options, d *Dispatcher, options ...ConnOption) *Conn {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if d == nil {
		d = NewDispatcher()
	}
	c := &Conn{
		opts:       opts,
		dispatcher: d,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		schedule: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		log:      log.With().Str("component", "realtime").Logger(),
		baseCtx:  context.Background(),
		subs:     map[string]int{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Conn) Dispatcher() *Dispatcher {
	return c.dispatcher
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect opens the channel. It returns nil without side effects when the
// channel is already connected or a connect is in progress. A failed initial
// connect is not retried automatically.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.stopTimerLocked()
	c.dialSeq++
	seq := c.dialSeq
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Info().Str("url", c.opts.URL).Msg("connecting")
	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if seq == c.dialSeq {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("connect failed")
		return err
	}
	return c.install(ws, seq)
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.opts.URL)
	}
	return ws, nil
}

func (c *Conn) install(ws *websocket.Conn, seq uint64) error {
	c.mu.Lock()
	if seq != c.dialSeq || c.manual {
		c.mu.Unlock()
		_ = ws.Close()
		return errSuperseded
	}
	c.ws = ws
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.setStateLocked(StateConnected)
	chats := make([]string, 0, len(c.subs))
	for id := range c.subs {
		chats = append(chats, id)
	}
	c.mu.Unlock()

	c.log.Info().Int("subscriptions", len(chats)).Msg("connected")
	go c.readLoop(ws, gen)

	// listeners of connected may request messages for a held chat; the
	// server needs the room joined first
	for _, id := range chats {
		c.sendSubscribe(id)
	}
	c.dispatcher.Dispatch(c.baseCtx, EventConnected, mustPayload(chatapi.ConnectedPayload{Message: "Connected to realtime channel"}))
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, gen, err)
			return
		}
		ev, err := decodeFrame(data)
		if err != nil {
			metrics.RealtimeFramesDropped.Inc()
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		metrics.RealtimeEvents.WithLabelValues("in", ev.Name).Inc()
		c.log.Debug().Str("event", ev.Name).Msg("received event")
		c.dispatcher.Dispatch(c.baseCtx, ev.Name, ev.Data)
	}
}

func (c *Conn) handleClose(ws *websocket.Conn, gen uint64, err error) {
	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
		reason = ce.Text
	}
	_ = ws.Close()

	c.mu.Lock()
	if gen != c.gen || c.manual {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	reconnect := code != websocket.CloseNormalClosure && c.attempts < c.opts.MaxAttempts
	var delay time.Duration
	var attempt int
	if reconnect {
		attempt, delay = c.scheduleReconnectLocked()
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	c.log.Info().Int("code", code).Str("reason", reason).Msg("disconnected")
	c.dispatcher.Dispatch(c.baseCtx, EventDisconnected, mustPayload(chatapi.DisconnectedPayload{Code: code, Reason: reason}))
	if reconnect {
		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	} else if code != websocket.CloseNormalClosure {
		c.exhausted(code)
	}
}

func (c *Conn) scheduleReconnectLocked() (int, time.Duration) {
	c.attempts++
	attempt := c.attempts
	delay := Backoff(c.opts.BaseDelay, c.opts.MaxDelay, attempt)
	c.setStateLocked(StateReconnecting)
	c.stopTimerLocked()
	c.timer = c.schedule(delay, c.reconnect)
	metrics.RealtimeReconnects.Inc()
	return attempt, delay
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	if c.manual || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.dialSeq++
	seq := c.dialSeq
	attempt := c.attempts
	c.mu.Unlock()

	ctx := c.baseCtx
	var cancel context.CancelFunc
	if c.opts.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}
	ws, err := c.dial(ctx)
	if err == nil {
		if err := c.install(ws, seq); err != nil && !errors.Is(err, errSuperseded) {
			c.log.Warn().Err(err).Msg("reconnect install failed")
		}
		return
	}

	c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	c.mu.Lock()
	if c.manual || seq != c.dialSeq {
		c.mu.Unlock()
		return
	}
	retry := c.attempts < c.opts.MaxAttempts
	if retry {
		attempt, delay := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
		return
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.exhausted(websocket.CloseAbnormalClosure)
}

func (c *Conn) exhausted(code int) {
	c.log.Error().Int("code", code).Int("max_attempts", c.opts.MaxAttempts).Msg("giving up on realtime channel")
	c.dispatcher.Dispatch(c.baseCtx, EventError, mustPayload(chatapi.ErrorPayload{
		Error: fmt.Sprintf("realtime channel lost (code %d), reconnect attempts exhausted", code),
	}))
}

// Disconnect closes the channel with a normal closure and cancels any pending
// reconnect. It is safe to call when already disconnected.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.dialSeq++
	c.gen++
	c.stopTimerLocked()
	ws := c.ws
	c.ws = nil
	wasConnected := c.state == StateConnected
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if ws == nil {
		return
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client disconnect"),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = ws.Close()

	c.log.Info().Msg("disconnected by client")
	if wasConnected {
		c.dispatcher.Dispatch(c.baseCtx, EventDisconnected, mustPayload(chatapi.DisconnectedPayload{
			Code:   websocket.CloseNormalClosure,
			Reason: "Client disconnect",
		}))
	}
}

// Send frames and writes one event. It never buffers: when the channel is not
// connected the event is dropped with a warning and ErrNotConnected.
func (c *Conn) Send(event string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if state != StateConnected || ws == nil {
		c.log.Warn().Str("event", event).Str("state", state.String()).Msg("not connected, cannot send event")
		return ErrNotConnected
	}
	b, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrapf(err, "send %s", event)
	}
	metrics.RealtimeEvents.WithLabelValues("out", event).Inc()
	c.log.Debug().Str("event", event).Msg("sent event")
	return nil
}

func (c *Conn) setStateLocked(s State) {
	c.state = s
	metrics.RealtimeState.Set(float64(s))
}

func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
