// Package chatsession keeps one consistent transcript per chat while messages
// arrive from optimistic echo, the ask response and the realtime channel.
package chatsession

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
	"github.com/go-go-golems/docchat/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/docchat/pkg/realtime"
)

var (
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrEmptyMessage = errors.New("message is empty")
	ErrClosed       = errors.New("chat session closed")
)

// ChannelError is an error reported by the realtime channel or by a
// status_update of the active chat.
type ChannelError struct {
	Message string
}

func (e *ChannelError) Error() string {
	return "realtime: " + e.Message
}

type Phase string

const (
	PhaseNoChat  Phase = "no-chat"
	PhasePending Phase = "pending"
	PhaseHasChat Phase = "has-chat"
)

// Gateway is the part of the request/response client the coordinator uses.
type Gateway interface {
	AskWithChat(ctx context.Context, question, chatID string) (*gateway.AskResponse, error)
	GetChat(ctx context.Context, chatID string) (*chatapi.Chat, error)
	GetChatMessages(ctx context.Context, chatID string, limit, offset int) (*gateway.MessagePage, error)
}

// Transport is the part of the realtime connection the coordinator uses.
type Transport interface {
	Dispatcher() *realtime.Dispatcher
	State() realtime.State
	Subscribe(chatID string) func()
	RequestChatMessages(chatID string, limit, offset int) error
}

type Snapshot struct {
	ChatID          string
	Phase           Phase
	Chat            *chatapi.Chat
	Messages        []Entry
	Connection      realtime.State
	LoadingMessages bool
	LoadingChat     bool
	Sending         bool
	Status          string
	StatusMessage   string
	LastError       error
}

type Option func(*Coordinator)

func WithStore(s transcriptstore.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithNavigator sets the function called with the route of a newly adopted chat.
func WithNavigator(fn func(route string)) Option {
	return func(c *Coordinator) { c.navigate = fn }
}

func WithOnChatCreated(fn func(chatapi.Chat)) Option {
	return func(c *Coordinator) { c.onChatCreated = fn }
}

// WithOnChange registers fn to receive a snapshot after every state change.
// Calls never overlap and arrive in state order. Bursts of changes may be
// coalesced into one call carrying the latest state. fn may call back into
// the coordinator.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

func WithPageSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// Coordinator owns the transcript of the chat currently in view. All state is
// guarded by mu, which is never held across network calls.
type Coordinator struct {
	gw        Gateway
	transport Transport
	store     transcriptstore.Store
	pageSize  int
	sessionID string
	log       zerolog.Logger

	navigate      func(string)
	onChatCreated func(chatapi.Chat)
	onChange      func(Snapshot)

	ctx      context.Context
	cancel   context.CancelFunc
	listener *realtime.ListenerFunc
	unlisten func()

	mu               sync.Mutex
	closed           bool
	chatID           string
	phase            Phase
	chat             *chatapi.Chat
	entries          []Entry
	hasLoadedInitial bool
	// gen identifies the current load; view changes whenever the transcript
	// is replaced by another chat's
	gen             uint64
	view            uint64
	attempt         uint64
	sending         bool
	release         func()
	connection      realtime.State
	loadingMessages bool
	loadingChat     bool
	status          string
	statusMessage   string
	lastErr         error

	notifyMu   sync.Mutex
	notifying  bool
	notifyMore bool
}

func New(gw Gateway, transport Transport, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		gw:         gw,
		transport:  transport,
		pageSize:   100,
		sessionID:  uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		phase:      PhaseNoChat,
		connection: transport.State(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = log.With().Str("component", "chatsession").Str("session_id", c.sessionID).Logger()
	c.listener = realtime.Listen(c.handleEvent)
	c.unlisten = transport.Dispatcher().OnAll(c.listener)
	return c
}

func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		ChatID:          c.chatID,
		Phase:           c.phase,
		Messages:        append([]Entry(nil), c.entries...),
		Connection:      c.connection,
		LoadingMessages: c.loadingMessages,
		LoadingChat:     c.loadingChat,
		Sending:         c.sending,
		Status:          c.status,
		StatusMessage:   c.statusMessage,
		LastError:       c.lastErr,
	}
	if c.chat != nil {
		chat := *c.chat
		s.Chat = &chat
	}
	return s
}

// notify delivers from a single goroutine at a time. A caller that finds a
// delivery in flight leaves a mark for the deliverer to pick up.
func (c *Coordinator) notify() {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	c.notifyMore = true
	if c.notifying {
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true
	for c.notifyMore {
		c.notifyMore = false
		c.notifyMu.Unlock()
		c.onChange(c.Snapshot())
		c.notifyMu.Lock()
	}
	c.notifying = false
	c.notifyMu.Unlock()
}

// Close releases the listener and the chat subscription. It is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	release := c.release
	c.release = nil
	c.mu.Unlock()

	c.cancel()
	c.unlisten()
	if release != nil {
		release()
	}
}

// switchLocked replaces the transcript with the (empty) one of chatID and
// returns the new load generation. The returned function releases the
// previous chat's subscription and must be called after unlocking.
func (c *Coordinator) switchLocked(chatID string) (uint64, func()) {
	prev := c.release
	c.release = nil
	c.gen++
	c.view++
	c.chatID = chatID
	c.chat = nil
	c.entries = nil
	c.hasLoadedInitial = false
	c.status = ""
	c.statusMessage = ""
	c.lastErr = nil
	c.loadingMessages = chatID != ""
	c.loadingChat = chatID != ""
	if chatID == "" {
		c.phase = PhaseNoChat
	} else {
		c.phase = PhaseHasChat
	}
	if prev == nil {
		prev = func() {}
	}
	return c.gen, prev
}

// adoptLocked makes chatID the active chat without touching the transcript.
func (c *Coordinator) adoptLocked(chatID string) {
	c.chatID = chatID
	c.phase = PhaseHasChat
	c.hasLoadedInitial = false
	c.gen++
	for i := range c.entries {
		if c.entries[i].ChatID == "" {
			c.entries[i].ChatID = chatID
		}
	}
}

// acquire takes the chat subscription for chatID if it is still active and
// none is held, and asks the server for a message snapshot when connected.
func (c *Coordinator) acquire(chatID string) {
	c.mu.Lock()
	if c.closed || c.chatID != chatID {
		c.mu.Unlock()
		return
	}
	needSub := c.release == nil
	c.mu.Unlock()

	if needSub {
		release := c.transport.Subscribe(chatID)
		c.mu.Lock()
		if c.closed || c.chatID != chatID || c.release != nil {
			c.mu.Unlock()
			release()
		} else {
			c.release = release
			c.mu.Unlock()
		}
	}
	if c.transport.State() == realtime.StateConnected {
		if err := c.transport.RequestChatMessages(chatID, c.pageSize, 0); err != nil {
			c.log.Debug().Err(err).Str("chat_id", chatID).Msg("push message request failed")
		}
	}
}

func chatRoute(chatID string) string {
	return "/chat/" + chatID
}

func (c *Coordinator) announce(chat chatapi.Chat, navigate bool) {
	if navigate && c.navigate != nil {
		c.navigate(chatRoute(chat.ID))
	}
	if c.onChatCreated != nil {
		c.onChatCreated(chat)
	}
}
