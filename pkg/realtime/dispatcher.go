package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener receives dispatched events. Implementations must be comparable
// (typically pointers) since the dispatcher keeps listeners in a set.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to a Listener. Use Listen to obtain one; the
// returned pointer is the identity used by On and Off.
type ListenerFunc struct {
	fn func(ctx context.Context, ev Event) error
}

func Listen(fn func(ctx context.Context, ev Event) error) *ListenerFunc {
	return &ListenerFunc{fn: fn}
}

func (l *ListenerFunc) HandleEvent(ctx context.Context, ev Event) error {
	if l == nil || l.fn == nil {
		return nil
	}
	return l.fn(ctx, ev)
}

// Dispatcher is a named multi-subscriber registry. It keeps no history.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string]map[Listener]struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: map[string]map[Listener]struct{}{}}
}

func (d *Dispatcher) On(event string, l Listener) {
	if d == nil || l == nil || event == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.listeners[event]
	if !ok {
		set = map[Listener]struct{}{}
		d.listeners[event] = set
	}
	set[l] = struct{}{}
}

func (d *Dispatcher) Off(event string, l Listener) {
	if d == nil || l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.listeners[event]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(d.listeners, event)
	}
}

// OnAll registers l for every inbound event and returns a function that
// removes those registrations.
func (d *Dispatcher) OnAll(l Listener, events ...string) func() {
	if len(events) == 0 {
		events = InboundEvents
	}
	for _, ev := range events {
		d.On(ev, l)
	}
	return func() {
		for _, ev := range events {
			d.Off(ev, l)
		}
	}
}

func (d *Dispatcher) Count(event string) int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[event])
}

// Dispatch delivers data to every listener of event. A failing listener does
// not prevent delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data json.RawMessage) {
	if d == nil {
		return
	}
	d.mu.RLock()
	set := d.listeners[event]
	targets := make([]Listener, 0, len(set))
	for l := range set {
		targets = append(targets, l)
	}
	d.mu.RUnlock()

	ev := Event{Name: event, Data: data}
	for _, l := range targets {
		d.deliver(ctx, l, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "dispatcher").
				Str("event", ev.Name).
				Str("panic", fmt.Sprint(r)).
				Msg("listener panicked")
		}
	}()
	if err := l.HandleEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "dispatcher").Str("event", ev.Name).Msg("listener failed")
	}
}
