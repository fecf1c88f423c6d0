package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrHandlerPanic wraps the value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("event handler panicked")

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans events out to named subscribers. The server tick publishes
// session and lag events on it; persistence and telemetry subscribe without
// ever blocking the tick.
type EventBus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[EventType][]subscriber
	done     chan struct{}
	stopped  bool
	inflight sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
}

type subscriber struct {
	name string
	fn   HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		logger:   log.With().Str("component", "events").Logger(),
		handlers: make(map[EventType][]subscriber),
		done:     make(chan struct{}),
	}
}

// Subscribe registers fn for eventType under name. Subscribing a name that
// is already registered for the type replaces the old handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, fn HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[eventType]
	for i := range subs {
		if subs[i].name == name {
			subs[i].fn = fn
			return
		}
	}
	eb.handlers[eventType] = append(subs, subscriber{name: name, fn: fn})

	eb.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[eventType]
	kept := subs[:0:0]
	for _, s := range subs {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.handlers, eventType)
		return
	}
	eb.handlers[eventType] = kept
}

// subscribers returns a copy of the handlers for event and registers them
// as in flight. ok is false once the bus is stopped.
func (eb *EventBus) subscribers(event *Event) ([]subscriber, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil, false
	}
	subs := eb.handlers[event.Type]
	if len(subs) == 0 {
		return nil, true
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	eb.inflight.Add(len(subs))
	return append([]subscriber(nil), subs...), true
}

// Emit hands the event to every subscriber on its own goroutine and returns
// immediately.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	subs, _ := eb.subscribers(&event)
	for _, s := range subs {
		go func() {
			defer eb.inflight.Done()
			eb.deliver(ctx, s, event)
		}()
	}
}

// EmitSync runs every subscriber and waits for them. It returns the first
// handler error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	subs, _ := eb.subscribers(&event)
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer eb.inflight.Done()
			errs[i] = eb.deliver(ctx, s, event)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) deliver(ctx context.Context, s subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			eb.failed.Add(1)
			eb.logger.Error().
				Err(err).
				Str("event", string(event.Type)).
				Str("source", event.Source).
				Str("handler", s.name).
				Msg("handler failed")
			return
		}
		eb.delivered.Add(1)
	}()
	return s.fn(ctx, event)
}

// Stop refuses further events and waits for in-flight handlers. Calling
// Stop twice is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.done)
	eb.mu.Unlock()

	eb.inflight.Wait()
	eb.logger.Debug().
		Uint64("delivered", eb.delivered.Load()).
		Uint64("failed", eb.failed.Load()).
		Msg("event bus stopped")
}

// Wait blocks until every handler started so far has returned.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}

// Done is closed when the bus is stopped.
func (eb *EventBus) Done() <-chan struct{} {
	return eb.done
}

// HandlerCount returns the number of handlers registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// Stats returns how many handler calls succeeded and failed.
func (eb *EventBus) Stats() (delivered, failed uint64) {
	return eb.delivered.Load(), eb.failed.Load()
}
