package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/events"
)

// Recorder writes session events from the bus into the store.
type Recorder struct {
	store  *SessionStore
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewRecorder creates a recorder. Call Attach to start recording.
func NewRecorder(store *SessionStore, bus *events.EventBus) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: log.With().Str("component", "recorder").Logger(),
	}
}

// Attach subscribes to the bus.
func (r *Recorder) Attach() {
	r.bus.Subscribe(events.EventPlayerJoined, "db.playerJoined", r.onJoined)
	r.bus.Subscribe(events.EventPlayerLeft, "db.playerLeft", r.onLeft)
	r.bus.Subscribe(events.EventLongTick, "db.longTick", r.onLongTick)
}

// Detach unsubscribes from the bus.
func (r *Recorder) Detach() {
	r.bus.Unsubscribe(events.EventPlayerJoined, "db.playerJoined")
	r.bus.Unsubscribe(events.EventPlayerLeft, "db.playerLeft")
	r.bus.Unsubscribe(events.EventLongTick, "db.longTick")
}

func (r *Recorder) onJoined(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerJoinedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	if _, err := r.store.Join(p.ID, p.Name, p.Address, p.At); err != nil {
		return err
	}
	r.logger.Debug().Uint8("player_id", p.ID).Str("address", p.Address).Msg("join recorded")
	return nil
}

func (r *Recorder) onLeft(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerLeftPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	closed, err := r.store.Leave(p.ID, p.Address, p.Reason.String(), p.At)
	if err != nil {
		return err
	}
	if !closed {
		r.logger.Warn().Uint8("player_id", p.ID).Str("address", p.Address).Msg("leave without open session")
	}
	return nil
}

func (r *Recorder) onLongTick(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.LongTickPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	if p.Level == "" {
		return nil
	}
	msg := fmt.Sprintf("tick %d took %s (%d long ticks this hour)", p.Tick, p.Duration, p.Count)
	return r.store.CreateAlert(p.Level, msg, time.Now())
}
