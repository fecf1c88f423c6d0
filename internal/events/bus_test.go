package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var joined, left atomic.Int32
	bus.Subscribe(EventPlayerJoined, "count_joined", func(ctx context.Context, e Event) error {
		if p, ok := e.Payload.(PlayerJoinedPayload); ok && p.Name == "Alice" {
			joined.Add(1)
		}
		return nil
	})
	bus.Subscribe(EventPlayerLeft, "count_left", func(ctx context.Context, e Event) error {
		left.Add(1)
		return nil
	})
	bus.Subscribe(EventPlayerJoined, "panics", func(ctx context.Context, e Event) error {
		panic("boom")
	})

	bus.Emit(context.Background(), Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{Name: "Alice"}})
	bus.Wait()

	if joined.Load() != 1 || left.Load() != 0 {
		t.Fatalf("joined=%d left=%d, want 1 / 0", joined.Load(), left.Load())
	}
	if delivered, failed := bus.Stats(); delivered != 1 || failed != 1 {
		t.Fatalf("Stats = %d delivered, %d failed, want 1 / 1", delivered, failed)
	}
	if n := bus.HandlerCount(EventPlayerJoined); n != 2 {
		t.Fatalf("HandlerCount = %d, want 2", n)
	}

	bus.Unsubscribe(EventPlayerJoined, "panics")
	if n := bus.HandlerCount(EventPlayerJoined); n != 1 {
		t.Fatalf("HandlerCount after Unsubscribe = %d, want 1", n)
	}
}

func TestSubscribeReplacesSameName(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var first, second atomic.Int32
	bus.Subscribe(EventPlayerLeft, "recorder", func(ctx context.Context, e Event) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe(EventPlayerLeft, "recorder", func(ctx context.Context, e Event) error {
		second.Add(1)
		if e.At.IsZero() {
			t.Error("event not stamped")
		}
		return nil
	})
	if n := bus.HandlerCount(EventPlayerLeft); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}

	if err := bus.EmitSync(context.Background(), Event{Type: EventPlayerLeft}); err != nil {
		t.Fatal(err)
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("first=%d second=%d, want 0 / 1", first.Load(), second.Load())
	}
}

func TestEmitSyncReportsPanic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("EmitSync err = %v, want ErrHandlerPanic", err)
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	want := errors.New("disk full")
	bus.Subscribe(EventLongTick, "fails", func(ctx context.Context, e Event) error { return want })

	if err := bus.EmitSync(context.Background(), Event{Type: EventLongTick}); !errors.Is(err, want) {
		t.Fatalf("EmitSync err = %v, want %v", err, want)
	}
	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("EmitSync without handlers err = %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "count", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.Done():
	default:
		t.Fatal("Done not closed")
	}

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.Wait()
	if calls.Load() != 0 {
		t.Fatal("handler ran after Stop")
	}
}

func TestLeaveReasonJSON(t *testing.T) {
	b, _ := LeaveTimeout.MarshalJSON()
	if string(b) != `"timeout"` {
		t.Fatalf("MarshalJSON = %s", b)
	}
	if LeaveReason(99).String() != "unknown" {
		t.Fatal("unknown reason should stringify as unknown")
	}
}
