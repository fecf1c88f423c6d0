package server

import (
	"context"
	"testing"
	"time"

	"github.com/micromayhem/mayhem/internal/events"
)

func TestTickMonitorRecord(t *testing.T) {
	tm := NewTickMonitor(TickMonitorConfig{LongTick: 10 * time.Millisecond, HistorySize: 2}, events.NewEventBus())
	now := time.Now()
	tm.now = func() time.Time { return now }

	if tm.Record(1, 5*time.Millisecond, now) {
		t.Fatal("short tick recorded")
	}
	for i, d := range []time.Duration{10, 30, 20} {
		if !tm.Record(uint64(i+2), d*time.Millisecond, now) {
			t.Fatalf("tick of %dms not recorded", d)
		}
	}

	stats := tm.Stats()
	if stats.TotalEvents != 3 || stats.MaxDuration != 30*time.Millisecond || stats.AvgDuration != 20*time.Millisecond {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.History) != 2 || stats.History[0].Tick != 3 {
		t.Fatalf("history = %+v", stats.History)
	}
	if stats.HourlyBuckets[now.Hour()] != 3 {
		t.Fatalf("buckets = %v", stats.HourlyBuckets)
	}
}

func TestTickMonitorThresholds(t *testing.T) {
	bus := events.NewEventBus()
	got := subscribe(bus, events.EventLongTick)

	tm := NewTickMonitor(TickMonitorConfig{
		LongTick:          time.Millisecond,
		WarningThreshold:  2,
		CriticalThreshold: 3,
	}, bus)
	now := time.Now()
	tm.now = func() time.Time { return now }

	tm.Record(1, 2*time.Millisecond, now.Add(-2*time.Hour))
	tm.Record(2, 2*time.Millisecond, now.Add(-time.Minute))
	if alerts := tm.CheckThresholds(); len(alerts) != 0 {
		t.Fatalf("alerts below threshold: %+v", alerts)
	}

	tm.Record(3, 2*time.Millisecond, now)
	alerts := tm.CheckThresholds()
	if len(alerts) != 1 || alerts[0].Level != "warning" || alerts[0].Events != 2 {
		t.Fatalf("alerts = %+v", alerts)
	}

	tm.Record(4, 7*time.Millisecond, now)
	tm.check(context.Background())
	bus.Wait()

	evs := got.all()
	if len(evs) != 1 {
		t.Fatalf("got %d long_tick events", len(evs))
	}
	p := evs[0].Payload.(events.LongTickPayload)
	if p.Level != "critical" || p.Count != 3 || p.Tick != 4 || p.Duration != 7*time.Millisecond {
		t.Fatalf("payload = %+v", p)
	}
}
