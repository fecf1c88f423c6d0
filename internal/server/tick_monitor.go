package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/events"
)

// TickMonitorConfig holds the long-tick thresholds.
type TickMonitorConfig struct {
	// LongTick is the duration above which a tick is recorded.
	LongTick time.Duration
	// Long ticks per hour that raise a warning / critical alert.
	WarningThreshold  int
	CriticalThreshold int
	HistorySize       int
}

// LongTick is one recorded slow tick.
type LongTick struct {
	Tick      uint64        `json:"tick"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
}

// TickStats summarizes the long ticks seen so far.
type TickStats struct {
	Threshold      time.Duration `json:"threshold_ns"`
	TotalEvents    int           `json:"total_events"`
	EventsLastHour int           `json:"events_last_hour"`
	LastEventTime  time.Time     `json:"last_event_time"`
	MaxDuration    time.Duration `json:"max_duration_ns"`
	AvgDuration    time.Duration `json:"avg_duration_ns"`
	HourlyBuckets  map[int]int   `json:"hourly_buckets"`
	History        []LongTick    `json:"history"`
}

// TickAlert is a threshold crossing.
type TickAlert struct {
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// TickMonitor records ticks that overran their budget. Record is called by
// the tick goroutine; the rest may be called from anywhere.
type TickMonitor struct {
	mu       sync.RWMutex
	cfg      TickMonitorConfig
	eventBus *events.EventBus

	history       []LongTick
	total         int
	maxDuration   time.Duration
	sumDuration   time.Duration
	lastEvent     time.Time
	hourlyBuckets map[int]int
	now           func() time.Time
}

// NewTickMonitor creates a monitor. Zero thresholds get defaults.
func NewTickMonitor(cfg TickMonitorConfig, eventBus *events.EventBus) *TickMonitor {
	if cfg.LongTick <= 0 {
		cfg.LongTick = 25 * time.Millisecond
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 20
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 100
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	return &TickMonitor{
		cfg:           cfg,
		eventBus:      eventBus,
		history:       make([]LongTick, 0, 64),
		hourlyBuckets: make(map[int]int),
		now:           time.Now,
	}
}

// Record notes a tick; ticks within budget are ignored. It reports whether
// the tick was long.
func (tm *TickMonitor) Record(tick uint64, d time.Duration, at time.Time) bool {
	if d < tm.cfg.LongTick {
		return false
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.total++
	tm.lastEvent = at
	tm.sumDuration += d
	if d > tm.maxDuration {
		tm.maxDuration = d
	}
	tm.hourlyBuckets[at.Hour()]++

	tm.history = append(tm.history, LongTick{Tick: tick, Timestamp: at, Duration: d})
	if len(tm.history) > tm.cfg.HistorySize {
		tm.history = tm.history[len(tm.history)-tm.cfg.HistorySize:]
	}

	log.Debug().
		Str("component", "tick_monitor").
		Uint64("tick", tick).
		Dur("duration", d).
		Msg("long tick")
	return true
}

// eventsSince counts history entries after t. Callers hold the lock.
func (tm *TickMonitor) eventsSince(t time.Time) int {
	n := 0
	for _, e := range tm.history {
		if e.Timestamp.After(t) {
			n++
		}
	}
	return n
}

// Stats returns a copy of the collected data.
func (tm *TickMonitor) Stats() TickStats {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	stats := TickStats{
		Threshold:      tm.cfg.LongTick,
		TotalEvents:    tm.total,
		EventsLastHour: tm.eventsSince(tm.now().Add(-time.Hour)),
		LastEventTime:  tm.lastEvent,
		MaxDuration:    tm.maxDuration,
		HourlyBuckets:  make(map[int]int, len(tm.hourlyBuckets)),
		History:        append([]LongTick(nil), tm.history...),
	}
	if tm.total > 0 {
		stats.AvgDuration = tm.sumDuration / time.Duration(tm.total)
	}
	for k, v := range tm.hourlyBuckets {
		stats.HourlyBuckets[k] = v
	}
	return stats
}

// CheckThresholds evaluates the last hour against the alert thresholds.
func (tm *TickMonitor) CheckThresholds() []TickAlert {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	n := tm.eventsSince(tm.now().Add(-time.Hour))
	var level string
	switch {
	case n >= tm.cfg.CriticalThreshold:
		level = "critical"
	case n >= tm.cfg.WarningThreshold:
		level = "warning"
	default:
		return nil
	}
	return []TickAlert{{
		Level:   level,
		Events:  n,
		Message: fmt.Sprintf("%d ticks over %s in the last hour", n, tm.cfg.LongTick),
	}}
}

// Start runs periodic threshold checks and emits long_tick events until
// ctx is cancelled.
func (tm *TickMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.check(ctx)
		}
	}
}

func (tm *TickMonitor) check(ctx context.Context) {
	for _, alert := range tm.CheckThresholds() {
		log.Warn().
			Str("level", alert.Level).
			Int("events", alert.Events).
			Msg("tick threshold alert")

		stats := tm.Stats()
		var last LongTick
		if len(stats.History) > 0 {
			last = stats.History[len(stats.History)-1]
		}
		tm.eventBus.Emit(ctx, events.Event{
			Type:   events.EventLongTick,
			Source: "tick_monitor",
			Payload: events.LongTickPayload{
				Tick:     last.Tick,
				Duration: last.Duration,
				Level:    alert.Level,
				Count:    alert.Events,
			},
		})
	}
}
