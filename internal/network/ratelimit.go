package network

import (
	"net/netip"
	"sync"
	"time"
)

// rateTracker tracks per-source packet counts within a one second window.
type rateTracker struct {
	mu        sync.Mutex
	counts    map[netip.Addr]*rateBucket
	maxPerSec int
	now       func() time.Time
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

// newRateTracker creates a limiter; maxPerSec <= 0 disables it.
func newRateTracker(maxPerSec int) *rateTracker {
	return &rateTracker{
		counts:    make(map[netip.Addr]*rateBucket),
		maxPerSec: maxPerSec,
		now:       time.Now,
	}
}

func (rt *rateTracker) allow(src netip.Addr) bool {
	if rt.maxPerSec <= 0 {
		return true
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	b, exists := rt.counts[src]
	if !exists || now.Sub(b.windowStart) >= time.Second {
		rt.counts[src] = &rateBucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= rt.maxPerSec
}

// prune forgets sources whose window ended, so spoofed floods do not grow
// the map forever.
func (rt *rateTracker) prune() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	removed := 0
	for src, b := range rt.counts {
		if now.Sub(b.windowStart) >= time.Second {
			delete(rt.counts, src)
			removed++
		}
	}
	return removed
}
