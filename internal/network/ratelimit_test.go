package network

import (
	"net/netip"
	"testing"
	"time"
)

func TestRateTracker(t *testing.T) {
	now := time.Unix(100, 0)
	rt := newRateTracker(3)
	rt.now = func() time.Time { return now }

	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	for i := 0; i < 3; i++ {
		if !rt.allow(a) {
			t.Fatalf("packet %d refused", i)
		}
	}
	if rt.allow(a) {
		t.Fatal("fourth packet in one second allowed")
	}
	if !rt.allow(b) {
		t.Fatal("other source limited")
	}

	now = now.Add(time.Second)
	if !rt.allow(a) {
		t.Fatal("new window still limited")
	}

	now = now.Add(2 * time.Second)
	if n := rt.prune(); n != 2 {
		t.Fatalf("prune removed %d, want 2", n)
	}
}

func TestRateTrackerDisabled(t *testing.T) {
	rt := newRateTracker(0)
	a := netip.MustParseAddr("10.0.0.1")
	for i := 0; i < 1000; i++ {
		if !rt.allow(a) {
			t.Fatal("disabled limiter refused a packet")
		}
	}
}

func TestQueueDrainIsBounded(t *testing.T) {
	q := newQueue[int](2)
	if !q.push(1) || !q.push(2) {
		t.Fatal("push into empty queue failed")
	}
	if q.push(3) {
		t.Fatal("push into full queue succeeded")
	}
	got := q.drain(nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("drain = %v", got)
	}
	if q.len() != 0 {
		t.Fatalf("len after drain = %d", q.len())
	}
}
