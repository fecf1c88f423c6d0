package protocol

import (
	"testing"
	"time"
)

func TestMoreRecent(t *testing.T) {
	tests := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 65535, true},
		{65535, 0, false},
		{100, 65500, true},
		{32768, 0, true},
		{0, 32768, false},
		{32769, 0, false},
		{0, 32769, true},
		{5, 5, false},
	}
	for _, tt := range tests {
		if got := MoreRecent(tt.a, tt.b); got != tt.want {
			t.Errorf("MoreRecent(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMoreRecentIsAntisymmetric(t *testing.T) {
	for _, b := range []uint16{0, 1, 1000, 32767, 32768, 65534, 65535} {
		for d := uint16(1); d < 32768; d += 97 {
			a := b + d
			if !MoreRecent(a, b) || MoreRecent(b, a) {
				t.Fatalf("a=%d b=%d: MoreRecent(a,b)=%v MoreRecent(b,a)=%v", a, b, MoreRecent(a, b), MoreRecent(b, a))
			}
		}
	}
}

func TestDiff(t *testing.T) {
	for _, tt := range [][2]uint16{{3, 0}, {2, 65535}, {1, 65534}} {
		if got := Diff(tt[0], tt[1]); got != 3 {
			t.Errorf("Diff(%d, %d) = %d, want 3", tt[0], tt[1], got)
		}
	}
}

func TestUpdateAck(t *testing.T) {
	ack, bits := UpdateAck(10, 0, 12)
	if ack != 12 || bits != 0b10 {
		t.Fatalf("after 12: ack=%d bits=%b, want 12 / 10", ack, bits)
	}
	ack, bits = UpdateAck(ack, bits, 11)
	if ack != 12 || bits != 0b11 {
		t.Fatalf("after 11: ack=%d bits=%b, want 12 / 11", ack, bits)
	}

	tests := []struct {
		name     string
		ack      uint16
		bits     uint32
		incoming uint16
		wantAck  uint16
		wantBits uint32
	}{
		{"same", 5, 0b1, 5, 5, 0b1},
		{"wrap forward", 65535, 0, 1, 1, 0b10},
		{"gap 32", 0, 0b1, 32, 32, 1 << 31},
		{"gap 33 clears", 0, 0xFFFFFFFF, 33, 33, 0},
		{"old gap 32", 100, 0, 68, 100, 1 << 31},
		{"old gap 33", 100, 0, 67, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, bits := UpdateAck(tt.ack, tt.bits, tt.incoming)
			if ack != tt.wantAck || bits != tt.wantBits {
				t.Fatalf("UpdateAck = (%d, %b), want (%d, %b)", ack, bits, tt.wantAck, tt.wantBits)
			}
		})
	}
}

func TestAckStateObserve(t *testing.T) {
	var s AckState
	if s.Initialized() {
		t.Fatal("zero AckState initialized")
	}

	steps := []struct {
		seq  uint16
		want Observation
	}{
		{65534, ObservedFresh},
		{65534, ObservedDuplicate},
		{1, ObservedFresh},
		{65535, ObservedStale},
		{65535, ObservedDuplicate},
		{0, ObservedStale},
		{2, ObservedFresh},
		{60000, ObservedTooOld},
		{60000, ObservedTooOld},
	}
	for i, st := range steps {
		if got := s.Observe(st.seq); got != st.want {
			t.Fatalf("step %d: Observe(%d) = %v, want %v", i, st.seq, got, st.want)
		}
	}

	ack, bits := s.Ack()
	// 2 latest; 1, 0, 65535, 65534 are 1..4 behind.
	if ack != 2 || bits != 0b1111 {
		t.Fatalf("Ack = (%d, %b), want (2, 1111)", ack, bits)
	}
}

func TestSentWindowAcknowledge(t *testing.T) {
	var w SentWindow
	base := time.Unix(1000, 0)
	for seq := uint16(65530); seq != 4; seq++ {
		w.Record(seq, base)
	}

	got := w.Acknowledge(2, 0b101, base.Add(100*time.Millisecond))
	want := []uint16{2, 1, 65535}
	if len(got) != len(want) {
		t.Fatalf("acked %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("acked %v, want %v", got, want)
		}
	}
	if w.RTT() != 100*time.Millisecond {
		t.Fatalf("RTT = %v, want 100ms", w.RTT())
	}

	// The same header again confirms nothing new.
	if again := w.Acknowledge(2, 0b101, base.Add(time.Second)); len(again) != 0 {
		t.Fatalf("re-ack returned %v", again)
	}
	if w.Acked() != 3 {
		t.Fatalf("Acked = %d, want 3", w.Acked())
	}

	// Sequences never recorded are ignored.
	if none := w.Acknowledge(40000, 0, base); len(none) != 0 {
		t.Fatalf("unknown ack returned %v", none)
	}
}

func TestAckStateTooOldIsNeverDelivered(t *testing.T) {
	var s AckState
	s.Observe(100)
	for i := 0; i < 3; i++ {
		if got := s.Observe(50); got != ObservedTooOld {
			t.Fatalf("copy %d: Observe(50) = %v, want too_old", i, got)
		}
	}
	if got := s.Observe(68); got != ObservedStale {
		t.Fatalf("Observe(68) = %v, want stale", got)
	}
	if got := s.Observe(67); got != ObservedTooOld {
		t.Fatalf("Observe(67) = %v, want too_old", got)
	}
	if ack, bits := s.Ack(); ack != 100 || bits != 1<<31 {
		t.Fatalf("Ack = (%d, %b)", ack, bits)
	}
}
