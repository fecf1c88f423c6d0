package protocol

import "time"

// MoreRecent reports whether sequence a was sent after b, treating the
// 16-bit space as a circle. Exactly half the circle apart, the larger
// value is the more recent one.
func MoreRecent(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}

// Diff returns how far newer is ahead of older, modulo 2^16.
func Diff(newer, older uint16) uint16 {
	return newer - older
}

// UpdateAck folds an incoming sequence into the (ack, bits) pair. Bit n of
// bits set means packet ack-(n+1) was received.
func UpdateAck(ack uint16, bits uint32, incoming uint16) (uint16, uint32) {
	if incoming == ack {
		return ack, bits
	}
	if MoreRecent(incoming, ack) {
		gap := Diff(incoming, ack)
		if gap > 32 {
			return incoming, 0
		}
		return incoming, bits<<gap | 1<<(gap-1)
	}
	gap := Diff(ack, incoming)
	if gap >= 1 && gap <= 32 {
		bits |= 1 << (gap - 1)
	}
	return ack, bits
}

// Observation classifies a received sequence number.
type Observation int

const (
	// ObservedFresh is newer than anything seen before.
	ObservedFresh Observation = iota
	// ObservedStale is older than the latest but not seen before.
	ObservedStale
	// ObservedDuplicate was already recorded.
	ObservedDuplicate
	// ObservedTooOld is further behind the latest than the ack bitfield
	// reaches, so it cannot be told apart from a replay.
	ObservedTooOld
)

func (o Observation) String() string {
	switch o {
	case ObservedFresh:
		return "fresh"
	case ObservedStale:
		return "stale"
	case ObservedDuplicate:
		return "duplicate"
	case ObservedTooOld:
		return "too_old"
	default:
		return "unknown"
	}
}

// AckState is the receive side of one remote: the newest sequence seen and
// the bitfield of the 32 before it.
type AckState struct {
	ack         uint16
	bits        uint32
	initialized bool
}

// Observe records seq and reports how it relates to what was seen before.
// The first observed packet initializes the state.
func (s *AckState) Observe(seq uint16) Observation {
	if !s.initialized {
		s.ack, s.bits, s.initialized = seq, 0, true
		return ObservedFresh
	}
	if seq == s.ack {
		return ObservedDuplicate
	}
	if MoreRecent(seq, s.ack) {
		s.ack, s.bits = UpdateAck(s.ack, s.bits, seq)
		return ObservedFresh
	}
	gap := Diff(s.ack, seq)
	if gap > 32 {
		return ObservedTooOld
	}
	if s.bits&(1<<(gap-1)) != 0 {
		return ObservedDuplicate
	}
	s.ack, s.bits = UpdateAck(s.ack, s.bits, seq)
	return ObservedStale
}

// Ack returns the values to stamp on the next outgoing packet.
func (s *AckState) Ack() (uint16, uint32) {
	return s.ack, s.bits
}

// Initialized reports whether any packet was observed.
func (s *AckState) Initialized() bool {
	return s.initialized
}

// SentWindowSize is how many outgoing packets are remembered for
// acknowledgement. It must cover at least the 33 sequences one ack header
// can confirm.
const SentWindowSize = 256

type sentEntry struct {
	seq    uint16
	sentAt time.Time
	valid  bool
	acked  bool
}

// SentWindow is the send side of one remote: it remembers recent outgoing
// sequences and turns incoming (ack, bits) headers into newly acknowledged
// sequences and a smoothed round-trip time. Nothing is retransmitted.
type SentWindow struct {
	entries [SentWindowSize]sentEntry
	rtt     time.Duration
	sampled bool
	acked   uint64
}

// Record remembers that seq was sent at the given time.
func (w *SentWindow) Record(seq uint16, at time.Time) {
	w.entries[int(seq)%SentWindowSize] = sentEntry{seq: seq, sentAt: at, valid: true}
}

// Acknowledge applies an incoming ack header and returns the sequences it
// confirms for the first time.
func (w *SentWindow) Acknowledge(ack uint16, bits uint32, at time.Time) []uint16 {
	var out []uint16
	if w.confirm(ack, at) {
		out = append(out, ack)
	}
	for i := uint16(0); i < 32; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		seq := ack - (i + 1)
		if w.confirm(seq, at) {
			out = append(out, seq)
		}
	}
	return out
}

func (w *SentWindow) confirm(seq uint16, at time.Time) bool {
	e := &w.entries[int(seq)%SentWindowSize]
	if !e.valid || e.acked || e.seq != seq {
		return false
	}
	e.acked = true
	w.acked++

	sample := at.Sub(e.sentAt)
	if sample < 0 {
		sample = 0
	}
	if !w.sampled {
		w.rtt, w.sampled = sample, true
	} else {
		w.rtt += (sample - w.rtt) / 10
	}
	return true
}

// RTT returns the smoothed round-trip time, zero before the first ack.
func (w *SentWindow) RTT() time.Duration {
	return w.rtt
}

// Acked returns the number of sequences confirmed so far.
func (w *SentWindow) Acked() uint64 {
	return w.acked
}
