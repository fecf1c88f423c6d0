package network

import (
	"net/netip"
	"time"

	"github.com/micromayhem/mayhem/internal/protocol"
)

// peer is the sequence state kept for one remote.
type peer struct {
	addr     netip.AddrPort
	recv     protocol.AckState
	sent     protocol.SentWindow
	nextSeq  uint16
	lastRecv time.Time
	lastSend time.Time
	received uint64
	sentPkts uint64
	watched  bool
}

// PeerStats is a copy of one remote's sequence state.
type PeerStats struct {
	Addr         netip.AddrPort
	LastSequence uint16
	NextSequence uint16
	RTT          time.Duration
	Acked        uint64
	Received     uint64
	Sent         uint64
	LastReceived time.Time
	LastSent     time.Time
}

func (p *peer) stats() PeerStats {
	last, _ := p.recv.Ack()
	return PeerStats{
		Addr:         p.addr,
		LastSequence: last,
		NextSequence: p.nextSeq,
		RTT:          p.sent.RTT(),
		Acked:        p.sent.Acked(),
		Received:     p.received,
		Sent:         p.sentPkts,
		LastReceived: p.lastRecv,
		LastSent:     p.lastSend,
	}
}
