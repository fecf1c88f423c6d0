package network

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

// Inbound is a datagram that passed every check and decoded to a message.
type Inbound struct {
	From     netip.AddrPort
	Msg      protocol.Message
	Body     protocol.Body
	Sequence uint16
	// Fresh is false for packets older than the newest seen from From.
	Fresh bool
	At    time.Time
}

// Handler receives what Poll classifies as valid. Both methods run on the
// goroutine calling Poll.
type Handler interface {
	HandleMessage(in Inbound)
	HandleTimeout(addr netip.AddrPort)
}

// DropStats counts what the core discarded.
type DropStats struct {
	RateLimited   uint64 `json:"rate_limited"`
	QueueFull     uint64 `json:"queue_full"`
	SendQueueFull uint64 `json:"send_queue_full"`
	Oversize      uint64 `json:"oversize"`
	WriteErrors   uint64 `json:"write_errors"`
	Frame         uint64 `json:"frame"`
	Mismatch      uint64 `json:"protocol_mismatch"`
	Duplicate     uint64 `json:"duplicate"`
	TooOld        uint64 `json:"too_old"`
	Decode        uint64 `json:"decode"`
	HandlerPanic  uint64 `json:"handler_panic"`
}

// Total sums every counter.
func (d DropStats) Total() uint64 {
	return d.RateLimited + d.QueueFull + d.SendQueueFull + d.Oversize + d.WriteErrors +
		d.Frame + d.Mismatch + d.Duplicate + d.TooOld + d.Decode + d.HandlerPanic
}

// Endpoint is the boundary between raw datagrams and typed messages. It
// stamps outgoing packets with sequence and ack state and runs every
// incoming datagram through the frame, tag, sequence and message checks.
// Endpoint is owned by the tick goroutine.
type Endpoint struct {
	transport *Transport
	tag       uint16
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	peers map[netip.AddrPort]*peer
	drops DropStats
	buf   []Event
	now   func() time.Time
}

// NewEndpoint wraps a started or not yet started transport. tag is the
// protocol id stamped on and required from every packet.
func NewEndpoint(t *Transport, tag uint16) *Endpoint {
	return &Endpoint{
		transport: t,
		tag:       tag,
		logger:    log.With().Str("component", "endpoint").Logger(),
		metrics:   t.metrics,
		peers:     make(map[netip.AddrPort]*peer),
		now:       time.Now,
	}
}

// Transport returns the underlying transport.
func (e *Endpoint) Transport() *Transport {
	return e.transport
}

// Poll drains the transport once and feeds h. It returns the number of
// events taken from the queue.
func (e *Endpoint) Poll(h Handler) int {
	e.buf = e.transport.Drain(e.buf[:0])
	for i := range e.buf {
		ev := e.buf[i]
		switch ev.Kind {
		case EventDatagram:
			e.receive(ev, h)
		case EventTimeout:
			e.dispatch(ev.From, func() { h.HandleTimeout(ev.From) })
			e.drop(ev.From)
		}
		e.buf[i] = Event{}
	}
	return len(e.buf)
}

func (e *Endpoint) receive(ev Event, h Handler) {
	pkt, err := protocol.Open(ev.Data, e.tag)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocolMismatch) {
			e.drops.Mismatch++
			e.metrics.Drop(telemetry.DropMismatch)
			return
		}
		e.drops.Frame++
		e.metrics.Drop(telemetry.DropFrame)
		e.logger.Debug().Err(err).Str("remote", ev.From.String()).Msg("bad frame dropped")
		return
	}

	p, known := e.peers[ev.From]
	if !known {
		p = &peer{addr: ev.From}
		e.peers[ev.From] = p
	}
	if !p.watched {
		e.transport.Watch(ev.From)
		p.watched = true
	}

	obs := p.recv.Observe(pkt.Sequence)
	if obs == protocol.ObservedDuplicate {
		e.drops.Duplicate++
		e.metrics.Drop(telemetry.DropDuplicate)
		e.logger.Trace().Str("remote", ev.From.String()).Uint16("seq", pkt.Sequence).Msg("duplicate dropped")
		return
	}
	if obs == protocol.ObservedTooOld {
		e.drops.TooOld++
		e.metrics.Drop(telemetry.DropTooOld)
		e.logger.Trace().Str("remote", ev.From.String()).Uint16("seq", pkt.Sequence).Msg("too old, dropped")
		return
	}
	p.received++
	p.lastRecv = ev.At

	if acked := p.sent.Acknowledge(pkt.Ack, pkt.AckBits, ev.At); len(acked) > 0 {
		e.metrics.Acked.Add(float64(len(acked)))
		e.metrics.RTT.Observe(p.sent.RTT().Seconds())
	}

	msg, err := protocol.DecodeMessage(pkt.Payload)
	if err != nil {
		e.rejectMessage(ev.From, err)
		return
	}
	body, err := protocol.Parse(msg)
	if err != nil {
		e.rejectMessage(ev.From, err)
		return
	}

	in := Inbound{
		From:     ev.From,
		Msg:      msg,
		Body:     body,
		Sequence: pkt.Sequence,
		Fresh:    obs == protocol.ObservedFresh,
		At:       ev.At,
	}
	e.dispatch(ev.From, func() { h.HandleMessage(in) })
}

func (e *Endpoint) rejectMessage(from netip.AddrPort, err error) {
	e.drops.Decode++
	e.metrics.Drop(telemetry.DropDecode)
	e.logger.Debug().Err(err).Str("remote", from.String()).Msg("undecodable message dropped")
}

// dispatch runs fn and turns a panic into a counted drop so one bad
// message cannot stop the tick.
func (e *Endpoint) dispatch(from netip.AddrPort, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.drops.HandlerPanic++
			e.metrics.Drop(telemetry.DropHandlerPanic)
			e.logger.Error().
				Str("remote", from.String()).
				Interface("panic", r).
				Msg("recovered from handler panic")
		}
	}()
	fn()
}

// Send encodes msg into a packet stamped with the next sequence number and
// the current ack state for to, and hands it to the transport.
func (e *Endpoint) Send(to netip.AddrPort, msg protocol.Message) error {
	p, ok := e.peers[to]
	if !ok {
		p = &peer{addr: to}
		e.peers[to] = p
	}

	ack, bits := p.recv.Ack()
	pkt, err := protocol.NewPacket(e.tag, p.nextSeq, ack, bits, msg.Bytes())
	if err != nil {
		return fmt.Errorf("failed to build %s packet: %w", msg.Kind, err)
	}

	now := e.now()
	p.sent.Record(p.nextSeq, now)
	p.nextSeq++
	p.sentPkts++
	p.lastSend = now

	return e.transport.Send(to, pkt.Bytes())
}

// Forget drops all state kept for addr and stops watching it.
func (e *Endpoint) Forget(addr netip.AddrPort) {
	e.drop(addr)
	e.transport.Unwatch(addr)
}

func (e *Endpoint) drop(addr netip.AddrPort) {
	delete(e.peers, addr)
}

// Peer returns the sequence state of addr.
func (e *Endpoint) Peer(addr netip.AddrPort) (PeerStats, bool) {
	p, ok := e.peers[addr]
	if !ok {
		return PeerStats{}, false
	}
	return p.stats(), true
}

// Peers returns the number of remotes with sequence state.
func (e *Endpoint) Peers() int {
	return len(e.peers)
}

// DropStats merges the transport's and the endpoint's counters.
func (e *Endpoint) DropStats() DropStats {
	d := e.drops
	t := &e.transport.drops
	d.RateLimited = t.rateLimited.Load()
	d.QueueFull = t.queueFull.Load()
	d.SendQueueFull = t.sendQueueFull.Load()
	d.Oversize = t.oversize.Load()
	d.WriteErrors = t.writeErrors.Load()
	return d
}
