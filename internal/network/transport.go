// Package network moves Micro Mayhem datagrams between the socket and the
// tick goroutine. Transport owns the socket and its goroutines, Endpoint
// keeps the per-remote sequence state and classifies what arrives, and
// Registry maps remotes to client ids.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

// Transport defaults.
const (
	DefaultQueueSize        = 1024
	DefaultMaxPacketsPerSec = 240
	DefaultTimeout          = 5 * time.Second
	minWatchInterval        = 20 * time.Millisecond
)

var (
	ErrNotStarted     = errors.New("transport not started")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrAlreadyStarted = errors.New("transport already started")
)

// EventKind distinguishes what the reader and watcher hand to the tick.
type EventKind uint8

const (
	// EventDatagram carries raw bytes from a remote.
	EventDatagram EventKind = iota
	// EventTimeout reports a watched remote that went silent.
	EventTimeout
)

// Event is one item of the inbound queue.
type Event struct {
	Kind EventKind
	From netip.AddrPort
	Data []byte
	At   time.Time
}

type outgoing struct {
	to   netip.AddrPort
	data []byte
}

// TransportConfig holds the socket settings.
type TransportConfig struct {
	// ListenAddr is the local UDP address, e.g. ":30000" or "127.0.0.1:0".
	ListenAddr       string
	QueueSize        int
	MaxPacketsPerSec int
	// Timeout is how long a watched remote may stay silent.
	Timeout time.Duration
	Metrics *telemetry.Metrics
}

type transportDrops struct {
	rateLimited   atomic.Uint64
	queueFull     atomic.Uint64
	sendQueueFull atomic.Uint64
	oversize      atomic.Uint64
	writeErrors   atomic.Uint64
}

// Transport runs the UDP socket. The reader goroutine only copies bytes
// into the inbound queue; decoding happens on the tick goroutine through
// Drain. Sends are handed to the writer goroutine and never block.
type Transport struct {
	cfg     TransportConfig
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	conn     *net.UDPConn
	local    netip.AddrPort
	inbound  *queue[Event]
	outbound *queue[outgoing]
	limiter  *rateTracker

	mu      sync.Mutex
	watched map[netip.AddrPort]time.Time // remote -> last datagram

	drops   transportDrops
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
	now     func() time.Time
}

// NewTransport creates a transport; nothing is bound until Start.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Transport{
		cfg:      cfg,
		logger:   log.With().Str("component", "transport").Logger(),
		metrics:  cfg.Metrics,
		inbound:  newQueue[Event](cfg.QueueSize),
		outbound: newQueue[outgoing](cfg.QueueSize),
		limiter:  newRateTracker(cfg.MaxPacketsPerSec),
		watched:  make(map[netip.AddrPort]time.Time),
		now:      time.Now,
	}
}

// Start binds the IPv4 socket and launches the reader, writer and timeout
// watcher. They stop when ctx is cancelled or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	if t.started.Swap(true) {
		return ErrAlreadyStarted
	}
	ctx, t.cancel = context.WithCancel(ctx)

	lc := ListenConfig(udpSocketOptions(t.cfg.QueueSize))
	pc, err := lc.ListenPacket(ctx, "udp4", t.cfg.ListenAddr)
	if err != nil {
		t.cancel()
		return fmt.Errorf("failed to bind UDP %s: %w", t.cfg.ListenAddr, err)
	}
	t.conn = pc.(*net.UDPConn)
	t.local = unmap(t.conn.LocalAddr().(*net.UDPAddr).AddrPort())

	t.logger.Info().Str("addr", t.local.String()).Msg("transport listening")

	t.wg.Add(3)
	go t.readLoop(ctx)
	go t.writeLoop(ctx)
	go t.watchLoop(ctx)

	// Close when context is cancelled
	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()

	return nil
}

// Stop shuts the socket and waits for the goroutines to finish.
func (t *Transport) Stop() {
	if !t.started.Load() || t.stopped.Swap(true) {
		return
	}
	t.cancel()
	t.conn.Close()
	t.wg.Wait()
	t.logger.Info().Msg("transport stopped")
}

// LocalAddr returns the bound address; valid after Start.
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.local
}

// Drain appends every queued event to buf without blocking.
func (t *Transport) Drain(buf []Event) []Event {
	return t.inbound.drain(buf)
}

// Send hands a datagram to the writer goroutine. It never blocks; when the
// outbound queue is full the datagram is dropped and ErrSendQueueFull
// returned.
func (t *Transport) Send(to netip.AddrPort, data []byte) error {
	if !t.started.Load() {
		return ErrNotStarted
	}
	if !t.outbound.push(outgoing{to: to, data: data}) {
		t.drops.sendQueueFull.Add(1)
		t.metrics.Drop(telemetry.DropSendQueueFull)
		return ErrSendQueueFull
	}
	return nil
}

// Watch starts timeout tracking for addr.
func (t *Transport) Watch(addr netip.AddrPort) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[addr]; !ok {
		t.watched[addr] = t.now()
	}
}

// Unwatch stops timeout tracking for addr.
func (t *Transport) Unwatch(addr netip.AddrPort) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watched, addr)
}

// Watched returns the number of remotes under timeout tracking.
func (t *Transport) Watched() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watched)
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	// One spare byte tells an oversize datagram from a maximal one.
	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Debug().Err(err).Msg("UDP read error")
			continue
		}
		from = unmap(from)

		t.metrics.PacketsReceived.Inc()
		t.metrics.BytesReceived.Add(float64(n))

		if !t.limiter.allow(from.Addr()) {
			t.drops.rateLimited.Add(1)
			t.metrics.Drop(telemetry.DropRateLimited)
			continue
		}
		if n > protocol.MaxPacketSize {
			t.drops.oversize.Add(1)
			t.metrics.Drop(telemetry.DropOversize)
			t.logger.Trace().Str("remote", from.String()).Int("size", n).Msg("oversize datagram dropped")
			continue
		}

		now := t.now()
		t.touch(from, now)

		ev := Event{Kind: EventDatagram, From: from, Data: append([]byte(nil), buf[:n]...), At: now}
		if !t.inbound.push(ev) {
			t.drops.queueFull.Add(1)
			t.metrics.Drop(telemetry.DropQueueFull)
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-t.outbound.ch:
			n, err := t.conn.WriteToUDPAddrPort(out.data, out.to)
			if err != nil {
				t.drops.writeErrors.Add(1)
				t.metrics.Drop(telemetry.DropWriteError)
				t.logger.Debug().Err(err).Str("remote", out.to.String()).Msg("UDP write error")
				continue
			}
			t.metrics.PacketsSent.Inc()
			t.metrics.BytesSent.Add(float64(n))
		}
	}
}

func (t *Transport) watchLoop(ctx context.Context) {
	defer t.wg.Done()

	interval := t.cfg.Timeout / 4
	if interval < minWatchInterval {
		interval = minWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.expire(t.now())
			t.limiter.prune()
		}
	}
}

// expire queues a timeout for every watched remote silent past Timeout. A
// remote whose event does not fit the queue stays watched and is retried.
func (t *Transport) expire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, last := range t.watched {
		if now.Sub(last) < t.cfg.Timeout {
			continue
		}
		if !t.inbound.push(Event{Kind: EventTimeout, From: addr, At: now}) {
			continue
		}
		delete(t.watched, addr)
		t.metrics.Timeouts.Inc()
		t.logger.Debug().Str("remote", addr.String()).Dur("silent", now.Sub(last)).Msg("remote timed out")
	}
}

func (t *Transport) touch(addr netip.AddrPort, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watched[addr]; ok {
		t.watched[addr] = now
	}
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
