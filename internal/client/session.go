// Package client implements the player side of the protocol: the connect
// handshake with retries, input upload and the replica world rebuilt from
// the server's State broadcasts.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/game"
	"github.com/micromayhem/mayhem/internal/network"
	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

var (
	ErrConnectFailed    = errors.New("server did not answer")
	ErrServerClosed     = errors.New("server closed the connection")
	ErrTimedOut         = errors.New("server timed out")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotIPv4          = errors.New("server address is not IPv4")
)

// State is the session's position in the handshake.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateVerified
	StateSynchronized
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateVerified:     "verified",
	StateSynchronized: "synchronized",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the client settings.
type Config struct {
	Name       string
	ListenAddr string
	ProtocolID uint16
	// RetryTicks is how many ticks to wait before re-sending Connect or
	// Request.
	RetryTicks int
	// MaxAttempts bounds the Connect sends before giving up.
	MaxAttempts int
	Timeout     time.Duration
	QueueSize   int

	Metrics  *telemetry.Metrics
	EventBus *events.EventBus
}

// ConfigFrom builds a client Config from the file configuration.
func ConfigFrom(c config.ClientConfig, n config.NetworkConfig) Config {
	return Config{
		Name:        c.PlayerName,
		ListenAddr:  fmt.Sprintf("0.0.0.0:%d", c.LocalPort),
		ProtocolID:  uint16(n.ProtocolID),
		RetryTicks:  c.RetryTicks,
		MaxAttempts: c.MaxAttempts,
		Timeout:     n.Timeout(),
		QueueSize:   n.QueueSize,
	}
}

// Session is one client connection. All methods except LocalAddr must be
// called from the same goroutine.
type Session struct {
	cfg       Config
	logger    zerolog.Logger
	bus       *events.EventBus
	transport *network.Transport
	endpoint  *network.Endpoint
	ctx       context.Context

	state    State
	server   netip.AddrPort
	id       uint8
	arena    *game.Arena
	attempts int
	retryIn  int
	err      error
	ignored  uint64
}

// New creates a session. Nothing is bound until Start.
func New(cfg Config) *Session {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:0"
	}
	if cfg.ProtocolID == 0 {
		cfg.ProtocolID = protocol.ProtocolID
	}
	if cfg.RetryTicks <= 0 {
		cfg.RetryTicks = 30
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Subsystem: "client"})
	}
	if cfg.EventBus == nil {
		cfg.EventBus = events.NewEventBus()
	}

	t := network.NewTransport(network.TransportConfig{
		ListenAddr: cfg.ListenAddr,
		QueueSize:  cfg.QueueSize,
		Timeout:    cfg.Timeout,
		Metrics:    cfg.Metrics,
	})
	return &Session{
		cfg:       cfg,
		logger:    log.With().Str("component", "client").Str("name", cfg.Name).Logger(),
		bus:       cfg.EventBus,
		transport: t,
		endpoint:  network.NewEndpoint(t, cfg.ProtocolID),
		ctx:       context.Background(),
	}
}

// Start binds the local socket.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.ctx = ctx
	return nil
}

// Stop closes the socket. It does not notify the server; call Disconnect
// first for a clean leave.
func (s *Session) Stop() {
	s.transport.Stop()
}

// Connect starts the handshake with the server at addr. The transport is
// IPv4 only; IPv4-mapped IPv6 addresses are accepted.
func (s *Session) Connect(addr netip.AddrPort) error {
	if s.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if !addr.Addr().Is4() {
		return fmt.Errorf("connect to %s: %w", addr, ErrNotIPv4)
	}
	s.server = addr
	s.err = nil
	s.attempts = 0
	s.setState(StateConnecting)
	s.sendConnect()
	return nil
}

// ConnectTo resolves host:port and calls Connect.
func (s *Session) ConnectTo(hostport string) error {
	addr, err := netip.ParseAddrPort(hostport)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", hostport, err)
	}
	return s.Connect(addr)
}

// Tick runs one client tick: inbound traffic, retries, then the input for
// this tick while joined.
func (s *Session) Tick(mask game.InputMask) {
	s.endpoint.Poll(s)

	switch s.state {
	case StateConnecting:
		s.retryIn--
		if s.retryIn > 0 {
			return
		}
		if s.attempts >= s.cfg.MaxAttempts {
			s.logger.Warn().Int("attempts", s.attempts).Str("server", s.server.String()).Msg("connect failed")
			s.reset(ErrConnectFailed)
			return
		}
		s.sendConnect()
	case StateVerified:
		s.retryIn--
		if s.retryIn <= 0 {
			s.sendRequest()
		}
		s.send(protocol.Input{Mask: mask}.Message())
	case StateSynchronized:
		s.send(protocol.Input{Mask: mask}.Message())
	}
}

// Disconnect tells the server we are leaving and resets the session.
func (s *Session) Disconnect() {
	if s.state == StateDisconnected {
		return
	}
	s.send(protocol.Disconnect{}.Message())
	s.reset(nil)
}

func (s *Session) sendConnect() {
	s.attempts++
	s.retryIn = s.cfg.RetryTicks
	s.send(protocol.Connect{Name: s.cfg.Name}.Message())
}

func (s *Session) sendRequest() {
	s.retryIn = s.cfg.RetryTicks
	s.send(protocol.Request{ID: s.id, Name: s.cfg.Name}.Message())
}

func (s *Session) send(msg protocol.Message) {
	if err := s.endpoint.Send(s.server, msg); err != nil {
		s.logger.Debug().Err(err).Str("kind", msg.Kind.String()).Msg("send failed")
	}
}

// HandleMessage implements network.Handler.
func (s *Session) HandleMessage(in network.Inbound) {
	if s.state == StateDisconnected || in.From != s.server {
		s.ignored++
		s.logger.Trace().Str("remote", in.From.String()).Msg("datagram from unknown address ignored")
		return
	}

	switch body := in.Body.(type) {
	case protocol.Verify:
		if s.state != StateConnecting {
			return
		}
		arena, err := game.FromMapEncoding(body.Map)
		if err != nil {
			s.logger.Warn().Err(err).Msg("server sent an unusable map")
			return
		}
		s.id = body.ID
		s.arena = arena
		s.setState(StateVerified)
		s.sendRequest()
	case protocol.State:
		if s.state < StateVerified || !in.Fresh {
			return
		}
		s.apply(body)
		if s.state == StateVerified {
			s.setState(StateSynchronized)
		}
	case protocol.Disconnect:
		s.logger.Info().Msg("server closed the connection")
		s.reset(ErrServerClosed)
	}
}

// HandleTimeout implements network.Handler.
func (s *Session) HandleTimeout(addr netip.AddrPort) {
	if addr != s.server || s.state == StateDisconnected {
		return
	}
	s.logger.Warn().Str("server", addr.String()).Msg("server timed out")
	s.reset(ErrTimedOut)
}

// apply rebuilds the replica from one State.
func (s *Session) apply(st protocol.State) {
	keep := make(map[uint8]struct{}, len(st.Players))
	for _, p := range st.Players {
		s.arena.SyncPlayer(p.ID, protocol.Dequantize(p.Pos))
		keep[p.ID] = struct{}{}
	}
	s.arena.RetainPlayers(keep)

	views := make([]game.ProjectileView, 0, len(st.Projectiles))
	for _, p := range st.Projectiles {
		views = append(views, game.ProjectileView{ID: p.ID, Kind: p.Kind, Pos: protocol.Dequantize(p.Pos)})
	}
	s.arena.SetProjectiles(views)
}

func (s *Session) reset(err error) {
	s.endpoint.Forget(s.server)
	s.err = err
	s.setState(StateDisconnected)
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state")
	s.bus.Emit(s.ctx, events.Event{
		Type:    events.EventSessionState,
		Source:  "client",
		Payload: events.SessionStatePayload{From: from.String(), To: to.String(), ID: s.id},
	})
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// ID returns the id assigned by the server; valid from StateVerified.
func (s *Session) ID() uint8 { return s.id }

// Arena returns the replica world; nil before Verify.
func (s *Session) Arena() *game.Arena { return s.arena }

// Err returns why the session last dropped to Disconnected, or nil.
func (s *Session) Err() error { return s.err }

// Ignored returns the number of messages dropped for coming from an
// address other than the server.
func (s *Session) Ignored() uint64 { return s.ignored }

// Server returns the address of the server being talked to.
func (s *Session) Server() netip.AddrPort { return s.server }

// LocalAddr returns the bound address.
func (s *Session) LocalAddr() netip.AddrPort { return s.transport.LocalAddr() }

// DropStats returns the endpoint's drop counters.
func (s *Session) DropStats() network.DropStats { return s.endpoint.DropStats() }
