// Package server runs the authoritative side of a Micro Mayhem match: it
// owns the connection registry and the world, drains the transport once per
// tick, applies inputs, steps the world and broadcasts State to every
// joined player.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
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
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrCommandQueueFull   = errors.New("command queue full")
	ErrServerAlreadyStart = errors.New("server already started")
)

// World is the simulation the server drives. *game.Arena implements it.
type World interface {
	Players() []game.PlayerView
	Projectiles() []game.ProjectileView
	AddPlayer(name string, id uint8)
	RemovePlayer(id uint8)
	ApplyInput(id uint8, mask game.InputMask, dt float32)
	Step(dt float32)
	MapEncoding() []byte
}

// Config holds the server settings.
type Config struct {
	ListenAddr       string
	MaxRemotes       int
	ProtocolID       uint16
	TickRate         int
	Timeout          time.Duration
	QueueSize        int
	MaxPacketsPerSec int

	Monitor  TickMonitorConfig
	Metrics  *telemetry.Metrics
	EventBus *events.EventBus
}

// ConfigFrom builds a server Config from the file configuration.
func ConfigFrom(n config.NetworkConfig, m config.MonitorConfig) Config {
	return Config{
		ListenAddr:       n.ListenAddr(),
		MaxRemotes:       n.MaxRemotes,
		ProtocolID:       uint16(n.ProtocolID),
		TickRate:         n.TickRate,
		Timeout:          n.Timeout(),
		QueueSize:        n.QueueSize,
		MaxPacketsPerSec: n.MaxPacketsPerSec,
		Monitor: TickMonitorConfig{
			LongTick:          time.Duration(m.LongTickMs) * time.Millisecond,
			WarningThreshold:  m.WarningThreshold,
			CriticalThreshold: m.CriticalThreshold,
			HistorySize:       m.HistorySize,
		},
	}
}

type commandKind uint8

const (
	cmdKick commandKind = iota
)

type command struct {
	kind commandKind
	id   uint8
}

// Server is the authoritative game server. Tick and the message handlers
// run on one goroutine; Snapshot, Kick and the tick monitor are safe to use
// from others.
type Server struct {
	cfg      Config
	world    World
	mapBytes []byte
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	bus      *events.EventBus
	monitor  *TickMonitor

	transport *network.Transport
	endpoint  *network.Endpoint
	registry  *network.Registry

	// Latest input per active player, cleared after every tick.
	inputs   map[uint8]game.InputMask
	commands chan command
	ctx      context.Context

	tick       uint64
	dt         float32
	rejected   uint64
	unexpected uint64
	startedAt  time.Time
	started    bool
	now        func() time.Time

	snapMu   sync.RWMutex
	snapshot Snapshot
}

// New creates a server around world. Nothing is bound until Start.
func New(cfg Config, world World) *Server {
	if cfg.TickRate <= 0 {
		cfg.TickRate = config.DefaultTickRate
	}
	if cfg.ProtocolID == 0 {
		cfg.ProtocolID = protocol.ProtocolID
	}
	if cfg.MaxRemotes <= 0 {
		cfg.MaxRemotes = config.DefaultMaxRemotes
	}
	if cfg.MaxRemotes > network.MaxCapacity {
		cfg.MaxRemotes = network.MaxCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Subsystem: "server"})
	}
	if cfg.EventBus == nil {
		cfg.EventBus = events.NewEventBus()
	}

	t := network.NewTransport(network.TransportConfig{
		ListenAddr:       cfg.ListenAddr,
		QueueSize:        cfg.QueueSize,
		MaxPacketsPerSec: cfg.MaxPacketsPerSec,
		Timeout:          cfg.Timeout,
		Metrics:          cfg.Metrics,
	})

	s := &Server{
		cfg:       cfg,
		world:     world,
		mapBytes:  world.MapEncoding(),
		logger:    log.With().Str("component", "server").Logger(),
		metrics:   cfg.Metrics,
		bus:       cfg.EventBus,
		monitor:   NewTickMonitor(cfg.Monitor, cfg.EventBus),
		transport: t,
		endpoint:  network.NewEndpoint(t, cfg.ProtocolID),
		registry:  network.NewRegistry(cfg.MaxRemotes),
		inputs:    make(map[uint8]game.InputMask),
		commands:  make(chan command, 64),
		ctx:       context.Background(),
		dt:        float32(1 / float64(cfg.TickRate)),
		now:       time.Now,
	}
	s.publishSnapshot(0)
	return s
}

// Start binds the socket. Use Tick to drive the server by hand or Run for
// the fixed-rate loop.
func (s *Server) Start(ctx context.Context) error {
	if s.started {
		return ErrServerAlreadyStart
	}
	if err := s.transport.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.ctx = ctx
	s.startedAt = s.now()

	s.logger.Info().
		Str("addr", s.transport.LocalAddr().String()).
		Int("capacity", s.registry.Capacity()).
		Int("tick_rate", s.cfg.TickRate).
		Msg("server started")

	s.bus.Emit(ctx, events.Event{
		Type:   events.EventServerStarted,
		Source: "server",
		Payload: events.ServerStartedPayload{
			Address:  s.transport.LocalAddr().String(),
			Capacity: s.registry.Capacity(),
			TickRate: s.cfg.TickRate,
		},
	})
	s.publishSnapshot(0)
	return nil
}

// Run starts the server if needed and ticks at the configured rate until
// ctx is cancelled. Joined players are sent Disconnect on the way out.
func (s *Server) Run(ctx context.Context) error {
	if !s.started {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	go s.monitor.Start(ctx, time.Minute)

	interval := time.Second / time.Duration(s.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one simulation step: commands, inbound traffic, inputs, world
// step, State broadcast.
func (s *Server) Tick() {
	begin := time.Now()

	s.runCommands()
	s.endpoint.Poll(s)

	for _, e := range s.registry.Entries() {
		if e.Active {
			s.world.ApplyInput(e.ID, s.inputs[e.ID], s.dt)
		}
	}
	clear(s.inputs)

	s.world.Step(s.dt)
	s.tick++
	s.broadcastState()

	elapsed := time.Since(begin)
	s.metrics.TickDuration.Observe(elapsed.Seconds())
	s.monitor.Record(s.tick, elapsed, begin)
	s.publishSnapshot(elapsed)
}

// broadcastState sends one State to every active remote. Projectiles that
// do not fit next to the players are left out of this tick's State.
func (s *Server) broadcastState() {
	players := s.world.Players()
	projectiles := s.world.Projectiles()

	state := protocol.State{Players: make([]protocol.PlayerState, 0, len(players))}
	for _, p := range players {
		state.Players = append(state.Players, protocol.PlayerState{ID: p.ID, Pos: protocol.Quantize(p.Pos)})
	}
	budget := protocol.StateBudget(len(players))
	if len(projectiles) > budget {
		s.logger.Trace().Int("projectiles", len(projectiles)).Int("budget", budget).Msg("state truncated")
		projectiles = projectiles[:budget]
	}
	for _, p := range projectiles {
		state.Projectiles = append(state.Projectiles, protocol.ProjectileState{
			ID: p.ID, Kind: p.Kind, Pos: protocol.Quantize(p.Pos),
		})
	}

	msg, err := state.Message()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode state")
		return
	}
	for _, e := range s.registry.Entries() {
		if e.Active {
			s.send(e.Addr, msg)
		}
	}
}

func (s *Server) send(to netip.AddrPort, msg protocol.Message) {
	if err := s.endpoint.Send(to, msg); err != nil {
		s.logger.Debug().Err(err).Str("remote", to.String()).Str("kind", msg.Kind.String()).Msg("send failed")
	}
}

// Kick asks the tick goroutine to disconnect the player with the given id.
func (s *Server) Kick(id uint8) error {
	found := false
	for _, p := range s.Snapshot().Players {
		if p.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("kick %d: %w", id, ErrUnknownPlayer)
	}
	select {
	case s.commands <- command{kind: cmdKick, id: id}:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (s *Server) runCommands() {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.kind {
			case cmdKick:
				addr, ok := s.registry.AddrOf(cmd.id)
				if !ok {
					continue
				}
				s.send(addr, protocol.Disconnect{}.Message())
				s.removeRemote(addr, events.LeaveKicked)
			}
		default:
			return
		}
	}
}

// shutdown tells joined players the server is going away and stops the
// transport.
func (s *Server) shutdown() {
	for _, e := range s.registry.Entries() {
		if e.Active {
			s.send(e.Addr, protocol.Disconnect{}.Message())
		}
		s.removeRemote(e.Addr, events.LeaveShutdown)
	}
	// Give the writer a moment to flush the Disconnects.
	time.Sleep(50 * time.Millisecond)
	s.transport.Stop()

	s.bus.Emit(context.Background(), events.Event{Type: events.EventShutdown, Source: "server"})
	s.logger.Info().Uint64("ticks", s.tick).Msg("server stopped")
}

// Stop stops the transport without the farewell of Run.
func (s *Server) Stop() {
	s.transport.Stop()
}

// LocalAddr returns the bound UDP address.
func (s *Server) LocalAddr() netip.AddrPort {
	return s.transport.LocalAddr()
}

// Monitor returns the tick monitor.
func (s *Server) Monitor() *TickMonitor {
	return s.monitor
}

// Metrics returns the collectors the server reports to.
func (s *Server) Metrics() *telemetry.Metrics {
	return s.metrics
}
