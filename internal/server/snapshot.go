package server

import (
	"time"

	"github.com/micromayhem/mayhem/internal/game"
	"github.com/micromayhem/mayhem/internal/network"
)

// PlayerInfo describes one registered remote.
type PlayerInfo struct {
	ID       uint8         `json:"id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Active   bool          `json:"active"`
	JoinedAt time.Time     `json:"joined_at"`
	Pos      game.Vec2     `json:"pos"`
	RTT      time.Duration `json:"rtt_ns"`
	Received uint64        `json:"packets_received"`
	Sent     uint64        `json:"packets_sent"`
}

// Snapshot is a read-only view of the server published once per tick for
// the API and the console.
type Snapshot struct {
	Address     string            `json:"address"`
	Tick        uint64            `json:"tick"`
	TickRate    int               `json:"tick_rate"`
	StartedAt   time.Time         `json:"started_at"`
	Capacity    int               `json:"capacity"`
	Players     []PlayerInfo      `json:"players"`
	Projectiles int               `json:"projectiles"`
	Rejected    uint64            `json:"rejected"`
	Unexpected  uint64            `json:"unexpected"`
	Drops       network.DropStats `json:"drops"`
	LastTick    time.Duration     `json:"last_tick_ns"`
}

// Active returns the number of joined players.
func (s Snapshot) Active() int {
	n := 0
	for _, p := range s.Players {
		if p.Active {
			n++
		}
	}
	return n
}

// Uptime returns how long the server has been running at the given time.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Snapshot returns the state published by the last tick.
func (s *Server) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	snap := s.snapshot
	snap.Players = append([]PlayerInfo(nil), s.snapshot.Players...)
	return snap
}

func (s *Server) publishSnapshot(elapsed time.Duration) {
	positions := make(map[uint8]game.Vec2)
	for _, p := range s.world.Players() {
		positions[p.ID] = p.Pos
	}

	entries := s.registry.Entries()
	players := make([]PlayerInfo, 0, len(entries))
	for _, e := range entries {
		info := PlayerInfo{
			ID:       e.ID,
			Name:     e.Name,
			Address:  e.Addr.String(),
			Active:   e.Active,
			JoinedAt: e.JoinedAt,
			Pos:      positions[e.ID],
		}
		if ps, ok := s.endpoint.Peer(e.Addr); ok {
			info.RTT = ps.RTT
			info.Received = ps.Received
			info.Sent = ps.Sent
		}
		players = append(players, info)
	}

	snap := Snapshot{
		Tick:        s.tick,
		TickRate:    s.cfg.TickRate,
		StartedAt:   s.startedAt,
		Capacity:    s.registry.Capacity(),
		Players:     players,
		Projectiles: len(s.world.Projectiles()),
		Rejected:    s.rejected,
		Unexpected:  s.unexpected,
		Drops:       s.endpoint.DropStats(),
		LastTick:    elapsed,
	}
	if s.started {
		snap.Address = s.transport.LocalAddr().String()
	}

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()
}
