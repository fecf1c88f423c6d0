package server

import (
	"net/netip"

	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/network"
	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

// HandleMessage implements network.Handler.
func (s *Server) HandleMessage(in network.Inbound) {
	switch body := in.Body.(type) {
	case protocol.Connect:
		s.onConnect(in.From, body)
	case protocol.Request:
		s.onRequest(in.From, body)
	case protocol.Input:
		s.onInput(in, body)
	case protocol.Disconnect:
		if _, ok := s.registry.Lookup(in.From); !ok {
			s.endpoint.Forget(in.From)
			return
		}
		s.removeRemote(in.From, events.LeaveDisconnect)
	default:
		s.dropUnexpected(in.From, in.Msg.Kind)
	}
}

// HandleTimeout implements network.Handler.
func (s *Server) HandleTimeout(addr netip.AddrPort) {
	if _, ok := s.registry.Lookup(addr); !ok {
		return
	}
	s.logger.Info().Str("remote", addr.String()).Msg("remote timed out")
	s.removeRemote(addr, events.LeaveTimeout)
}

func (s *Server) onConnect(from netip.AddrPort, c protocol.Connect) {
	id, ok := s.registry.TryAdd(from)
	if !ok {
		s.rejected++
		s.metrics.Drop(telemetry.DropCapacity)
		s.logger.Debug().
			Str("remote", from.String()).
			Int("capacity", s.registry.Capacity()).
			Msg("connect rejected, server full")
		s.bus.Emit(s.ctx, events.Event{
			Type:   events.EventConnectRejected,
			Source: "server",
			Payload: events.ConnectRejectedPayload{
				Address:  from.String(),
				Name:     c.Name,
				Capacity: s.registry.Capacity(),
			},
		})
		return
	}
	s.registry.SetName(from, c.Name)
	s.metrics.Remotes.Set(float64(s.registry.Len()))

	s.logger.Debug().Str("remote", from.String()).Uint8("id", id).Str("name", c.Name).Msg("connect")
	s.send(from, protocol.Verify{ID: id, Map: s.mapBytes}.Message())
}

func (s *Server) onRequest(from netip.AddrPort, r protocol.Request) {
	entry, ok := s.registry.Entry(from)
	if !ok {
		s.metrics.Drop(telemetry.DropUnknownRemote)
		s.logger.Debug().Str("remote", from.String()).Msg("request from unregistered remote")
		return
	}
	if r.ID != entry.ID {
		s.dropUnexpected(from, protocol.HeaderRequest)
		return
	}

	name := r.Name
	if name == "" {
		name = entry.Name
	}
	if !s.registry.Activate(from, name) {
		// Retried Request after the join went through.
		return
	}
	s.world.AddPlayer(name, entry.ID)
	s.metrics.Players.Inc()

	s.logger.Info().Str("remote", from.String()).Uint8("id", entry.ID).Str("name", name).Msg("player joined")
	s.bus.Emit(s.ctx, events.Event{
		Type:   events.EventPlayerJoined,
		Source: "server",
		Payload: events.PlayerJoinedPayload{
			ID:      entry.ID,
			Name:    name,
			Address: from.String(),
			At:      s.now(),
		},
	})
}

// onInput keeps the newest mask per player for this tick. Stale packets
// would undo a newer mask and are ignored.
func (s *Server) onInput(in network.Inbound, i protocol.Input) {
	entry, ok := s.registry.Entry(in.From)
	if !ok || !entry.Active {
		s.metrics.Drop(telemetry.DropUnknownRemote)
		return
	}
	if !in.Fresh {
		return
	}
	s.inputs[entry.ID] = i.Mask
}

func (s *Server) dropUnexpected(from netip.AddrPort, kind protocol.HeaderKind) {
	s.unexpected++
	s.metrics.Drop(telemetry.DropUnexpected)
	s.logger.Debug().Str("remote", from.String()).Str("kind", kind.String()).Msg("unexpected message dropped")
}

// removeRemote is the common path of Disconnect, timeout, kick and shutdown.
func (s *Server) removeRemote(addr netip.AddrPort, reason events.LeaveReason) {
	entry, ok := s.registry.Remove(addr)
	s.endpoint.Forget(addr)
	if !ok {
		return
	}
	delete(s.inputs, entry.ID)
	s.metrics.Remotes.Set(float64(s.registry.Len()))

	if !entry.Active {
		return
	}
	s.world.RemovePlayer(entry.ID)
	s.metrics.Players.Dec()

	s.logger.Info().
		Str("remote", addr.String()).
		Uint8("id", entry.ID).
		Str("reason", reason.String()).
		Msg("player left")
	s.bus.Emit(s.ctx, events.Event{
		Type:   events.EventPlayerLeft,
		Source: "server",
		Payload: events.PlayerLeftPayload{
			ID:      entry.ID,
			Name:    entry.Name,
			Address: addr.String(),
			Reason:  reason,
			At:      s.now(),
		},
	})
}
