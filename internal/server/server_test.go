package server

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/game"
	"github.com/micromayhem/mayhem/internal/network"
	"github.com/micromayhem/mayhem/internal/protocol"
	"github.com/micromayhem/mayhem/internal/telemetry"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startServer(t *testing.T, cfg Config, world World) *Server {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Registry: prometheus.NewRegistry()})
	}
	s := New(cfg, world)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// testClient speaks the protocol over a bare endpoint.
type testClient struct {
	t        *testing.T
	ep       *network.Endpoint
	server   netip.AddrPort
	messages []network.Inbound
}

func newTestClient(t *testing.T, s *Server) *testClient {
	t.Helper()
	tr := network.NewTransport(network.TransportConfig{ListenAddr: "127.0.0.1:0"})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	t.Cleanup(tr.Stop)
	return &testClient{t: t, ep: network.NewEndpoint(tr, protocol.ProtocolID), server: s.LocalAddr()}
}

func (c *testClient) HandleMessage(in network.Inbound) { c.messages = append(c.messages, in) }
func (c *testClient) HandleTimeout(netip.AddrPort)     {}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	if err := c.ep.Send(c.server, msg); err != nil {
		c.t.Fatalf("client send: %v", err)
	}
}

func (c *testClient) sendState() {
	msg, err := protocol.State{}.Message()
	if err != nil {
		c.t.Fatal(err)
	}
	c.send(msg)
}

func (c *testClient) poll() { c.ep.Poll(c) }

// latest returns the newest fresh message of the given kind.
func (c *testClient) latest(kind protocol.HeaderKind) (network.Inbound, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if m := c.messages[i]; m.Msg.Kind == kind && m.Fresh {
			return m, true
		}
	}
	return network.Inbound{}, false
}

// join runs the handshake to completion and returns the assigned id.
func (c *testClient) join(s *Server, name string) uint8 {
	c.t.Helper()
	var verify protocol.Verify
	waitFor(c.t, "verify", func() bool {
		c.send(protocol.Connect{Name: name}.Message())
		s.Tick()
		c.poll()
		in, ok := c.latest(protocol.HeaderVerify)
		if ok {
			verify = in.Body.(protocol.Verify)
		}
		return ok
	})
	waitFor(c.t, "join", func() bool {
		c.send(protocol.Request{ID: verify.ID, Name: name}.Message())
		s.Tick()
		for _, p := range s.Snapshot().Players {
			if p.ID == verify.ID && p.Active {
				return true
			}
		}
		return false
	})
	return verify.ID
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func subscribe(bus *events.EventBus, types ...events.EventType) *eventLog {
	l := &eventLog{}
	for _, typ := range types {
		bus.Subscribe(typ, "test", func(ctx context.Context, e events.Event) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, e)
			return nil
		})
	}
	return l
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func TestServerEndToEnd(t *testing.T) {
	arena := game.NewArena(game.DefaultMap())
	s := startServer(t, Config{MaxRemotes: 4}, arena)
	c := newTestClient(t, s)

	var verify protocol.Verify
	waitFor(t, "verify", func() bool {
		c.send(protocol.Connect{Name: "Alice"}.Message())
		s.Tick()
		c.poll()
		in, ok := c.latest(protocol.HeaderVerify)
		if ok {
			verify = in.Body.(protocol.Verify)
		}
		return ok
	})
	if verify.ID != 0 {
		t.Fatalf("assigned id %d, want 0", verify.ID)
	}
	if _, err := game.DecodeMap(verify.Map); err != nil {
		t.Fatalf("verify map: %v", err)
	}

	waitFor(t, "player 0", func() bool {
		c.send(protocol.Request{ID: 0, Name: "Alice"}.Message())
		s.Tick()
		_, ok := arena.Player(0)
		return ok
	})
	p, _ := arena.Player(0)
	if p.Name != "Alice" {
		t.Fatalf("player name = %q", p.Name)
	}
	start := p.Pos

	waitFor(t, "player moved left", func() bool {
		c.send(protocol.Input{Mask: game.InputLeft}.Message())
		s.Tick()
		p, _ := arena.Player(0)
		return p.Pos.X < start.X
	})

	p, _ = arena.Player(0)
	want := protocol.Quantize(p.Pos)
	var got protocol.QuantizedPosition
	waitFor(t, "state with moved position", func() bool {
		c.poll()
		in, ok := c.latest(protocol.HeaderState)
		if !ok {
			return false
		}
		for _, ps := range in.Body.(protocol.State).Players {
			if ps.ID == 0 {
				got = ps.Pos
			}
		}
		return got == want
	})

	back := protocol.Dequantize(got)
	const tolerance = float32(protocol.CellSize) / protocol.SubSteps
	if d := back.Sub(p.Pos); d.X > tolerance || d.X < -tolerance || d.Y > tolerance || d.Y < -tolerance {
		t.Fatalf("dequantized %v too far from %v", back, p.Pos)
	}
	if back.X >= start.X {
		t.Fatalf("state x %.2f did not move left of %.2f", back.X, start.X)
	}

	snap := s.Snapshot()
	if snap.Active() != 1 || snap.Players[0].Name != "Alice" || snap.Tick == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestServerRejectsWhenFull(t *testing.T) {
	bus := events.NewEventBus()
	rejected := subscribe(bus, events.EventConnectRejected)
	s := startServer(t, Config{MaxRemotes: 1, EventBus: bus}, game.NewArena(game.DefaultMap()))

	a := newTestClient(t, s)
	a.join(s, "A")

	b := newTestClient(t, s)
	waitFor(t, "rejection", func() bool {
		b.send(protocol.Connect{Name: "B"}.Message())
		s.Tick()
		return s.Snapshot().Rejected > 0
	})
	b.poll()
	if _, ok := b.latest(protocol.HeaderVerify); ok {
		t.Fatal("rejected client got a Verify")
	}

	bus.Wait()
	evs := rejected.all()
	if len(evs) == 0 {
		t.Fatal("no connect_rejected event")
	}
	if p := evs[0].Payload.(events.ConnectRejectedPayload); p.Name != "B" || p.Capacity != 1 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestServerDisconnectFreesSlot(t *testing.T) {
	bus := events.NewEventBus()
	left := subscribe(bus, events.EventPlayerLeft)
	arena := game.NewArena(game.DefaultMap())
	s := startServer(t, Config{MaxRemotes: 1, EventBus: bus}, arena)

	a := newTestClient(t, s)
	a.join(s, "A")

	a.send(protocol.Disconnect{}.Message())
	waitFor(t, "removal", func() bool {
		s.Tick()
		return len(s.Snapshot().Players) == 0
	})
	if _, ok := arena.Player(0); ok {
		t.Fatal("player still in the world")
	}

	b := newTestClient(t, s)
	if id := b.join(s, "B"); id != 0 {
		t.Fatalf("reused id = %d, want 0", id)
	}

	bus.Wait()
	evs := left.all()
	if len(evs) != 1 || evs[0].Payload.(events.PlayerLeftPayload).Reason != events.LeaveDisconnect {
		t.Fatalf("player_left events = %+v", evs)
	}
}

func TestServerTimesOutSilentRemote(t *testing.T) {
	bus := events.NewEventBus()
	left := subscribe(bus, events.EventPlayerLeft)
	s := startServer(t, Config{Timeout: 150 * time.Millisecond, EventBus: bus}, game.NewArena(game.DefaultMap()))

	c := newTestClient(t, s)
	c.join(s, "Quiet")

	waitFor(t, "timeout", func() bool {
		s.Tick()
		return len(s.Snapshot().Players) == 0
	})

	bus.Wait()
	evs := left.all()
	if len(evs) != 1 || evs[0].Payload.(events.PlayerLeftPayload).Reason != events.LeaveTimeout {
		t.Fatalf("player_left events = %+v", evs)
	}
}

func TestServerKick(t *testing.T) {
	s := startServer(t, Config{}, game.NewArena(game.DefaultMap()))
	c := newTestClient(t, s)
	id := c.join(s, "Target")

	if err := s.Kick(id + 1); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("Kick(unknown) = %v", err)
	}
	if err := s.Kick(id); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	s.Tick()
	if len(s.Snapshot().Players) != 0 {
		t.Fatal("kicked player still registered")
	}
	waitFor(t, "disconnect", func() bool {
		c.poll()
		_, ok := c.latest(protocol.HeaderDisconnect)
		return ok
	})
}

func TestServerDropsUnexpected(t *testing.T) {
	s := startServer(t, Config{}, game.NewArena(game.DefaultMap()))
	c := newTestClient(t, s)
	id := c.join(s, "A")

	before := s.Snapshot().Unexpected
	c.sendState()
	c.send(protocol.Verify{ID: id}.Message())
	c.send(protocol.Request{ID: id + 1, Name: "A"}.Message())
	waitFor(t, "unexpected drops", func() bool {
		s.Tick()
		return s.Snapshot().Unexpected-before == 3
	})
}

type appliedInput struct {
	id   uint8
	mask game.InputMask
}

// fakeWorld records what the server asks of it.
type fakeWorld struct {
	players     map[uint8]game.PlayerView
	projectiles []game.ProjectileView
	inputs      []appliedInput
	steps       int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{players: make(map[uint8]game.PlayerView)}
}

func (w *fakeWorld) Players() []game.PlayerView {
	out := make([]game.PlayerView, 0, len(w.players))
	for i := 0; i < 256; i++ {
		if p, ok := w.players[uint8(i)]; ok {
			out = append(out, p)
		}
	}
	return out
}
func (w *fakeWorld) Projectiles() []game.ProjectileView { return w.projectiles }
func (w *fakeWorld) AddPlayer(name string, id uint8) {
	w.players[id] = game.PlayerView{ID: id, Name: name, Pos: game.Vec2{X: 45, Y: 60}}
}
func (w *fakeWorld) RemovePlayer(id uint8) { delete(w.players, id) }
func (w *fakeWorld) ApplyInput(id uint8, mask game.InputMask, dt float32) {
	w.inputs = append(w.inputs, appliedInput{id, mask})
}
func (w *fakeWorld) Step(dt float32)      { w.steps++ }
func (w *fakeWorld) MapEncoding() []byte { return game.DefaultMap().Encode() }

func TestServerClearsInputsEachTick(t *testing.T) {
	w := newFakeWorld()
	s := startServer(t, Config{}, w)
	c := newTestClient(t, s)
	id := c.join(s, "A")

	w.inputs = nil
	c.send(protocol.Input{Mask: game.InputShoot}.Message())
	waitFor(t, "shoot applied", func() bool {
		s.Tick()
		n := len(w.inputs)
		return n > 0 && w.inputs[n-1].mask == game.InputShoot
	})

	s.Tick()
	last := w.inputs[len(w.inputs)-1]
	if last.id != id || last.mask != 0 {
		t.Fatalf("input after clear = %+v", last)
	}
}

func TestServerTrimsProjectilesToBudget(t *testing.T) {
	w := newFakeWorld()
	for i := 0; i < 100; i++ {
		w.projectiles = append(w.projectiles, game.ProjectileView{ID: uint16(i), Kind: game.BulletRifle, Pos: game.Vec2{X: float32(i), Y: 10}})
	}
	s := startServer(t, Config{}, w)
	c := newTestClient(t, s)
	c.join(s, "A")

	waitFor(t, "state", func() bool {
		s.Tick()
		c.poll()
		_, ok := c.latest(protocol.HeaderState)
		return ok
	})
	in, _ := c.latest(protocol.HeaderState)
	st := in.Body.(protocol.State)
	if len(st.Players) != 1 || len(st.Projectiles) != protocol.StateBudget(1) {
		t.Fatalf("state has %d players, %d projectiles", len(st.Players), len(st.Projectiles))
	}
}

func TestServerFullRegistryStillBroadcasts(t *testing.T) {
	w := newFakeWorld()
	for i := 1; i < network.MaxCapacity; i++ {
		w.AddPlayer("bot", uint8(i))
	}
	for i := 0; i < 20; i++ {
		w.projectiles = append(w.projectiles, game.ProjectileView{ID: uint16(i), Kind: game.BulletPistol})
	}
	s := startServer(t, Config{MaxRemotes: 1000}, w)
	if c := s.Snapshot().Capacity; c != network.MaxCapacity {
		t.Fatalf("Capacity = %d, want %d", c, network.MaxCapacity)
	}

	c := newTestClient(t, s)
	c.join(s, "A")
	waitFor(t, "state", func() bool {
		s.Tick()
		c.poll()
		_, ok := c.latest(protocol.HeaderState)
		return ok
	})
	in, _ := c.latest(protocol.HeaderState)
	st := in.Body.(protocol.State)
	if len(st.Players) != network.MaxCapacity {
		t.Fatalf("state has %d players, want %d", len(st.Players), network.MaxCapacity)
	}
	if len(st.Projectiles) != protocol.StateBudget(network.MaxCapacity) {
		t.Fatalf("state has %d projectiles", len(st.Projectiles))
	}
}
