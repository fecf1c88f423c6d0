package game

import "testing"

const testDT = float32(1) / 60

func settle(a *Arena, id uint8) {
	for i := 0; i < 120; i++ {
		a.ApplyInput(id, 0, testDT)
		a.Step(testDT)
	}
}

func TestPlayerLandsOnPlatform(t *testing.T) {
	a := NewArena(DefaultMap())
	a.AddPlayer("alice", 0)
	settle(a, 0)

	p, ok := a.Player(0)
	if !ok {
		t.Fatal("player 0 missing")
	}
	feet := p.Pos.Y + PlayerHeight
	if (int(feet)-VerticalPadding)%RowSpacing != 0 {
		t.Fatalf("player feet at y=%v, not on a row top", feet)
	}
}

func TestRunLeftMovesPlayer(t *testing.T) {
	a := NewArena(DefaultMap())
	a.AddPlayer("alice", 0)
	settle(a, 0)
	start, _ := a.Player(0)

	a.ApplyInput(0, InputLeft, testDT)
	a.Step(testDT)

	p, _ := a.Player(0)
	want := start.Pos.X - RunSpeed*testDT
	if diff := p.Pos.X - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("x = %v, want %v", p.Pos.X, want)
	}
	if p.Pos.Y != start.Pos.Y {
		t.Fatalf("y changed while grounded: %v -> %v", start.Pos.Y, p.Pos.Y)
	}
}

func TestFireCooldownCountsTicks(t *testing.T) {
	a := NewArena(DefaultMap())
	a.AddPlayer("alice", 0)
	w, _ := WeaponSpecFor(WeaponBasicPistol)

	for i := uint64(0); i < w.CooldownTicks; i++ {
		a.ApplyInput(0, InputShoot, testDT)
		a.Step(testDT)
	}
	if n := len(a.Projectiles()); n != 1 {
		t.Fatalf("projectiles after one cooldown = %d, want 1", n)
	}

	a.ApplyInput(0, InputShoot, testDT)
	a.Step(testDT)
	if n := len(a.Projectiles()); n != 2 {
		t.Fatalf("projectiles after cooldown elapsed = %d, want 2", n)
	}
	if k := a.Projectiles()[0].Kind; k != BulletPistol {
		t.Fatalf("kind = %v, want pistol", k)
	}
}

func TestProjectilesLeaveArena(t *testing.T) {
	a := NewArena(DefaultMap())
	a.AddPlayer("alice", 0)
	a.ApplyInput(0, InputShoot, testDT)
	for i := 0; i < 120; i++ {
		a.Step(testDT)
	}
	if n := len(a.Projectiles()); n != 0 {
		t.Fatalf("projectiles = %d, want 0", n)
	}
}

func TestAddRemovePlayers(t *testing.T) {
	a := NewArena(nil)
	a.AddPlayer("bob", 2)
	a.AddPlayer("alice", 0)
	a.AddPlayer("again", 0)

	got := a.Players()
	if len(got) != 2 || got[0].ID != 0 || got[1].ID != 2 {
		t.Fatalf("players = %+v", got)
	}
	if got[0].Name != "alice" {
		t.Fatalf("duplicate AddPlayer renamed player: %q", got[0].Name)
	}

	a.RemovePlayer(0)
	if _, ok := a.Player(0); ok {
		t.Fatal("player 0 still present")
	}
}

func TestReplicaSync(t *testing.T) {
	a, err := FromMapEncoding(DefaultMap().Encode())
	if err != nil {
		t.Fatalf("FromMapEncoding: %v", err)
	}
	a.SyncPlayer(3, Vec2{X: 10, Y: 20})
	a.SyncPlayer(4, Vec2{X: 1, Y: 2})
	a.RetainPlayers(map[uint8]struct{}{4: {}})

	players := a.Players()
	if len(players) != 1 || players[0].ID != 4 || players[0].Pos != (Vec2{X: 1, Y: 2}) {
		t.Fatalf("players = %+v", players)
	}

	a.SetProjectiles([]ProjectileView{{ID: 9, Kind: BulletSniper, Pos: Vec2{X: 5}}})
	if p := a.Projectiles(); len(p) != 1 || p[0].ID != 9 {
		t.Fatalf("projectiles = %+v", p)
	}
}

func TestInputMaskString(t *testing.T) {
	m := InputLeft.With(InputShoot)
	if s := m.String(); s != "left|shoot" {
		t.Fatalf("String = %q", s)
	}
	if ParseInput("left|shoot") != m {
		t.Fatalf("ParseInput mismatch")
	}
	if InputMask(0).String() != "none" {
		t.Fatalf("zero mask String = %q", InputMask(0).String())
	}
	if m.Without(InputLeft) != InputShoot {
		t.Fatalf("Without mismatch")
	}
}
