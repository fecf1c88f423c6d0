package game

import (
	"fmt"
	"sort"
)

const (
	PlayerWidth  = 20
	PlayerHeight = 30

	RunSpeed     = 240
	JumpSpeed    = 480
	Gravity      = 1200
	MaxFallSpeed = 900
)

// PlayerView is the read-only slice of a player the network layer needs.
type PlayerView struct {
	ID   uint8
	Name string
	Pos  Vec2
}

// ProjectileView is the read-only slice of a projectile the network layer needs.
type ProjectileView struct {
	ID   uint16
	Kind BulletKind
	Pos  Vec2
}

type player struct {
	id       uint8
	name     string
	pos      Vec2
	vel      Vec2
	facing   float32
	grounded bool
	dropping bool

	weapon       WeaponKind
	ammo         int
	nextFireTick uint64
}

type bullet struct {
	id    uint16
	kind  BulletKind
	owner uint8
	pos   Vec2
	vel   Vec2
}

// Arena is the reference world: a block map, the players standing on it and
// the projectiles in flight. It is owned by a single goroutine.
type Arena struct {
	layout     *Map
	players    map[uint8]*player
	bullets    []*bullet
	nextBullet uint16
	tick       uint64
}

// NewArena creates an empty arena on the given map.
func NewArena(m *Map) *Arena {
	if m == nil {
		m = DefaultMap()
	}
	return &Arena{
		layout:  m,
		players: make(map[uint8]*player),
	}
}

// FromMapEncoding builds a client replica from the map section of a Verify
// message.
func FromMapEncoding(data []byte) (*Arena, error) {
	m, err := DecodeMap(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode map: %w", err)
	}
	return NewArena(m), nil
}

func (a *Arena) Map() *Map { return a.layout }

func (a *Arena) MapEncoding() []byte { return a.layout.Encode() }

// Tick returns the number of completed simulation steps.
func (a *Arena) Tick() uint64 { return a.tick }

// AddPlayer spawns a player. Adding an id that already exists is a no-op.
func (a *Arena) AddPlayer(name string, id uint8) {
	if _, ok := a.players[id]; ok {
		return
	}
	w := weaponSpecs[WeaponBasicPistol]
	a.players[id] = &player{
		id:     id,
		name:   name,
		pos:    spawnPoint(id),
		facing: 1,
		weapon: WeaponBasicPistol,
		ammo:   w.Magazine,
	}
}

func (a *Arena) RemovePlayer(id uint8) {
	delete(a.players, id)
}

// Player returns a single player's view.
func (a *Arena) Player(id uint8) (PlayerView, bool) {
	p, ok := a.players[id]
	if !ok {
		return PlayerView{}, false
	}
	return PlayerView{ID: p.id, Name: p.name, Pos: p.pos}, true
}

// Players returns all players sorted by id.
func (a *Arena) Players() []PlayerView {
	out := make([]PlayerView, 0, len(a.players))
	for _, p := range a.players {
		out = append(out, PlayerView{ID: p.id, Name: p.name, Pos: p.pos})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Projectiles returns the projectiles in flight, oldest first.
func (a *Arena) Projectiles() []ProjectileView {
	out := make([]ProjectileView, 0, len(a.bullets))
	for _, b := range a.bullets {
		out = append(out, ProjectileView{ID: b.id, Kind: b.kind, Pos: b.pos})
	}
	return out
}

// ApplyInput moves one player for one tick according to mask. Players the
// caller does not feed an input for do not move.
func (a *Arena) ApplyInput(id uint8, mask InputMask, dt float32) {
	p, ok := a.players[id]
	if !ok {
		return
	}

	p.vel.X = 0
	if mask.Has(InputLeft) {
		p.vel.X -= RunSpeed
		p.facing = -1
	}
	if mask.Has(InputRight) {
		p.vel.X += RunSpeed
		p.facing = 1
	}
	if mask.Has(InputUp) && p.grounded {
		p.vel.Y = -JumpSpeed
		p.grounded = false
	}
	p.dropping = mask.Has(InputDown)
	if mask.Has(InputShoot) {
		a.fire(p)
	}

	a.move(p, dt)
}

// Step advances the tick counter and the projectiles in flight.
func (a *Arena) Step(dt float32) {
	a.tick++

	kept := a.bullets[:0]
	for _, b := range a.bullets {
		b.pos = b.pos.Add(b.vel.Scale(dt))
		if b.pos.X < -HorizontalPadding || b.pos.X > ArenaWidth+HorizontalPadding {
			continue
		}
		kept = append(kept, b)
	}
	for i := len(kept); i < len(a.bullets); i++ {
		a.bullets[i] = nil
	}
	a.bullets = kept
}

// SyncPlayer sets a replica player's position, creating it when unknown.
func (a *Arena) SyncPlayer(id uint8, pos Vec2) {
	p, ok := a.players[id]
	if !ok {
		p = &player{id: id, name: fmt.Sprintf("player-%d", id), facing: 1}
		a.players[id] = p
	}
	p.pos = pos
}

// RetainPlayers removes replica players whose id is not in keep.
func (a *Arena) RetainPlayers(keep map[uint8]struct{}) {
	for id := range a.players {
		if _, ok := keep[id]; !ok {
			delete(a.players, id)
		}
	}
}

// SetProjectiles replaces the replica's projectiles.
func (a *Arena) SetProjectiles(views []ProjectileView) {
	a.bullets = a.bullets[:0]
	for _, v := range views {
		a.bullets = append(a.bullets, &bullet{id: v.ID, kind: v.Kind, pos: v.Pos})
	}
}

func (a *Arena) fire(p *player) {
	w := weaponSpecs[p.weapon]
	if a.tick < p.nextFireTick {
		return
	}
	if p.ammo == 0 {
		p.ammo = w.Magazine
		p.nextFireTick = a.tick + w.ReloadTicks
		return
	}
	spec := bulletSpecs[w.Bullet]
	a.bullets = append(a.bullets, &bullet{
		id:    a.nextBullet,
		kind:  w.Bullet,
		owner: p.id,
		pos:   Vec2{X: p.pos.X + PlayerWidth/2, Y: p.pos.Y + PlayerHeight/2},
		vel:   Vec2{X: p.facing * spec.Speed},
	})
	a.nextBullet++
	p.ammo--
	p.nextFireTick = a.tick + w.CooldownTicks
}

func (a *Arena) move(p *player, dt float32) {
	p.vel.Y += Gravity * dt
	if p.vel.Y > MaxFallSpeed {
		p.vel.Y = MaxFallSpeed
	}

	prevFeet := p.pos.Y + PlayerHeight
	p.pos = p.pos.Add(p.vel.Scale(dt))
	if p.pos.X < 0 {
		p.pos.X = 0
	}
	if p.pos.X > ArenaWidth-PlayerWidth {
		p.pos.X = ArenaWidth - PlayerWidth
	}

	p.grounded = false
	if p.vel.Y >= 0 {
		feet := p.pos.Y + PlayerHeight
		for row := 0; row < MapRows; row++ {
			top := rowTop(row)
			if prevFeet > top || feet < top {
				continue
			}
			kind, ok := a.supportAt(row, p.pos.X)
			if !ok || (kind.IsPlank() && p.dropping) {
				continue
			}
			p.pos.Y = top - PlayerHeight
			p.vel.Y = 0
			p.grounded = true
			break
		}
	}

	if p.pos.Y > ArenaHeight {
		p.pos = spawnPoint(p.id)
		p.vel = Vec2{}
	}
}

// supportAt returns the block under a player whose left edge is at x.
func (a *Arena) supportAt(row int, x float32) (BlockKind, bool) {
	for _, edge := range []float32{x, x + PlayerWidth - 1} {
		col, ok := colAt(edge)
		if !ok {
			continue
		}
		if kind, ok := a.layout.BlockAt(row, col); ok {
			return kind, true
		}
	}
	return 0, false
}

func spawnPoint(id uint8) Vec2 {
	col := (int(id)*5 + 2) % MapCols
	return Vec2{
		X: HorizontalPadding + float32(col*BlockWidth) + (BlockWidth-PlayerWidth)/2,
		Y: 0,
	}
}
