package game

// BulletKind tags a projectile on the wire (one byte).
type BulletKind uint8

const (
	BulletPistol BulletKind = iota
	BulletRifle
	BulletSniper
)

// BulletSpec holds the per-kind projectile properties.
type BulletSpec struct {
	Name  string
	Speed float32 // world units per second
	Mass  float32
}

// WeaponKind identifies a weapon a player can hold.
type WeaponKind uint8

const (
	WeaponBasicPistol WeaponKind = iota
)

// WeaponSpec holds the per-weapon properties. Cooldowns are counted in
// simulation ticks so firing never depends on wall-clock time.
type WeaponSpec struct {
	Name          string
	Bullet        BulletKind
	CooldownTicks uint64
	Magazine      int
	ReloadTicks   uint64
	Mass          float32
}

var bulletSpecs = map[BulletKind]BulletSpec{
	BulletPistol: {Name: "pistol", Speed: 1000, Mass: 20},
	BulletRifle:  {Name: "rifle", Speed: 1400, Mass: 20},
	BulletSniper: {Name: "sniper", Speed: 2400, Mass: 200},
}

var weaponSpecs = map[WeaponKind]WeaponSpec{
	WeaponBasicPistol: {
		Name:          "basic_pistol",
		Bullet:        BulletPistol,
		CooldownTicks: 30,
		Magazine:      8,
		ReloadTicks:   60,
		Mass:          5,
	},
}

// Valid reports whether k is a known projectile type.
func (k BulletKind) Valid() bool {
	_, ok := bulletSpecs[k]
	return ok
}

func (k BulletKind) String() string {
	if spec, ok := bulletSpecs[k]; ok {
		return spec.Name
	}
	return "unknown"
}

// BulletSpecFor returns the properties of a projectile type.
func BulletSpecFor(k BulletKind) (BulletSpec, bool) {
	spec, ok := bulletSpecs[k]
	return spec, ok
}

// WeaponSpecFor returns the properties of a weapon.
func WeaponSpecFor(k WeaponKind) (WeaponSpec, bool) {
	spec, ok := weaponSpecs[k]
	return spec, ok
}
