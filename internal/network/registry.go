package network

import (
	"net/netip"
	"sort"
	"time"

	"github.com/micromayhem/mayhem/internal/protocol"
)

// MaxCapacity is the largest registry: every active remote must fit in a
// single State broadcast.
const MaxCapacity = protocol.MaxStatePlayers

// Entry is one registered remote.
type Entry struct {
	Addr     netip.AddrPort
	ID       uint8
	Name     string
	Active   bool
	JoinedAt time.Time
}

// Registry maps remote addresses to compact client ids. A remote is pending
// after Connect and active after Request. Registry is owned by the tick
// goroutine and is not safe for concurrent use.
type Registry struct {
	capacity int
	byAddr   map[netip.AddrPort]*Entry
	byID     map[uint8]*Entry
	now      func() time.Time
}

// NewRegistry creates a registry holding at most capacity remotes.
func NewRegistry(capacity int) *Registry {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &Registry{
		capacity: capacity,
		byAddr:   make(map[netip.AddrPort]*Entry),
		byID:     make(map[uint8]*Entry),
		now:      time.Now,
	}
}

// TryAdd registers addr under the lowest free id. An address that is
// already registered gets its id back, so Connect retries are harmless.
// ok is false when the registry is full.
func (r *Registry) TryAdd(addr netip.AddrPort) (id uint8, ok bool) {
	if e, exists := r.byAddr[addr]; exists {
		return e.ID, true
	}
	if len(r.byAddr) >= r.capacity {
		return 0, false
	}

	for i := 0; i < r.capacity; i++ {
		if _, taken := r.byID[uint8(i)]; !taken {
			id = uint8(i)
			break
		}
	}

	e := &Entry{Addr: addr, ID: id, JoinedAt: r.now()}
	r.byAddr[addr] = e
	r.byID[id] = e
	return id, true
}

// Remove unregisters addr and frees its id.
func (r *Registry) Remove(addr netip.AddrPort) (Entry, bool) {
	e, ok := r.byAddr[addr]
	if !ok {
		return Entry{}, false
	}
	delete(r.byAddr, addr)
	delete(r.byID, e.ID)
	return *e, true
}

// Lookup returns the id of addr without modifying anything.
func (r *Registry) Lookup(addr netip.AddrPort) (uint8, bool) {
	e, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	return e.ID, true
}

// Activate marks addr as a joined player. It reports false for unknown
// remotes and for remotes that are already active.
func (r *Registry) Activate(addr netip.AddrPort, name string) bool {
	e, ok := r.byAddr[addr]
	if !ok || e.Active {
		return false
	}
	e.Active = true
	e.Name = name
	return true
}

// SetName records the name a pending remote announced in Connect.
func (r *Registry) SetName(addr netip.AddrPort, name string) {
	if e, ok := r.byAddr[addr]; ok && !e.Active {
		e.Name = name
	}
}

func (r *Registry) Entry(addr netip.AddrPort) (Entry, bool) {
	e, ok := r.byAddr[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AddrOf returns the address registered under id.
func (r *Registry) AddrOf(id uint8) (netip.AddrPort, bool) {
	e, ok := r.byID[id]
	if !ok {
		return netip.AddrPort{}, false
	}
	return e.Addr, true
}

// Entries returns a copy of all entries sorted by id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.byAddr))
	for _, e := range r.byAddr {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int { return len(r.byAddr) }

func (r *Registry) Capacity() int { return r.capacity }
