package server

import (
	"sort"
	"sync"
)

// Registry maps room identifiers to the connections currently admitted to
// them. Each room has its own lock, so register, unregister and snapshot on
// one room never block another room; the registry lock only guards the room
// lookup table.
type Registry struct {
	mu    sync.RWMutex
	rooms map[RoomID]*room
}

type room struct {
	mu      sync.Mutex
	members []*Conn
	// pruned is set once the room has been dropped from the lookup table.
	// Nothing may be registered into a pruned room.
	pruned bool
}

// RoomStats reports the live membership of one room.
type RoomStats struct {
	Room        RoomID `json:"room"`
	Connections int    `json:"connections"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[RoomID]*room)}
}

func (r *Registry) lookup(id RoomID, create bool) *room {
	r.mu.RLock()
	rm := r.rooms[id]
	r.mu.RUnlock()
	if rm != nil || !create {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[id]; rm == nil {
		rm = &room{}
		r.rooms[id] = rm
	}
	return rm
}

// Register adds c to the room, creating the room on first use. It reports
// false when c was already registered there.
func (r *Registry) Register(id RoomID, c *Conn) bool {
	for {
		rm := r.lookup(id, true)
		rm.mu.Lock()
		if rm.pruned {
			// Lost a race with Prune; the next lookup creates a fresh room.
			rm.mu.Unlock()
			continue
		}
		added := rm.add(c)
		rm.mu.Unlock()
		return added
	}
}

// Unregister removes c from the room. Removing a connection that is not
// registered is a no-op and reports false.
func (r *Registry) Unregister(id RoomID, c *Conn) bool {
	rm := r.lookup(id, false)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.remove(c.id)
}

// Snapshot returns the room's members in registration order. The slice is
// a copy; members may close after it is taken.
func (r *Registry) Snapshot(id RoomID) []*Conn {
	rm := r.lookup(id, false)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]*Conn(nil), rm.members...)
}

// Count returns the number of connections registered in the room.
func (r *Registry) Count(id RoomID) int {
	rm := r.lookup(id, false)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Contains reports whether c is registered in the room.
func (r *Registry) Contains(id RoomID, c *Conn) bool {
	rm := r.lookup(id, false)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.index(c.id) >= 0
}

// Rooms lists every known room, including empty ones not yet pruned,
// sorted by identifier.
func (r *Registry) Rooms() []RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]RoomStats, 0, len(r.rooms))
	for id, rm := range r.rooms {
		rm.mu.Lock()
		stats = append(stats, RoomStats{Room: id, Connections: len(rm.members)})
		rm.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Room < stats[j].Room })
	return stats
}

// Total returns the number of registered connections across all rooms.
func (r *Registry) Total() int {
	total := 0
	for _, s := range r.Rooms() {
		total += s.Connections
	}
	return total
}

// Prune drops rooms with no members and returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rm := range r.rooms {
		rm.mu.Lock()
		if len(rm.members) == 0 {
			rm.pruned = true
			delete(r.rooms, id)
			removed++
		}
		rm.mu.Unlock()
	}
	return removed
}

// CloseAll closes every registered connection. Each connection's own loop
// then unregisters it.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	var conns []*Conn
	for _, rm := range r.rooms {
		rm.mu.Lock()
		conns = append(conns, rm.members...)
		rm.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

func (rm *room) index(id ConnID) int {
	for i, m := range rm.members {
		if m.id == id {
			return i
		}
	}
	return -1
}

func (rm *room) add(c *Conn) bool {
	if rm.index(c.id) >= 0 {
		return false
	}
	rm.members = append(rm.members, c)
	return true
}

func (rm *room) remove(id ConnID) bool {
	i := rm.index(id)
	if i < 0 {
		return false
	}
	copy(rm.members[i:], rm.members[i+1:])
	rm.members[len(rm.members)-1] = nil
	rm.members = rm.members[:len(rm.members)-1]
	return true
}
