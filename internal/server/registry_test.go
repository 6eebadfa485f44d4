package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/roomchat/internal/auth"
)

func testIdentity(name string) auth.Identity {
	return auth.Identity{Name: name}
}

func newTestConn(t *testing.T, srv *Server, room RoomID, user string) *Conn {
	t.Helper()
	return newConn(srv, nil, room, testIdentity(user), "test")
}

func TestRegistryRegister(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	c := newTestConn(t, srv, "lobby", "alice")

	if !reg.Register("lobby", c) {
		t.Fatal("Expected first Register to add the connection")
	}
	if reg.Register("lobby", c) {
		t.Error("Expected duplicate Register to report false")
	}
	if got := reg.Count("lobby"); got != 1 {
		t.Errorf("Expected 1 member, got %d", got)
	}
	if !reg.Contains("lobby", c) {
		t.Error("Expected registry to contain the connection")
	}
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	c := newTestConn(t, srv, "lobby", "alice")

	if reg.Unregister("lobby", c) {
		t.Error("Expected Unregister on unknown room to report false")
	}

	reg.Register("lobby", c)
	if !reg.Unregister("lobby", c) {
		t.Fatal("Expected Unregister to remove the connection")
	}
	if reg.Unregister("lobby", c) {
		t.Error("Expected second Unregister to report false")
	}
	if reg.Contains("lobby", c) {
		t.Error("Expected connection to be gone")
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	a := newTestConn(t, srv, "lobby", "alice")
	b := newTestConn(t, srv, "lobby", "bob")
	reg.Register("lobby", a)
	reg.Register("lobby", b)

	snap := reg.Snapshot("lobby")
	if len(snap) != 2 || snap[0] != a || snap[1] != b {
		t.Fatalf("Expected [alice bob] in registration order, got %v", snap)
	}

	reg.Unregister("lobby", a)
	if len(snap) != 2 {
		t.Error("Snapshot changed after Unregister")
	}
	if got := reg.Snapshot("lobby"); len(got) != 1 || got[0] != b {
		t.Errorf("Expected [bob] after Unregister, got %v", got)
	}

	if got := reg.Snapshot("nowhere"); len(got) != 0 {
		t.Errorf("Expected empty snapshot for unknown room, got %v", got)
	}
}

func TestRegistryRoomsAreIsolated(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	a := newTestConn(t, srv, "1", "alice")
	b := newTestConn(t, srv, "2", "bob")
	reg.Register("1", a)
	reg.Register("2", b)

	if reg.Contains("1", b) || reg.Contains("2", a) {
		t.Error("Connection leaked into another room")
	}
	if reg.Unregister("1", b) {
		t.Error("Expected Unregister from the wrong room to report false")
	}

	rooms := reg.Rooms()
	if len(rooms) != 2 || rooms[0].Room != "1" || rooms[1].Room != "2" {
		t.Errorf("Unexpected room stats %v", rooms)
	}
	if reg.Total() != 2 {
		t.Errorf("Expected total 2, got %d", reg.Total())
	}
}

func TestRegistryConcurrentOperations(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()

	const rooms, perRoom = 8, 50
	conns := make([][]*Conn, rooms)
	for r := range conns {
		for i := 0; i < perRoom; i++ {
			conns[r] = append(conns[r], newTestConn(t, srv, RoomID(fmt.Sprint(r)), fmt.Sprint("user", i)))
		}
	}

	var wg sync.WaitGroup
	for r := range conns {
		for _, c := range conns[r] {
			wg.Add(2)
			go func(c *Conn) {
				defer wg.Done()
				reg.Register(c.room, c)
			}(c)
			go func(room RoomID) {
				defer wg.Done()
				_ = reg.Snapshot(room)
			}(c.room)
		}
	}
	wg.Wait()

	if reg.Total() != rooms*perRoom {
		t.Fatalf("Expected %d connections, got %d", rooms*perRoom, reg.Total())
	}

	for r := range conns {
		for i, c := range conns[r] {
			if i%2 == 0 {
				continue
			}
			wg.Add(1)
			go func(c *Conn) {
				defer wg.Done()
				reg.Unregister(c.room, c)
			}(c)
		}
	}
	wg.Wait()

	for r := range conns {
		if got := reg.Count(RoomID(fmt.Sprint(r))); got != perRoom/2 {
			t.Errorf("Room %d: expected %d members, got %d", r, perRoom/2, got)
		}
	}
}

func TestRegistryPrune(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	a := newTestConn(t, srv, "busy", "alice")
	b := newTestConn(t, srv, "idle", "bob")
	reg.Register("busy", a)
	reg.Register("idle", b)
	reg.Unregister("idle", b)

	if got := reg.Prune(); got != 1 {
		t.Fatalf("Expected 1 pruned room, got %d", got)
	}
	if rooms := reg.Rooms(); len(rooms) != 1 || rooms[0].Room != "busy" {
		t.Errorf("Expected only busy room to remain, got %v", rooms)
	}

	if !reg.Register("idle", b) {
		t.Error("Expected Register to recreate a pruned room")
	}
	if !reg.Contains("idle", b) {
		t.Error("Expected connection in recreated room")
	}
}

func TestRegistryPruneRacingRegister(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()

	const n = 200
	conns := make([]*Conn, n)
	for i := range conns {
		conns[i] = newTestConn(t, srv, "hot", fmt.Sprint("user", i))
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(2)
		go func(c *Conn) {
			defer wg.Done()
			reg.Register("hot", c)
		}(c)
		go func() {
			defer wg.Done()
			reg.Prune()
		}()
	}
	wg.Wait()

	if got := reg.Count("hot"); got != n {
		t.Errorf("Expected every registration to survive pruning, got %d of %d", got, n)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	srv := New(nil, Options{})
	reg := NewRegistry()
	a := newTestConn(t, srv, "1", "alice")
	b := newTestConn(t, srv, "2", "bob")
	reg.Register("1", a)
	reg.Register("2", b)

	if got := reg.CloseAll(); got != 2 {
		t.Fatalf("Expected 2 closed connections, got %d", got)
	}
	for _, c := range []*Conn{a, b} {
		if c.enqueue([]byte("x")) {
			t.Errorf("Expected closed connection %s to refuse messages", c.identity.Name)
		}
	}
}
