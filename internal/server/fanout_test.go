package server

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFanOutToPeerClosedAfterSnapshot(t *testing.T) {
	srv := New(nil, Options{})
	reg := srv.Registry()
	alice := newTestConn(t, srv, "7", "alice")
	bob := newTestConn(t, srv, "7", "bob")
	carol := newTestConn(t, srv, "7", "carol")
	for _, c := range []*Conn{alice, bob, carol} {
		reg.Register("7", c)
	}

	// bob's transport goes away while he is still in the room.
	bob.Close()

	delivered := srv.fanOut("7", Envelope{User: "alice", Msg: "ping"}, alice.id)
	if delivered != 1 {
		t.Fatalf("Expected delivery to carol only, got %d", delivered)
	}

	select {
	case payload := <-carol.send:
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if env != (Envelope{User: "alice", Msg: "ping"}) {
			t.Errorf("Unexpected envelope %+v", env)
		}
	default:
		t.Fatal("Expected carol to have a queued envelope")
	}
	if len(alice.send) != 0 || len(bob.send) != 0 {
		t.Error("Expected nothing queued for the sender or the closed peer")
	}
	if got := testutil.ToFloat64(srv.metrics.deliveries.WithLabelValues(deliveryDropped)); got != 1 {
		t.Errorf("Expected 1 dropped delivery, got %v", got)
	}

	srv.release(bob)
	srv.release(bob)

	if got := reg.Count("7"); got != 2 {
		t.Errorf("Expected alice and carol to remain, got %d members", got)
	}
	if reg.Contains("7", bob) {
		t.Error("Expected bob to be unregistered")
	}
}

func TestFanOutToFullQueue(t *testing.T) {
	cfg := NewConfig()
	cfg.SendBufferSize = 1
	srv := New(cfg, Options{})
	alice := newTestConn(t, srv, "1", "alice")
	bob := newTestConn(t, srv, "1", "bob")
	carol := newTestConn(t, srv, "1", "carol")
	for _, c := range []*Conn{alice, bob, carol} {
		srv.Registry().Register("1", c)
	}

	bob.send <- []byte("backlog")

	if got := srv.fanOut("1", Envelope{User: "alice", Msg: "hi"}, alice.id); got != 1 {
		t.Errorf("Expected one delivery past the full queue, got %d", got)
	}
	if len(carol.send) != 1 {
		t.Error("Expected carol to receive despite bob's full queue")
	}
}
