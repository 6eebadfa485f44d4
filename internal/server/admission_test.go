package server

import (
	"testing"
	"time"
)

func TestTrackRefusedOnceShutdownBegins(t *testing.T) {
	srv := New(nil, Options{})

	early := newTestConn(t, srv, "1", "alice")
	if !srv.track(early) {
		t.Fatal("Expected track to accept before shutdown")
	}
	// Stand in for the connection loop, which would release and finish.
	srv.release(early)
	srv.wg.Done()

	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	late := newTestConn(t, srv, "1", "bob")
	if srv.track(late) {
		t.Error("Expected track to refuse after shutdown")
	}
	if srv.Registry().Contains("1", late) {
		t.Error("Expected refused connection to stay out of the registry")
	}
	if !srv.isClosing() {
		t.Error("Expected server to report closing")
	}
}
