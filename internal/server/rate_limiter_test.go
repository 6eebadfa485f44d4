package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestLimiter(burst int, interval time.Duration) (*frameLimiter, *time.Time) {
	now := time.Unix(1700000000, 0)
	l := newFrameLimiter(RateLimitConfig{Burst: burst, RefillInterval: interval})
	l.now = func() time.Time { return now }
	l.last = now
	return l, &now
}

func TestFrameLimiter(t *testing.T) {
	l, now := newTestLimiter(3, 3*time.Second)

	for i := 0; i < 3; i++ {
		if ok, _ := l.admit(); !ok {
			t.Fatalf("Expected frame %d within burst to be admitted", i+1)
		}
	}
	if ok, _ := l.admit(); ok {
		t.Fatal("Expected frame beyond burst to be discarded")
	}

	*now = now.Add(time.Second)
	if ok, _ := l.admit(); !ok {
		t.Error("Expected one frame of budget after one second")
	}
	if ok, _ := l.admit(); ok {
		t.Error("Expected budget to be spent again")
	}

	*now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if ok, _ := l.admit(); !ok {
			t.Fatalf("Expected refilled frame %d", i+1)
		}
	}
	if ok, _ := l.admit(); ok {
		t.Error("Expected refill to be capped at burst")
	}
}

func TestFrameLimiterCountsDiscardRuns(t *testing.T) {
	l, now := newTestLimiter(1, time.Second)

	if ok, n := l.admit(); !ok || n != 0 {
		t.Fatalf("admit() = %v, %d; want true, 0", ok, n)
	}
	for want := 1; want <= 3; want++ {
		if ok, n := l.admit(); ok || n != want {
			t.Fatalf("admit() = %v, %d; want false, %d", ok, n, want)
		}
	}

	*now = now.Add(time.Second)
	if ok, n := l.admit(); !ok || n != 3 {
		t.Errorf("admit() after refill = %v, %d; want true, 3", ok, n)
	}

	*now = now.Add(time.Second)
	if ok, n := l.admit(); !ok || n != 0 {
		t.Errorf("admit() = %v, %d; want a fresh run", ok, n)
	}
}

func TestFrameLimiterInvalidConfig(t *testing.T) {
	l := newFrameLimiter(RateLimitConfig{})
	if ok, _ := l.admit(); !ok {
		t.Error("Expected a zero config to still admit one frame")
	}
}

func TestCheckRateLimitCountsDiscards(t *testing.T) {
	cfg := NewConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	srv := New(cfg, Options{})
	c := newConn(srv, nil, "1", testIdentity("alice"), "test")

	allowed := 0
	for i := 0; i < 5; i++ {
		if c.checkRateLimit() {
			allowed++
		}
	}

	if allowed != 2 {
		t.Errorf("Expected 2 frames allowed, got %d", allowed)
	}
	if got := testutil.ToFloat64(srv.Metrics().discarded); got != 3 {
		t.Errorf("Expected 3 discarded frames, got %v", got)
	}
}
