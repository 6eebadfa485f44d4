package server

import (
	"sync"
	"time"
)

// frameLimiter is a token bucket over one connection's inbound text frames.
// Budget is kept as time: each frame costs perFrame and the bucket holds at
// most burst frames' worth. It also counts the current run of discarded
// frames so the read loop logs once per run instead of once per frame.
type frameLimiter struct {
	mu       sync.Mutex
	perFrame time.Duration
	ceiling  time.Duration
	budget   time.Duration
	last     time.Time
	now      func() time.Time

	discarding int
}

func newFrameLimiter(cfg RateLimitConfig) *frameLimiter {
	burst, interval := cfg.Burst, cfg.RefillInterval
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perFrame := interval / time.Duration(burst)
	if perFrame <= 0 {
		perFrame = time.Nanosecond
	}

	ceiling := perFrame * time.Duration(burst)
	return &frameLimiter{
		perFrame: perFrame,
		ceiling:  ceiling,
		budget:   ceiling,
		last:     time.Now(),
		now:      time.Now,
	}
}

// admit spends one frame of budget. On refusal n is the length of the
// current discard run, starting at 1. On acceptance n is the length of the
// run that just ended, or 0.
func (l *frameLimiter) admit() (ok bool, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.budget += elapsed
		if l.budget > l.ceiling {
			l.budget = l.ceiling
		}
	}
	l.last = now

	if l.budget < l.perFrame {
		l.discarding++
		return false, l.discarding
	}

	l.budget -= l.perFrame
	n, l.discarding = l.discarding, 0
	return true, n
}
