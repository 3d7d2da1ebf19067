// Package ratelimit provides an injected, per-caller rate limiter. Call
// sites depend on the Limiter interface so the sliding-window implementation
// can be swapped for a distributed store without touching them.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a caller may proceed.
type Limiter interface {
	Allow(key string) bool
}

// Unlimited is a Limiter that always allows. Used when rate limiting is
// disabled by configuration.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(string) bool { return true }

// SlidingWindow allows at most limit calls per key within a rolling window.
// Expired timestamps are evicted on every Allow; keys idle for a full window
// are dropped during a periodic sweep so the map does not grow unbounded.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	calls  map[string][]time.Time
	// lastSweep tracks the previous idle-key eviction pass.
	lastSweep time.Time
	now       func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit calls per window per key.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:    window,
		limit:     limit,
		calls:     make(map[string][]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow records a call for key and reports whether it falls within the
// window budget. Denied calls are not recorded.
func (s *SlidingWindow) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	recent := s.calls[key][:0]
	for _, ts := range s.calls[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= s.limit {
		s.calls[key] = recent
		s.sweepLocked(now)
		return false
	}

	s.calls[key] = append(recent, now)
	s.sweepLocked(now)
	return true
}

// sweepLocked drops keys with no activity inside the window. Runs at most
// once per window.
func (s *SlidingWindow) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.window {
		return
	}
	s.lastSweep = now
	cutoff := now.Add(-s.window)
	for key, timestamps := range s.calls {
		live := false
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(s.calls, key)
		}
	}
}

// KeyCount returns the number of tracked keys.
func (s *SlidingWindow) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
