package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter.
// It keeps the timestamps of the last `limit` accepted events in a ring.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	filled int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, substituting defaults for invalid inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at now is permitted, and records it when it is.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == len(r.ring) {
		// The oldest accepted event sits at next; the window is full until it ages out.
		if now.Sub(r.ring[r.next]) < r.window {
			return false
		}
	} else {
		r.filled++
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}
