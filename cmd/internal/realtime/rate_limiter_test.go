package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_BlocksWhenWindowFull(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(t0.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(t0.Add(10 * time.Millisecond)) {
		t.Fatalf("4th event inside the window must be rejected")
	}
}

func TestRateLimiter_SlidesWithTime(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	if !rl.Allow(t0) || !rl.Allow(t0.Add(500*time.Millisecond)) {
		t.Fatalf("first two events should be allowed")
	}
	if rl.Allow(t0.Add(900 * time.Millisecond)) {
		t.Fatalf("third event at 900ms must be rejected")
	}
	// First event ages out at 1s.
	if !rl.Allow(t0.Add(time.Second)) {
		t.Fatalf("event at 1s should be allowed once the first one left the window")
	}
	if rl.Allow(t0.Add(1200 * time.Millisecond)) {
		t.Fatalf("event at 1.2s must be rejected (500ms and 1s still in window)")
	}
	if !rl.Allow(t0.Add(1500 * time.Millisecond)) {
		t.Fatalf("event at 1.5s should be allowed")
	}
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if len(rl.ring) != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%s", len(rl.ring), rl.window)
	}
}
