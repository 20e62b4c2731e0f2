package client

import "time"

// Backoff is a capped exponential reconnect schedule with a fixed attempt budget.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff doubles from 500ms up to 30s, giving up after 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        500 * time.Millisecond,
		Max:         30 * time.Second,
		Factor:      2,
		MaxAttempts: 10,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// Delay returns the wait after failed attempt number attempt (1-based).
// Delays never decrease and never exceed Max.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}
