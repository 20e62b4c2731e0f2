package realtime

import (
	"sync"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// Transport names, used for logs and metrics labels.
const (
	TransportWS   = "ws"
	TransportPoll = "poll"
)

// Session represents one live connection, whatever carries it.
//
// Design notes:
//   - Send is never closed; broadcasters may still hold the session while it shuts down.
//   - done signals the transport goroutines to stop; Close is idempotent.
//   - rooms is fixed at admission and only read afterwards.
type Session struct {
	Identity  ConnectionIdentity
	Transport string
	Send      chan v1.Envelope

	rooms   []string
	limiter *RateLimiter

	done        chan struct{}
	closeOnce   sync.Once
	releaseOnce sync.Once
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(id ConnectionIdentity, transport string, sendQueueSize int, limiter *RateLimiter) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	if limiter == nil {
		limiter = NewRateLimiter(rateLimitEvents, rateLimitWindow)
	}
	return &Session{
		Identity:  id,
		Transport: transport,
		Send:      make(chan v1.Envelope, sendQueueSize),
		rooms: []string{
			TenantRoom(id.TenantID),
			RoleRoom(id.TenantID, id.Role),
		},
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.Identity.ConnID }

// Rooms returns the rooms the session belongs to.
func (s *Session) Rooms() []string { return append([]string(nil), s.rooms...) }

// Done returns a channel that is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the session goroutines to stop (idempotent).
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Enqueue hands env to the session's writer without blocking.
// It reports false when the queue is full or the session is closing.
func (s *Session) Enqueue(env v1.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.Send <- env:
		return true
	default:
		return false
	}
}

// allow applies the per-connection rate limit.
func (s *Session) allow(now time.Time) bool {
	return s.limiter.Allow(now)
}
