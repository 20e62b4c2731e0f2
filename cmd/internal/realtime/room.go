package realtime

import (
	"sync"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// Room is a label-based fanout set of sessions (a tenant room or a role room).
//
// Concurrency guarantees:
//   - Join/Leave are safe under concurrent Broadcast.
//   - Broadcast never blocks; a full member queue drops the envelope for that member only.
type Room struct {
	Name string

	mu      sync.RWMutex
	members map[string]*Session
}

// NewRoom constructs an empty room.
func NewRoom(name string) *Room {
	return &Room{Name: name, members: make(map[string]*Session)}
}

// Join adds a session to the room.
func (r *Room) Join(s *Session) {
	if r == nil || s == nil || s.ID() == "" {
		return
	}
	r.mu.Lock()
	r.members[s.ID()] = s
	r.mu.Unlock()
}

// Leave removes a session and reports how many members remain. Unknown ids are ignored.
func (r *Room) Leave(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	return len(r.members)
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Has reports whether connID is a member.
func (r *Room) Has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connID]
	return ok
}

// Broadcast delivers env to every member except the connection id except.
func (r *Room) Broadcast(env v1.Envelope, except string) (delivered, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if id == except {
			continue
		}
		if m.Enqueue(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
