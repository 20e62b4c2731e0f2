package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the in-process rooms. Rooms are created on first join and dropped when empty.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Attach places s into every room it belongs to.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range s.rooms {
		r, ok := h.rooms[name]
		if !ok {
			r = NewRoom(name)
			h.rooms[name] = r
		}
		r.Join(s)
	}
	h.log.Debug("hub.attach", "conn_id", s.ID(), "rooms", s.rooms)
}

// Detach removes s from its rooms. Detaching twice is harmless.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range s.rooms {
		r, ok := h.rooms[name]
		if !ok {
			continue
		}
		if r.Leave(s.ID()) == 0 {
			delete(h.rooms, name)
		}
	}
	h.log.Debug("hub.detach", "conn_id", s.ID())
}

// Room returns the named room, or nil when nobody is in it.
func (h *Hub) Room(name string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[name]
}
