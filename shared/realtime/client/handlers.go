package client

import (
	"encoding/json"
	"sync"
	"time"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// TagSyncSnapshot is the synthetic tag under which the sync:request answer issued after a
// reconnection is dispatched. Its Message carries no Event; decode the payload as v1.SyncSnapshot.
const TagSyncSnapshot = "sync:snapshot"

// Message is one inbound event as seen by handlers.
type Message struct {
	Tag     string
	ID      string
	TS      time.Time
	Payload json.RawMessage

	// Event is the decoded payload; nil for synthetic tags and undecodable payloads.
	Event v1.Event
}

// Decode unmarshals the raw payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler receives inbound messages. Handlers run one at a time on the dispatch goroutine.
type Handler func(Message)

// HandlerID identifies a registration for Off.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

type handlerSet struct {
	mu     sync.RWMutex
	nextID HandlerID
	byTag  map[string][]registration
}

func newHandlerSet() *handlerSet {
	return &handlerSet{byTag: make(map[string][]registration)}
}

func (h *handlerSet) add(tag string, fn Handler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.byTag[tag] = append(h.byTag[tag], registration{id: h.nextID, fn: fn})
	return h.nextID
}

func (h *handlerSet) remove(tag string, id HandlerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	regs := h.byTag[tag]
	for i, r := range regs {
		if r.id == id {
			// Copy so a dispatch iterating the old slice is unaffected.
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(h.byTag, tag)
			} else {
				h.byTag[tag] = next
			}
			return true
		}
	}
	return false
}

// forTag returns the handlers of tag in registration order.
func (h *handlerSet) forTag(tag string) []registration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byTag[tag]
}
