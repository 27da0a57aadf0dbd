package websocket

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler receives the raw payload of a named event.
type Handler func(data json.RawMessage)

type listener struct {
	id uint64
	fn Handler
}

// Hub keeps event listeners across reconnects. Listeners of one event run in
// registration order, on the goroutine reading the connection.
type Hub struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string][]listener
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[string][]listener)}
}

// On registers fn for event. The returned func detaches it; calling it more
// than once is harmless.
func (h *Hub) On(event string, fn Handler) (detach func()) {
	h.mu.Lock()
	h.next++
	id := h.next
	h.listeners[event] = append(h.listeners[event], listener{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.off(event, id) })
	}
}

func (h *Hub) off(event string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ls := h.listeners[event]
	for i, l := range ls {
		if l.id == id {
			h.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(h.listeners[event]) == 0 {
		delete(h.listeners, event)
	}
}

// Count returns how many listeners are attached to event.
func (h *Hub) Count(event string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[event])
}

func (h *Hub) Dispatch(event string, data json.RawMessage) {
	h.mu.RLock()
	ls := make([]listener, len(h.listeners[event]))
	copy(ls, h.listeners[event])
	h.mu.RUnlock()

	if len(ls) == 0 {
		log.Debug().Str("event", event).Msg("No listener for event")
		return
	}
	for _, l := range ls {
		l.fn(data)
	}
}
