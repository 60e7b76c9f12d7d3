// Package events is the in-process fan-out hub connecting the agent
// runtime to WebSocket subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// Handler receives one broadcast event. Handlers must not block; slow
// consumers should buffer internally.
type Handler func(protocol.Event)

// Publisher abstracts event broadcast + subscription so the agent runtime
// does not depend on the concrete hub.
type Publisher interface {
	Subscribe(id string, handler Handler)
	Unsubscribe(id string)
	Broadcast(event protocol.Event)
}

// Hub is the default Publisher. Every subscriber sees every event.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string]Handler)}
}

// Subscribe registers a handler under an id. Re-subscribing the same id
// replaces the previous handler.
func (h *Hub) Subscribe(id string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = handler
}

// Unsubscribe removes a handler.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

// Broadcast delivers the event to all current subscribers. Panicking
// handlers are dropped from the hub.
func (h *Hub) Broadcast(event protocol.Event) {
	h.mu.RLock()
	subs := make(map[string]Handler, len(h.handlers))
	for id, fn := range h.handlers {
		subs[id] = fn
	}
	h.mu.RUnlock()

	for id, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "subscriber", id, "event", event.Name, "panic", r)
					h.Unsubscribe(id)
				}
			}()
			fn(event)
		}()
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
