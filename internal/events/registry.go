package events

import (
	"context"
	"sync"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
)

// Handler processes events of a specific type from the completion feed.
// Payload is the raw message body; the handler owns decoding it.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
	EventType() string
}

// Registry maps event types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.EventType()] = h
}

// Get returns the handler for the given event type.
// Returns InvalidEventTypeError if not registered.
func (r *Registry) Get(eventType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	if !ok {
		return nil, &domain.InvalidEventTypeError{EventType: eventType}
	}
	return h, nil
}
