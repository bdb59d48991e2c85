package events

import (
	"context"
	"sync"
)

// Mux routes outbox entries to a handler per event type. Entries with no
// registered handler go to the fallback, or are acknowledged when there is none.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string][]DeliveryHandler
	fallback DeliveryHandler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string][]DeliveryHandler)}
}

// On registers h for eventType. Multiple handlers run in registration order
// and the first error stops the chain.
func (m *Mux) On(eventType string, h DeliveryHandler) *Mux {
	if h == nil {
		return m
	}
	m.mu.Lock()
	m.handlers[eventType] = append(m.handlers[eventType], h)
	m.mu.Unlock()
	return m
}

// Fallback sets the handler for unregistered types.
func (m *Mux) Fallback(h DeliveryHandler) *Mux {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
	return m
}

func (m *Mux) Handle(ctx context.Context, entry OutboxEntry) error {
	m.mu.RLock()
	handlers := m.handlers[entry.Type]
	fallback := m.fallback
	m.mu.RUnlock()

	if len(handlers) == 0 {
		if fallback == nil {
			return nil
		}
		return fallback.Handle(ctx, entry)
	}
	for _, h := range handlers {
		if err := h.Handle(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
