package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOutbox is an in-process outbox used by tests and local runs without Postgres.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	OutboxEntry
	delivered   bool
	availableAt time.Time
	lastError   string
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[uuid.UUID]*memoryEntry), now: time.Now}
}

func (o *MemoryOutbox) Insert(_ context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	now := o.now()
	id := uuid.New()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[id] = &memoryEntry{
		OutboxEntry: OutboxEntry{ID: id, AggregateID: aggregateID, Type: eventType, Payload: data, CreatedAt: now},
		availableAt: now,
	}
	return id, nil
}

func (o *MemoryOutbox) FetchPending(_ context.Context, limit int32) ([]OutboxEntry, error) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEntry
	for _, e := range o.entries {
		if e.delivered || e.availableAt.After(now) {
			continue
		}
		out = append(out, e.OutboxEntry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (o *MemoryOutbox) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok || e.delivered {
		return false, nil
	}
	e.delivered = true
	return true, nil
}

func (o *MemoryOutbox) MarkFailed(_ context.Context, id uuid.UUID, cause string, retryIn time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[id]; ok && !e.delivered {
		e.Attempts++
		e.lastError = cause
		e.availableAt = o.now().Add(retryIn)
	}
	return nil
}

// Entries returns every recorded entry of the given type, oldest first.
func (o *MemoryOutbox) Entries(eventType string) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEntry
	for _, e := range o.entries {
		if eventType == "" || e.Type == eventType {
			out = append(out, e.OutboxEntry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
