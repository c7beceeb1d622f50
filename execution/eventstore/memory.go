package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/chaingraphlabs/chaingraph/execution/event"
)

// MemoryBackend is an in-memory Backend. It is not durable and is intended
// for tests, local development, and as the embedded "live" tier a deployment
// falls back to before a durable Backend (mongostore) is configured.
type MemoryBackend struct {
	mu     sync.Mutex
	events map[string]map[int64]event.Event
}

// NewMemoryBackend returns a new in-memory event backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{events: make(map[string]map[int64]event.Event)}
}

// WriteBatch writes batch, ignoring any (executionID, index) pair already
// present, so a retried write after a partial failure never double-records
// an event.
func (m *MemoryBackend) WriteBatch(_ context.Context, executionID string, batch []event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.events[executionID]
	if !ok {
		byIndex = make(map[int64]event.Event)
		m.events[executionID] = byIndex
	}
	for _, e := range batch {
		if _, exists := byIndex[e.Index]; exists {
			continue
		}
		byIndex[e.Index] = e
	}
	return nil
}

// List returns events for executionID with index > fromIndex, ascending,
// capped at limit.
func (m *MemoryBackend) List(_ context.Context, executionID string, fromIndex int64, limit int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex := m.events[executionID]
	all := make([]event.Event, 0, len(byIndex))
	for _, e := range byIndex {
		if e.Index > fromIndex {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Index < all[j].Index })

	hasMore := len(all) > limit
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	var next int64
	if len(all) > 0 {
		next = all[len(all)-1].Index
	} else {
		next = fromIndex
	}
	return Page{Events: all, NextCursor: next, HasMore: hasMore}, nil
}

// Delete removes all events recorded for executionID.
func (m *MemoryBackend) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, executionID)
	return nil
}
