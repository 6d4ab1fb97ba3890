package storage

import (
	"context"
	"sync"

	"github.com/chronicle/chronicle-go/predicate"
)

// MemoryStore keeps events and snapshots in process memory, filtering loads
// with the in-memory predicate evaluator. Useful for testing and local
// development, not for production data.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []Event
	snapshots map[string]Snapshot
	snapOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// SaveEvents appends events in order.
func (m *MemoryStore) SaveEvents(ctx context.Context, events []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// LoadEvents returns events matching the query in insertion order.
func (m *MemoryStore) LoadEvents(ctx context.Context, query predicate.Predicate) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if query == nil || predicate.Matches(query, e.Type, e.Data) {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveSnapshots inserts or replaces snapshots by ID.
func (m *MemoryStore) SaveSnapshots(ctx context.Context, snaps []Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		if _, ok := m.snapshots[s.ID]; !ok {
			m.snapOrder = append(m.snapOrder, s.ID)
		}
		m.snapshots[s.ID] = s
	}
	return nil
}

// LoadSnapshots returns snapshots matching the query in first-insertion
// order.
func (m *MemoryStore) LoadSnapshots(ctx context.Context, query predicate.Predicate) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for _, id := range m.snapOrder {
		s := m.snapshots[id]
		if query == nil || predicate.Matches(query, s.Type, s.Data) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Close is a no-op; the store holds no external resources.
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
