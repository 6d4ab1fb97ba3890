// Package storage defines the event/snapshot store contract shared by all
// backends. Documents are stored as a type name plus a schemaless JSON
// payload; queries are predicate trees from the predicate package.
package storage

import (
	"context"
	"encoding/json"

	"github.com/chronicle/chronicle-go/predicate"
)

// Event is one immutable fact recorded by the store.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Snapshot is the latest materialized state of one aggregate. Saving a
// snapshot with an existing ID replaces the previous one.
type Snapshot struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Store persists events and snapshots and answers predicate queries over
// them. A nil query loads everything. Load order is insertion order for
// events and snapshots alike.
type Store interface {
	SaveEvents(ctx context.Context, events []Event) error
	LoadEvents(ctx context.Context, query predicate.Predicate) ([]Event, error)
	SaveSnapshots(ctx context.Context, snaps []Snapshot) error
	LoadSnapshots(ctx context.Context, query predicate.Predicate) ([]Snapshot, error)
	Close(ctx context.Context) error
}
