// Package repository stores events and projections.
package repository

import (
	"context"
	"errors"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

var (
	// ErrProjectionNotFound is returned when no projection is stored for a key.
	ErrProjectionNotFound = errors.New("projection not found")

	// ErrStoreUnavailable wraps failures to reach the store, including timeouts.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsertResult is the outcome of InsertIfNew.
type InsertResult int

const (
	Inserted InsertResult = iota + 1
	Duplicate
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// EventRepository is the append-only event store.
type EventRepository interface {
	// InsertIfNew stores e unless an event with the same delivery id exists.
	// On Inserted, e.ID is set to the store-assigned id.
	InsertIfNew(ctx context.Context, e *models.Event) (InsertResult, error)

	// EventsFor returns the events of a resource ordered by (event date, id).
	EventsFor(ctx context.Context, resourceExternalID string) ([]*models.Event, error)

	// CountEvents returns the number of stored events for a resource.
	CountEvents(ctx context.Context, resourceExternalID string) (int, error)
}

// ProjectionRepository stores the latest projection of each resource.
type ProjectionRepository interface {
	// Upsert writes rec unless the stored projection has a higher event count.
	// It reports whether the write was applied.
	Upsert(ctx context.Context, rec *projection.Record) (bool, error)

	// Get returns ErrProjectionNotFound when nothing is stored.
	Get(ctx context.Context, kind projection.Kind, externalID string) (*projection.Record, error)

	// List returns a page of projections matching params and the total match count.
	List(ctx context.Context, params Filterable) ([]*projection.Record, int, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	EventRepository
	ProjectionRepository
	Ping(ctx context.Context) error
	Close() error
}
