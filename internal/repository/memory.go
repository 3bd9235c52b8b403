package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

// MemoryRepository is an in-process Store for tests and local runs.
type MemoryRepository struct {
	mu          sync.RWMutex
	nextID      int64
	deliveries  map[string]struct{}
	events      map[string][]*models.Event
	projections map[projectionKey]*projection.Record
}

type projectionKey struct {
	kind       projection.Kind
	externalID string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		deliveries:  make(map[string]struct{}),
		events:      make(map[string][]*models.Event),
		projections: make(map[projectionKey]*projection.Record),
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctxError(ctx, "ping") }
func (r *MemoryRepository) Close() error                   { return nil }

// ctxError reports a done context the way the Postgres store reports a
// timed out or cancelled call.
func ctxError(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return nil
}

func cloneEvent(e *models.Event) *models.Event {
	cp := *e
	cp.EventData = maps.Clone(e.EventData)
	return &cp
}

func (r *MemoryRepository) InsertIfNew(ctx context.Context, e *models.Event) (InsertResult, error) {
	if err := ctxError(ctx, "insert event"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[e.DeliveryID]; ok {
		return Duplicate, nil
	}
	r.nextID++
	e.ID = r.nextID

	r.deliveries[e.DeliveryID] = struct{}{}
	r.events[e.ResourceExternalID] = append(r.events[e.ResourceExternalID], cloneEvent(e))
	return Inserted, nil
}

func (r *MemoryRepository) EventsFor(ctx context.Context, resourceExternalID string) ([]*models.Event, error) {
	if err := ctxError(ctx, "load events"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[resourceExternalID]
	out := make([]*models.Event, len(stored))
	for i, e := range stored {
		out[i] = cloneEvent(e)
	}
	slices.SortFunc(out, func(a, b *models.Event) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *MemoryRepository) CountEvents(ctx context.Context, resourceExternalID string) (int, error) {
	if err := ctxError(ctx, "count events"); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events[resourceExternalID]), nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, rec *projection.Record) (bool, error) {
	if err := ctxError(ctx, "upsert projection"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := projectionKey{rec.Kind, rec.ExternalID}
	if existing, ok := r.projections[key]; ok && existing.EventCount > rec.EventCount {
		return false, nil
	}
	cp := *rec
	cp.Details = slices.Clone(rec.Details)
	r.projections[key] = &cp
	return true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, kind projection.Kind, externalID string) (*projection.Record, error) {
	if err := ctxError(ctx, "get projection"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.projections[projectionKey{kind, externalID}]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context, params Filterable) ([]*projection.Record, int, error) {
	if err := ctxError(ctx, "list projections"); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	var matched []*projection.Record
	for _, rec := range r.projections {
		if params.Matches(rec) {
			cp := *rec
			matched = append(matched, &cp)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *projection.Record) int {
		if c := b.CreatedDate.Compare(a.CreatedDate); c != 0 {
			return c
		}
		switch {
		case a.ExternalID < b.ExternalID:
			return -1
		case a.ExternalID > b.ExternalID:
			return 1
		}
		return 0
	})

	total := len(matched)
	limit, offset := params.Paging()
	offset = max(offset, 0)
	if offset >= total {
		return []*projection.Record{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}
