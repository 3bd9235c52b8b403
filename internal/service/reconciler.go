package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/internal/digest"
	"github.com/alphagov/pay-ledger-sub002/internal/metrics"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
)

// Outcome of a read.
type Outcome int

const (
	NotFound Outcome = iota
	Found
)

func (o Outcome) String() string {
	if o == Found {
		return "found"
	}
	return "not_found"
}

// Source tells whether a read was served from the stored snapshot or rebuilt
// from the event history.
type Source int

const (
	SourceNone Source = iota
	SourceStored
	SourceRebuilt
)

func (s Source) String() string {
	switch s {
	case SourceStored:
		return "stored"
	case SourceRebuilt:
		return "rebuilt"
	}
	return "none"
}

// ReadResult is the answer to a Read.
type ReadResult struct {
	Outcome    Outcome
	Projection projection.Projection
	Source     Source
}

type readOptions struct {
	gatewayAccountID string
}

// ReadOption narrows a Read.
type ReadOption func(*readOptions)

// ForGatewayAccount hides projections that belong to another gateway account.
func ForGatewayAccount(id string) ReadOption {
	return func(o *readOptions) { o.gatewayAccountID = id }
}

// Reconciler serves projection reads and repairs stale snapshots on demand.
// It never writes: a rebuilt projection is returned, not stored.
type Reconciler struct {
	events      repository.EventRepository
	projections repository.ProjectionRepository
	registry    *projection.Registry
	logger      *slog.Logger
}

func NewReconciler(
	events repository.EventRepository,
	projections repository.ProjectionRepository,
	registry *projection.Registry,
	logger *slog.Logger,
) *Reconciler {
	if registry == nil {
		registry = projection.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		events:      events,
		projections: projections,
		registry:    registry,
		logger:      logger.With(slog.String(logging.FieldComponent, "reconciler")),
	}
}

// Read returns the projection of kind for externalID. A consistent read
// compares the stored watermark with the live event count and rebuilds from
// the event history when the snapshot is missing or behind.
func (r *Reconciler) Read(ctx context.Context, kind projection.Kind, externalID string, consistent bool, opts ...ReadOption) (ReadResult, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		res ReadResult
		err error
	)
	if consistent {
		res, err = r.readConsistent(ctx, kind, externalID)
	} else {
		res, err = r.readStored(ctx, kind, externalID)
	}
	if err != nil {
		return ReadResult{}, err
	}

	if res.Outcome == Found && o.gatewayAccountID != "" {
		rec, err := res.Projection.Record()
		if err != nil {
			return ReadResult{}, fmt.Errorf("encode %s %s: %w", kind, externalID, err)
		}
		if rec.GatewayAccountID != o.gatewayAccountID {
			res = ReadResult{}
		}
	}

	metrics.ReadsTotal.WithLabelValues(kind.String(), strconv.FormatBool(consistent), res.Source.String()).Inc()
	return res, nil
}

func (r *Reconciler) readStored(ctx context.Context, kind projection.Kind, externalID string) (ReadResult, error) {
	rec, err := r.projections.Get(ctx, kind, externalID)
	if errors.Is(err, repository.ErrProjectionNotFound) {
		return ReadResult{}, nil
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("get %s %s: %w", kind, externalID, err)
	}
	p, err := rec.Decode()
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Outcome: Found, Projection: p, Source: SourceStored}, nil
}

func (r *Reconciler) readConsistent(ctx context.Context, kind projection.Kind, externalID string) (ReadResult, error) {
	factory, ok := r.registry.ForKind(kind)
	if !ok {
		return ReadResult{}, fmt.Errorf("no factory for projection kind %q", kind)
	}

	events, err := r.events.EventsFor(ctx, externalID)
	if err != nil {
		return ReadResult{}, fmt.Errorf("load events for %s: %w", externalID, err)
	}

	d, err := digest.Build(events, factory.Salient())
	if errors.Is(err, digest.ErrEmptyEvents) {
		return ReadResult{}, nil
	}
	if err != nil {
		return ReadResult{}, err
	}
	if k, ok := projectedKind(events); !ok || k != kind {
		return ReadResult{}, nil
	}

	rec, err := r.projections.Get(ctx, kind, externalID)
	if err != nil && !errors.Is(err, repository.ErrProjectionNotFound) {
		return ReadResult{}, fmt.Errorf("get %s %s: %w", kind, externalID, err)
	}

	if rec != nil && rec.EventCount >= d.EventCount {
		p, err := rec.Decode()
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Outcome: Found, Projection: p, Source: SourceStored}, nil
	}

	p, malformed := factory.Create(d)
	stored := 0
	if rec != nil {
		stored = rec.EventCount
	}
	r.logger.InfoContext(ctx, "serving rebuilt projection",
		logging.Projection(kind.String()),
		logging.ResourceID(externalID),
		logging.EventCount(d.EventCount),
		slog.Int("stored_event_count", stored),
		slog.Int("malformed_fields", len(malformed)),
	)
	return ReadResult{Outcome: Found, Projection: p, Source: SourceRebuilt}, nil
}

// projectedKind is the kind of the latest event whose resource type has a
// projection. Events of other types stored under the same id do not change it.
func projectedKind(events []*models.Event) (projection.Kind, bool) {
	for _, e := range slices.Backward(events) {
		if k, ok := projection.KindFor(e.ResourceType); ok {
			return k, true
		}
	}
	return "", false
}

// List returns a page of stored projections matching params.
func (r *Reconciler) List(ctx context.Context, params repository.Filterable) ([]projection.Projection, int, error) {
	recs, total, err := r.projections.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", params.Kind(), err)
	}
	out := make([]projection.Projection, 0, len(recs))
	for _, rec := range recs {
		p, err := rec.Decode()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, nil
}

// Events returns the event history of a resource in fold order.
func (r *Reconciler) Events(ctx context.Context, externalID string) ([]*models.Event, error) {
	events, err := r.events.EventsFor(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", externalID, err)
	}
	return events, nil
}
