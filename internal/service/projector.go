// Package service holds the projection write path (Projector) and the
// read-repair path (Reconciler).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/internal/digest"
	"github.com/alphagov/pay-ledger-sub002/internal/lock"
	"github.com/alphagov/pay-ledger-sub002/internal/metrics"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
)

// ErrUnprojectable is returned for resource types no factory handles.
var ErrUnprojectable = errors.New("resource type has no projection")

// Projector rebuilds a resource's projection from its full event history and
// stores it.
type Projector struct {
	events      repository.EventRepository
	projections repository.ProjectionRepository
	registry    *projection.Registry
	locker      lock.Locker
	logger      *slog.Logger
}

func NewProjector(
	events repository.EventRepository,
	projections repository.ProjectionRepository,
	registry *projection.Registry,
	locker lock.Locker,
	logger *slog.Logger,
) *Projector {
	if registry == nil {
		registry = projection.DefaultRegistry()
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		events:      events,
		projections: projections,
		registry:    registry,
		locker:      locker,
		logger:      logger.With(slog.String(logging.FieldComponent, "projector")),
	}
}

// Projectable reports whether events of rt feed a projection.
func (p *Projector) Projectable(rt models.ResourceType) bool {
	_, ok := p.registry.ForResource(rt)
	return ok
}

// Project recomputes the digest of externalID and upserts the resulting
// projection. The load and the upsert run under a per-resource lock; the
// store's watermark guard covers writers that do not share the lock.
func (p *Projector) Project(ctx context.Context, rt models.ResourceType, externalID string) (projection.Projection, error) {
	factory, ok := p.registry.ForResource(rt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnprojectable, rt)
	}
	kind := factory.Kind()
	start := time.Now()
	defer func() {
		metrics.ProjectionDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	}()

	unlock, err := p.locker.Acquire(ctx, kind.String()+":"+externalID)
	if err != nil {
		metrics.ProjectionsTotal.WithLabelValues(kind.String(), "lock_error").Inc()
		return nil, fmt.Errorf("lock %s %s: %w", kind, externalID, err)
	}
	defer unlock()

	events, err := p.events.EventsFor(ctx, externalID)
	if err != nil {
		metrics.ProjectionsTotal.WithLabelValues(kind.String(), "error").Inc()
		return nil, fmt.Errorf("load events for %s: %w", externalID, err)
	}

	d, err := digest.Build(events, factory.Salient())
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", externalID, err)
	}

	proj, malformed := factory.Create(d)
	p.reportMalformed(ctx, kind, externalID, malformed)

	rec, err := proj.Record()
	if err != nil {
		metrics.ProjectionsTotal.WithLabelValues(kind.String(), "error").Inc()
		return nil, fmt.Errorf("encode %s %s: %w", kind, externalID, err)
	}

	applied, err := p.projections.Upsert(ctx, rec)
	if err != nil {
		metrics.ProjectionsTotal.WithLabelValues(kind.String(), "error").Inc()
		return nil, fmt.Errorf("store %s %s: %w", kind, externalID, err)
	}

	result := "stored"
	if !applied {
		result = "superseded"
	}
	metrics.ProjectionsTotal.WithLabelValues(kind.String(), result).Inc()
	p.logger.DebugContext(ctx, "projection rebuilt",
		logging.Projection(kind.String()),
		logging.ResourceID(externalID),
		logging.EventCount(d.EventCount),
		slog.String("state", proj.CurrentState()),
		slog.Bool("applied", applied),
	)
	return proj, nil
}

func (p *Projector) reportMalformed(ctx context.Context, kind projection.Kind, externalID string, errs []*projection.MalformedPayloadError) {
	for _, e := range errs {
		metrics.MalformedFields.WithLabelValues(kind.String(), e.Field).Inc()
		p.logger.WarnContext(ctx, "dropping malformed payload field",
			logging.Projection(kind.String()),
			logging.ResourceID(externalID),
			slog.String("field", e.Field),
			slog.String("reason", e.Reason),
		)
	}
}
