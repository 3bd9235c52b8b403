package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/internal/metrics"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
)

// IngestResult describes what Ingest did with an event.
type IngestResult struct {
	Insert     repository.InsertResult
	Projected  bool
	Projection projection.Projection
}

// Ingestor stores incoming events and keeps their projections current.
type Ingestor struct {
	events    repository.EventRepository
	projector *Projector
	logger    *slog.Logger
}

func NewIngestor(events repository.EventRepository, projector *Projector, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		events:    events,
		projector: projector,
		logger:    logger.With(slog.String(logging.FieldComponent, "ingestor")),
	}
}

// Ingest inserts e and, when it is new, rebuilds its projection. A duplicate
// is only reprojected when forceProject is set, which callers use for explicit
// reprojection requests and for redeliveries whose first attempt may have
// stored the event without projecting it.
func (s *Ingestor) Ingest(ctx context.Context, e *models.Event, forceProject bool) (IngestResult, error) {
	res, err := s.events.InsertIfNew(ctx, e)
	if err != nil {
		metrics.EventsInserted.WithLabelValues(e.ResourceType.String(), "error").Inc()
		return IngestResult{}, fmt.Errorf("insert event %s: %w", e.DeliveryID, err)
	}
	metrics.EventsInserted.WithLabelValues(e.ResourceType.String(), res.String()).Inc()

	out := IngestResult{Insert: res}
	if res == repository.Duplicate && !forceProject {
		s.logger.DebugContext(ctx, "duplicate delivery skipped",
			logging.DeliveryID(e.DeliveryID),
			logging.ResourceID(e.ResourceExternalID),
		)
		return out, nil
	}

	if !s.projector.Projectable(e.ResourceType) {
		s.logger.InfoContext(ctx, "event stored for unprojected resource type",
			logging.DeliveryID(e.DeliveryID),
			logging.ResourceType(e.ResourceType.String()),
		)
		return out, nil
	}

	p, err := s.projector.Project(ctx, e.ResourceType, e.ResourceExternalID)
	if err != nil {
		return out, err
	}
	out.Projected = true
	out.Projection = p
	return out, nil
}
