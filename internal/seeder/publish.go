package seeder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/alphagov/pay-ledger-sub002/common/messaging"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// Publish sends events to the queue in order, keyed by delivery id so the
// broker can drop resends. It returns the number of events published.
func Publish(ctx context.Context, pub messaging.Publisher, events []*models.Event) (int, error) {
	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := PublishEvent(ctx, pub, e, false); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// PublishEvent sends a single event envelope. With reproject set the envelope
// asks the consumer to rebuild the projection even if the event is already
// stored, and the broker-level dedup key is made unique so the request is not
// dropped as a resend.
func PublishEvent(ctx context.Context, pub messaging.Publisher, e *models.Event, reproject bool) error {
	msg, err := models.NewEventMessage(e, reproject)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", e.DeliveryID, err)
	}

	msgID := e.DeliveryID
	if reproject {
		msgID = e.DeliveryID + ":reproject:" + uuid.NewString()
	}
	subject := messaging.EventSubject(e.ResourceType.String())
	if err := pub.Publish(ctx, subject, data, messaging.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.DeliveryID, subject, err)
	}
	return nil
}
