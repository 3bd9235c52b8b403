// Package digest folds the ordered event history of a resource into a single
// summary that projection factories read from.
package digest

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// ErrEmptyEvents is returned when a digest is requested for no events.
var ErrEmptyEvents = errors.New("no events to digest")

// SalientSet decides which event types drive the state of a projection.
type SalientSet interface {
	IsSalient(eventType string) bool
}

// EventTypes is a SalientSet backed by a fixed set of event type names.
type EventTypes map[string]struct{}

// NewEventTypes returns an EventTypes containing types.
func NewEventTypes(types ...string) EventTypes {
	s := make(EventTypes, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s EventTypes) IsSalient(eventType string) bool {
	_, ok := s[eventType]
	return ok
}

// EventDigest summarises the events of one resource.
type EventDigest struct {
	ResourceExternalID       string
	ParentResourceExternalID string
	ResourceType             models.ResourceType
	ServiceID                string
	Live                     bool

	EventCount int

	// Payload is the shallow merge of every event's data; later events win per key.
	Payload map[string]any

	MostRecentSalientEventType string
	MostRecentSalientEventDate time.Time
	MostRecentEventDate        time.Time

	// CreatedDate is the date of the earliest creation event, or of the
	// earliest event when there is none.
	CreatedDate time.Time

	createdFromEvent bool
	salient          SalientSet
}

// Build folds events into a digest. The input is not modified; events are
// folded in (event date, id) order regardless of the order supplied.
func Build(events []*models.Event, salient SalientSet) (*EventDigest, error) {
	if len(events) == 0 {
		return nil, ErrEmptyEvents
	}

	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b *models.Event) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})

	d := New(salient)
	for _, e := range ordered {
		d.Apply(e)
	}
	return d, nil
}

// New returns an empty digest ready for Apply.
func New(salient SalientSet) *EventDigest {
	return &EventDigest{Payload: map[string]any{}, salient: salient}
}

// Apply folds a single event into d. Callers folding by hand must supply
// events in (event date, id) order.
func (d *EventDigest) Apply(e *models.Event) {
	d.EventCount++

	if d.EventCount == 1 {
		d.CreatedDate = e.EventDate
	}
	if isCreationEvent(e.EventType) && !d.createdFromEvent {
		d.CreatedDate = e.EventDate
		d.createdFromEvent = true
	}

	if e.ResourceExternalID != "" {
		d.ResourceExternalID = e.ResourceExternalID
	}
	if e.ParentResourceExternalID != "" {
		d.ParentResourceExternalID = e.ParentResourceExternalID
	}
	if e.ResourceType != "" {
		d.ResourceType = e.ResourceType
	}
	if e.ServiceID != "" {
		d.ServiceID = e.ServiceID
	}
	d.Live = e.Live

	maps.Copy(d.Payload, e.EventData)

	if d.salient != nil && d.salient.IsSalient(e.EventType) {
		d.MostRecentSalientEventType = e.EventType
		d.MostRecentSalientEventDate = e.EventDate
	}
	d.MostRecentEventDate = e.EventDate
}

// HasSalientEvent reports whether any folded event was salient.
func (d *EventDigest) HasSalientEvent() bool {
	return d.MostRecentSalientEventType != ""
}

// isCreationEvent matches the event types that open a resource's history,
// e.g. PAYMENT_CREATED, PAYOUT_CREATED, REFUND_CREATED_BY_SERVICE.
func isCreationEvent(eventType string) bool {
	return strings.HasSuffix(eventType, "_CREATED") || strings.Contains(eventType, "_CREATED_BY_")
}
