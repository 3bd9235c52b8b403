package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedMessage is returned when a queue message cannot be decoded into an event.
	ErrMalformedMessage = errors.New("malformed event message")
)

// EventMessage is the JSON envelope published on the event queue.
type EventMessage struct {
	DeliveryID               string          `json:"delivery_id,omitempty"`
	ResourceType             string          `json:"resource_type"`
	ResourceExternalID       string          `json:"resource_external_id"`
	ParentResourceExternalID *string         `json:"parent_resource_external_id,omitempty"`
	EventType                string          `json:"event_type"`
	Timestamp                string          `json:"timestamp"`
	EventDetails             json.RawMessage `json:"event_details,omitempty"`
	ServiceID                string          `json:"service_id,omitempty"`
	Live                     bool            `json:"live"`
	ReprojectDomainObject    bool            `json:"reproject_domain_object,omitempty"`
}

// layouts accepted for the envelope timestamp, tried in order. Zone-less
// values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an event timestamp in RFC 3339 or zone-less ISO-8601 form.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// DecodeEventMessage decodes a queue payload into its envelope.
func DecodeEventMessage(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// ToEvent validates the envelope and converts it to an Event. fallbackDeliveryID
// is used when the envelope carries no delivery id of its own.
func (m *EventMessage) ToEvent(fallbackDeliveryID string) (*Event, error) {
	deliveryID := m.DeliveryID
	if deliveryID == "" {
		deliveryID = fallbackDeliveryID
	}

	switch {
	case deliveryID == "":
		return nil, fmt.Errorf("%w: missing delivery id", ErrMalformedMessage)
	case strings.TrimSpace(m.ResourceType) == "":
		return nil, fmt.Errorf("%w: missing resource_type", ErrMalformedMessage)
	case m.ResourceExternalID == "":
		return nil, fmt.Errorf("%w: missing resource_external_id", ErrMalformedMessage)
	case m.EventType == "":
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedMessage)
	}

	ts, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	data := map[string]any{}
	if len(m.EventDetails) > 0 && string(m.EventDetails) != "null" {
		if err := json.Unmarshal(m.EventDetails, &data); err != nil {
			return nil, fmt.Errorf("%w: event_details is not an object: %v", ErrMalformedMessage, err)
		}
	}

	e := &Event{
		DeliveryID:         deliveryID,
		ResourceType:       ParseResourceType(m.ResourceType),
		ResourceExternalID: m.ResourceExternalID,
		EventType:          strings.ToUpper(strings.TrimSpace(m.EventType)),
		EventDate:          ts,
		EventData:          data,
		ServiceID:          m.ServiceID,
		Live:               m.Live,
	}
	if m.ParentResourceExternalID != nil {
		e.ParentResourceExternalID = *m.ParentResourceExternalID
	}
	return e, nil
}

// NewEventMessage builds the envelope for e, used by publishers.
func NewEventMessage(e *Event, reproject bool) (*EventMessage, error) {
	details, err := json.Marshal(e.EventData)
	if err != nil {
		return nil, fmt.Errorf("marshal event details: %w", err)
	}
	msg := &EventMessage{
		DeliveryID:            e.DeliveryID,
		ResourceType:          string(e.ResourceType),
		ResourceExternalID:    e.ResourceExternalID,
		EventType:             e.EventType,
		Timestamp:             e.EventDate.UTC().Format(time.RFC3339Nano),
		EventDetails:          details,
		ServiceID:             e.ServiceID,
		Live:                  e.Live,
		ReprojectDomainObject: reproject,
	}
	if e.ParentResourceExternalID != "" {
		parent := e.ParentResourceExternalID
		msg.ParentResourceExternalID = &parent
	}
	return msg, nil
}
