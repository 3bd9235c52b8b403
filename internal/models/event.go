// Package models holds the domain event types shared by the store, the
// digest builder and the queue consumer.
package models

import (
	"strings"
	"time"
)

// ResourceType names the kind of resource an event is about.
type ResourceType string

const (
	ResourceAgreement ResourceType = "agreement"
	ResourcePayout    ResourceType = "payout"
	ResourcePayment   ResourceType = "payment"
	ResourceRefund    ResourceType = "refund"
	ResourceDispute   ResourceType = "dispute"
)

// ParseResourceType normalises s. Unknown non-empty values are returned as is
// so their events can still be stored.
func ParseResourceType(s string) ResourceType {
	return ResourceType(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether r is one of the resource types the ledger projects.
func (r ResourceType) Known() bool {
	switch r {
	case ResourceAgreement, ResourcePayout, ResourcePayment, ResourceRefund, ResourceDispute:
		return true
	}
	return false
}

func (r ResourceType) String() string { return string(r) }

// Event is an immutable domain event about a single resource.
type Event struct {
	// ID is assigned by the event store on insert.
	ID int64 `json:"id"`

	// DeliveryID is the idempotency key supplied by the producer.
	DeliveryID string `json:"delivery_id"`

	ResourceType             ResourceType   `json:"resource_type"`
	ResourceExternalID       string         `json:"resource_external_id"`
	ParentResourceExternalID string         `json:"parent_resource_external_id,omitempty"`
	EventType                string         `json:"event_type"`
	EventDate                time.Time      `json:"event_date"`
	EventData                map[string]any `json:"event_data"`
	ServiceID                string         `json:"service_id,omitempty"`
	Live                     bool           `json:"live"`
}

// Before reports whether e sorts before other in fold order:
// event date ascending, then store id ascending.
func (e *Event) Before(other *Event) bool {
	if !e.EventDate.Equal(other.EventDate) {
		return e.EventDate.Before(other.EventDate)
	}
	return e.ID < other.ID
}
