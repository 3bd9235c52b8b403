// Package projection turns event digests into typed read models.
//
// Factories are pure: they read only the digest and never fail. Fields that
// cannot be coerced are left nil and reported as MalformedPayloadError.
package projection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/digest"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// Kind is the projection a resource is materialised into.
type Kind string

const (
	KindAgreement   Kind = "agreement"
	KindPayout      Kind = "payout"
	KindTransaction Kind = "transaction"
)

// Kinds lists every projection kind.
var Kinds = []Kind{KindAgreement, KindPayout, KindTransaction}

// ParseKind parses s into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindAgreement, KindPayout, KindTransaction:
		return k, nil
	}
	return "", fmt.Errorf("unknown projection kind %q", s)
}

func (k Kind) String() string { return string(k) }

// KindFor returns the projection kind fed by events of resource type rt.
func KindFor(rt models.ResourceType) (Kind, bool) {
	switch rt {
	case models.ResourceAgreement:
		return KindAgreement, true
	case models.ResourcePayout:
		return KindPayout, true
	case models.ResourcePayment, models.ResourceRefund, models.ResourceDispute:
		return KindTransaction, true
	}
	return "", false
}

// StateUndefined is the state of a projection whose history holds no salient event.
const StateUndefined = "UNDEFINED"

// Projection is a typed read model.
type Projection interface {
	Kind() Kind

	// Key is the resource external id.
	Key() string

	// Watermark is the number of events folded into the projection.
	Watermark() int

	CurrentState() string
	Record() (*Record, error)
}

// Record is the storage form of a projection: indexed columns plus the full
// projection as JSON.
type Record struct {
	Kind             Kind
	ExternalID       string
	ParentExternalID string
	State            string
	GatewayAccountID string
	ServiceID        string
	Live             bool
	Reference        string
	TransactionType  string
	CreatedDate      time.Time
	EventCount       int
	Details          json.RawMessage
}

// Decode restores the typed projection held in r.
func (r *Record) Decode() (Projection, error) {
	var p Projection
	switch r.Kind {
	case KindAgreement:
		p = &Agreement{}
	case KindPayout:
		p = &Payout{}
	case KindTransaction:
		p = &Transaction{}
	default:
		return nil, fmt.Errorf("decode record %s: unknown kind %q", r.ExternalID, r.Kind)
	}
	if err := json.Unmarshal(r.Details, p); err != nil {
		return nil, fmt.Errorf("decode %s record %s: %w", r.Kind, r.ExternalID, err)
	}
	return p, nil
}

// MalformedPayloadError reports a payload field that could not be coerced.
type MalformedPayloadError struct {
	Field  string
	Value  any
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload field %q (%v): %s", e.Field, e.Value, e.Reason)
}

// Factory materialises digests of one projection kind.
type Factory interface {
	Kind() Kind
	Salient() digest.SalientSet

	// Create builds the projection for d. It never fails; malformed fields are
	// nil in the result and listed in the returned slice.
	Create(d *digest.EventDigest) (Projection, []*MalformedPayloadError)
}

// StateTable maps salient event types to projection states.
type StateTable map[string]string

// Salient returns the event types of t as a SalientSet.
func (t StateTable) Salient() digest.SalientSet {
	types := make([]string, 0, len(t))
	for eventType := range t {
		types = append(types, eventType)
	}
	return digest.NewEventTypes(types...)
}

// StateFor returns the state for eventType, or StateUndefined.
func (t StateTable) StateFor(eventType string) string {
	if s, ok := t[eventType]; ok && s != "" {
		return s
	}
	return StateUndefined
}

// Registry resolves factories by kind and by resource type.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry returns a Registry holding factories.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[Kind]Factory, len(factories))}
	for _, f := range factories {
		r.factories[f.Kind()] = f
	}
	return r
}

// DefaultRegistry returns a Registry with the agreement, payout and transaction factories.
func DefaultRegistry() *Registry {
	return NewRegistry(AgreementFactory{}, PayoutFactory{}, TransactionFactory{})
}

func (r *Registry) ForKind(k Kind) (Factory, bool) {
	f, ok := r.factories[k]
	return f, ok
}

// ForResource returns the factory fed by events of resource type rt.
func (r *Registry) ForResource(rt models.ResourceType) (Factory, bool) {
	k, ok := KindFor(rt)
	if !ok {
		return nil, false
	}
	return r.ForKind(k)
}
