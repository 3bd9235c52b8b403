package projection

import (
	"encoding/json"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/digest"
)

// AgreementStates maps agreement lifecycle events to agreement states.
var AgreementStates = StateTable{
	"AGREEMENT_CREATED":              "CREATED",
	"AGREEMENT_SETUP":                "ACTIVE",
	"AGREEMENT_CANCELLED_BY_SERVICE": "CANCELLED",
	"AGREEMENT_CANCELLED_BY_USER":    "CANCELLED",
	"AGREEMENT_INACTIVATED":          "INACTIVE",
	"AGREEMENT_EXPIRED":              "EXPIRED",
}

// Agreement is the read model of a recurring payment agreement.
type Agreement struct {
	ExternalID        string       `json:"external_id"`
	GatewayAccountID  *string      `json:"gateway_account_id,omitempty"`
	ServiceID         string       `json:"service_id,omitempty"`
	Live              bool         `json:"live"`
	Reference         *string      `json:"reference,omitempty"`
	Description       *string      `json:"description,omitempty"`
	UserIdentifier    *string      `json:"user_identifier,omitempty"`
	State             string       `json:"status"`
	PaymentInstrument *CardDetails `json:"payment_instrument,omitempty"`
	CancelledDate     *time.Time   `json:"cancelled_date,omitempty"`
	CreatedDate       time.Time    `json:"created_date"`
	EventCount        int          `json:"event_count"`
}

func (a *Agreement) Kind() Kind           { return KindAgreement }
func (a *Agreement) Key() string          { return a.ExternalID }
func (a *Agreement) Watermark() int       { return a.EventCount }
func (a *Agreement) CurrentState() string { return a.State }

func (a *Agreement) Record() (*Record, error) {
	details, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return &Record{
		Kind:             KindAgreement,
		ExternalID:       a.ExternalID,
		State:            a.State,
		GatewayAccountID: deref(a.GatewayAccountID),
		ServiceID:        a.ServiceID,
		Live:             a.Live,
		Reference:        deref(a.Reference),
		CreatedDate:      a.CreatedDate,
		EventCount:       a.EventCount,
		Details:          details,
	}, nil
}

// AgreementFactory builds Agreement projections.
type AgreementFactory struct{}

func (AgreementFactory) Kind() Kind                 { return KindAgreement }
func (AgreementFactory) Salient() digest.SalientSet { return AgreementStates.Salient() }

func (AgreementFactory) Create(d *digest.EventDigest) (Projection, []*MalformedPayloadError) {
	r := newPayloadReader(d.Payload)
	a := &Agreement{
		ExternalID:        d.ResourceExternalID,
		GatewayAccountID:  r.String("gateway_account_id"),
		ServiceID:         serviceID(d, r),
		Live:              d.Live,
		Reference:         r.String("reference"),
		Description:       r.String("description"),
		UserIdentifier:    r.String("user_identifier"),
		State:             AgreementStates.StateFor(d.MostRecentSalientEventType),
		PaymentInstrument: r.CardDetails(),
		CreatedDate:       d.CreatedDate,
		EventCount:        d.EventCount,
	}
	if a.State == "CANCELLED" {
		if _, present := r.lookup("cancelled_date"); present {
			a.CancelledDate = r.Time("cancelled_date")
		} else {
			at := d.MostRecentSalientEventDate
			a.CancelledDate = &at
		}
	}
	return a, r.errs
}

// serviceID prefers the event envelope's service id over the payload's.
func serviceID(d *digest.EventDigest, r *payloadReader) string {
	if d.ServiceID != "" {
		return d.ServiceID
	}
	return deref(r.String("service_id"))
}
