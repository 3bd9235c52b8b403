package projection

import (
	"encoding/json"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/digest"
)

// PayoutStates maps payout events to payout states. PAYOUT_UPDATED is not
// salient: it carries field changes without a state transition.
var PayoutStates = StateTable{
	"PAYOUT_CREATED":  "IN_TRANSIT",
	"PAYOUT_PAID_OUT": "PAID_OUT",
	"PAYOUT_FAILED":   "FAILED",
}

// Payout is the read model of a settlement payout to a service's bank account.
type Payout struct {
	ExternalID          string     `json:"external_id"`
	GatewayPayoutID     string     `json:"gateway_payout_id"`
	GatewayAccountID    *string    `json:"gateway_account_id,omitempty"`
	ServiceID           string     `json:"service_id,omitempty"`
	Live                bool       `json:"live"`
	Amount              *int64     `json:"amount,omitempty"`
	State               string     `json:"state"`
	PaidOutDate         *time.Time `json:"paid_out_date,omitempty"`
	StatementDescriptor *string    `json:"statement_descriptor,omitempty"`
	FailureCode         *string    `json:"failure_code,omitempty"`
	FailureMessage      *string    `json:"failure_message,omitempty"`
	CreatedDate         time.Time  `json:"created_date"`
	EventCount          int        `json:"event_count"`
}

func (p *Payout) Kind() Kind           { return KindPayout }
func (p *Payout) Key() string          { return p.ExternalID }
func (p *Payout) Watermark() int       { return p.EventCount }
func (p *Payout) CurrentState() string { return p.State }

func (p *Payout) Record() (*Record, error) {
	details, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Record{
		Kind:             KindPayout,
		ExternalID:       p.ExternalID,
		State:            p.State,
		GatewayAccountID: deref(p.GatewayAccountID),
		ServiceID:        p.ServiceID,
		Live:             p.Live,
		Reference:        p.GatewayPayoutID,
		CreatedDate:      p.CreatedDate,
		EventCount:       p.EventCount,
		Details:          details,
	}, nil
}

// PayoutFactory builds Payout projections.
type PayoutFactory struct{}

func (PayoutFactory) Kind() Kind                 { return KindPayout }
func (PayoutFactory) Salient() digest.SalientSet { return PayoutStates.Salient() }

func (PayoutFactory) Create(d *digest.EventDigest) (Projection, []*MalformedPayloadError) {
	r := newPayloadReader(d.Payload)
	p := &Payout{
		ExternalID:          d.ResourceExternalID,
		GatewayPayoutID:     d.ResourceExternalID,
		GatewayAccountID:    r.String("gateway_account_id"),
		ServiceID:           serviceID(d, r),
		Live:                d.Live,
		Amount:              r.Int64("amount"),
		State:               PayoutStates.StateFor(d.MostRecentSalientEventType),
		PaidOutDate:         r.Time("paid_out_date"),
		StatementDescriptor: r.String("statement_descriptor"),
		FailureCode:         r.String("failure_code"),
		FailureMessage:      r.String("failure_message"),
		CreatedDate:         d.CreatedDate,
		EventCount:          d.EventCount,
	}
	if id := r.String("gateway_payout_id"); id != nil && *id != "" {
		p.GatewayPayoutID = *id
	}
	return p, r.errs
}
