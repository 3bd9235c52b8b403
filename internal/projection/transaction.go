package projection

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alphagov/pay-ledger-sub002/internal/digest"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// TransactionStates maps payment, refund and dispute events to transaction states.
var TransactionStates = StateTable{
	"PAYMENT_CREATED":                    "CREATED",
	"PAYMENT_STARTED":                    "STARTED",
	"AUTHORISATION_SUCCEEDED":            "SUBMITTED",
	"USER_APPROVED_FOR_CAPTURE":          "SUCCESS",
	"CAPTURE_SUBMITTED":                  "SUCCESS",
	"CAPTURE_CONFIRMED":                  "SUCCESS",
	"AUTHORISATION_REJECTED":             "FAILED_REJECTED",
	"PAYMENT_EXPIRED":                    "FAILED_EXPIRED",
	"CANCELLED_BY_EXPIRATION":            "FAILED_EXPIRED",
	"CANCELLED_BY_USER":                  "FAILED_CANCELLED",
	"CANCELLED_BY_EXTERNAL_SERVICE":      "CANCELLED",
	"GATEWAY_ERROR_DURING_AUTHORISATION": "ERROR",
	"REFUND_CREATED_BY_SERVICE":          "CREATED",
	"REFUND_CREATED_BY_USER":             "CREATED",
	"REFUND_SUBMITTED":                   "SUBMITTED",
	"REFUND_SUCCEEDED":                   "SUCCESS",
	"REFUND_ERROR":                       "ERROR",
	"DISPUTE_CREATED":                    "NEEDS_RESPONSE",
	"DISPUTE_EVIDENCE_SUBMITTED":         "UNDER_REVIEW",
	"DISPUTE_WON":                        "WON",
	"DISPUTE_LOST":                       "LOST",
}

// Transaction types, derived from the resource type of the events.
const (
	TransactionTypePayment = "PAYMENT"
	TransactionTypeRefund  = "REFUND"
	TransactionTypeDispute = "DISPUTE"
)

// Transaction is the read model of a payment, refund or dispute.
type Transaction struct {
	ExternalID           string         `json:"external_id"`
	ParentExternalID     string         `json:"parent_external_id,omitempty"`
	TransactionType      string         `json:"transaction_type"`
	GatewayAccountID     *string        `json:"gateway_account_id,omitempty"`
	ServiceID            string         `json:"service_id,omitempty"`
	Live                 bool           `json:"live"`
	State                string         `json:"state"`
	Amount               *int64         `json:"amount,omitempty"`
	TotalAmount          *int64         `json:"total_amount,omitempty"`
	CorporateSurcharge   *int64         `json:"corporate_surcharge,omitempty"`
	Fee                  *int64         `json:"fee,omitempty"`
	NetAmount            *int64         `json:"net_amount,omitempty"`
	Reference            *string        `json:"reference,omitempty"`
	Description          *string        `json:"description,omitempty"`
	Email                *string        `json:"email,omitempty"`
	Language             *string        `json:"language,omitempty"`
	ReturnURL            *string        `json:"return_url,omitempty"`
	PaymentProvider      *string        `json:"payment_provider,omitempty"`
	GatewayTransactionID *string        `json:"gateway_transaction_id,omitempty"`
	DelayedCapture       *bool          `json:"delayed_capture,omitempty"`
	Moto                 *bool          `json:"moto,omitempty"`
	CardDetails          *CardDetails   `json:"card_details,omitempty"`
	ExternalMetadata     map[string]any `json:"external_metadata,omitempty"`
	CapturedDate         *time.Time     `json:"captured_date,omitempty"`
	RefundedBy           *string        `json:"refunded_by,omitempty"`
	DisputeReason        *string        `json:"reason,omitempty"`
	EvidenceDueDate      *time.Time     `json:"evidence_due_date,omitempty"`
	CreatedDate          time.Time      `json:"created_date"`
	EventCount           int            `json:"event_count"`
}

func (t *Transaction) Kind() Kind           { return KindTransaction }
func (t *Transaction) Key() string          { return t.ExternalID }
func (t *Transaction) Watermark() int       { return t.EventCount }
func (t *Transaction) CurrentState() string { return t.State }

func (t *Transaction) Record() (*Record, error) {
	details, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Record{
		Kind:             KindTransaction,
		ExternalID:       t.ExternalID,
		ParentExternalID: t.ParentExternalID,
		State:            t.State,
		GatewayAccountID: deref(t.GatewayAccountID),
		ServiceID:        t.ServiceID,
		Live:             t.Live,
		Reference:        deref(t.Reference),
		TransactionType:  t.TransactionType,
		CreatedDate:      t.CreatedDate,
		EventCount:       t.EventCount,
		Details:          details,
	}, nil
}

// TransactionFactory builds Transaction projections for payments, refunds and disputes.
type TransactionFactory struct{}

func (TransactionFactory) Kind() Kind                 { return KindTransaction }
func (TransactionFactory) Salient() digest.SalientSet { return TransactionStates.Salient() }

func (TransactionFactory) Create(d *digest.EventDigest) (Projection, []*MalformedPayloadError) {
	r := newPayloadReader(d.Payload)
	t := &Transaction{
		ExternalID:           d.ResourceExternalID,
		ParentExternalID:     d.ParentResourceExternalID,
		TransactionType:      transactionType(d.ResourceType),
		GatewayAccountID:     r.String("gateway_account_id"),
		ServiceID:            serviceID(d, r),
		Live:                 d.Live,
		State:                TransactionStates.StateFor(d.MostRecentSalientEventType),
		Amount:               r.Int64("amount"),
		TotalAmount:          r.Int64("total_amount"),
		CorporateSurcharge:   r.Int64("corporate_surcharge"),
		Fee:                  r.Int64("fee"),
		NetAmount:            r.Int64("net_amount"),
		Reference:            r.String("reference"),
		Description:          r.String("description"),
		Email:                r.String("email"),
		Language:             r.String("language"),
		ReturnURL:            r.String("return_url"),
		PaymentProvider:      r.String("payment_provider"),
		GatewayTransactionID: r.String("gateway_transaction_id"),
		DelayedCapture:       r.Bool("delayed_capture"),
		Moto:                 r.Bool("moto"),
		CardDetails:          r.CardDetails(),
		ExternalMetadata:     r.Object("external_metadata"),
		CapturedDate:         r.Time("captured_date"),
		RefundedBy:           r.String("refunded_by"),
		DisputeReason:        r.String("reason"),
		EvidenceDueDate:      r.Time("evidence_due_date"),
		CreatedDate:          d.CreatedDate,
		EventCount:           d.EventCount,
	}
	if t.TotalAmount == nil && t.Amount != nil && t.TransactionType == TransactionTypePayment {
		total := *t.Amount
		if t.CorporateSurcharge != nil {
			total += *t.CorporateSurcharge
		}
		t.TotalAmount = &total
	}
	return t, r.errs
}

func transactionType(rt models.ResourceType) string {
	switch rt {
	case models.ResourceRefund:
		return TransactionTypeRefund
	case models.ResourceDispute:
		return TransactionTypeDispute
	case models.ResourcePayment:
		return TransactionTypePayment
	}
	return strings.ToUpper(string(rt))
}
