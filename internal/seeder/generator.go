// Package seeder generates realistic event sequences for local runs and load
// tests, and publishes them to the event queue.
package seeder

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

// Config controls what Generate produces.
type Config struct {
	// Count is the number of root resources (payments, payouts, agreements).
	Count int
	// Types restricts generation to these resource types. Refunds are only
	// produced as children of payments.
	Types []models.ResourceType
	// RefundRatio is the share of successful payments that get a refund.
	RefundRatio float64
	// Shuffle randomises the arrival order of the generated events.
	Shuffle bool
	// Live marks the generated events as live rather than test data.
	Live bool
	// Start is the time of the earliest event; zero means one day ago.
	Start time.Time
}

// DefaultConfig returns a small mixed workload.
func DefaultConfig() Config {
	return Config{
		Count:       10,
		Types:       []models.ResourceType{models.ResourcePayment, models.ResourcePayout, models.ResourceAgreement},
		RefundRatio: 0.3,
	}
}

// Generator produces event sequences that follow real resource lifecycles.
type Generator struct {
	faker    *gofakeit.Faker
	accounts []string
	services []string
}

// NewGenerator seeds the faker with seed; zero picks a random seed. Delivery
// and external ids are always random.
func NewGenerator(seed int64) *Generator {
	f := gofakeit.New(seed)
	g := &Generator{faker: f}
	for range 3 {
		g.accounts = append(g.accounts, fmt.Sprint(f.Number(1, 9999)))
		g.services = append(g.services, strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return g
}

// Generate builds the events for cfg.Count resources, cycling through cfg.Types.
func (g *Generator) Generate(cfg Config) []*models.Event {
	types := cfg.Types
	if len(types) == 0 {
		types = DefaultConfig().Types
	}
	start := cfg.Start
	if start.IsZero() {
		start = time.Now().UTC().Add(-24 * time.Hour)
	}

	var events []*models.Event
	for i := range cfg.Count {
		at := start.Add(time.Duration(i) * time.Minute)
		switch types[i%len(types)] {
		case models.ResourcePayment:
			payment := g.Payment(at, cfg.Live)
			events = append(events, payment...)
			if succeeded(payment) && g.faker.Float64Range(0, 1) < cfg.RefundRatio {
				events = append(events, g.Refund(payment[0], at.Add(time.Hour))...)
			}
		case models.ResourcePayout:
			events = append(events, g.Payout(at, cfg.Live)...)
		case models.ResourceAgreement:
			events = append(events, g.Agreement(at, cfg.Live)...)
		case models.ResourceDispute:
			payment := g.Payment(at, cfg.Live)
			events = append(events, payment...)
			events = append(events, g.Dispute(payment[0], at.Add(48*time.Hour))...)
		}
	}

	if cfg.Shuffle {
		g.faker.ShuffleAnySlice(events)
	}
	return events
}

// Payment returns a card payment lifecycle. Most payments succeed; the rest
// are rejected, expired or cancelled.
func (g *Generator) Payment(at time.Time, live bool) []*models.Event {
	f := g.faker
	id := externalID()
	amount := int64(f.Number(100, 500000))
	account := f.RandomString(g.accounts)
	service := g.serviceFor(account)

	created := g.event(models.ResourcePayment, id, "", "PAYMENT_CREATED", at, service, live, map[string]any{
		"amount":             amount,
		"reference":          strings.ToUpper(f.LetterN(3)) + f.Numerify("######"),
		"description":        f.Sentence(4),
		"gateway_account_id": account,
		"language":           f.RandomString([]string{"en", "cy"}),
		"return_url":         "https://" + f.DomainName() + "/return",
		"payment_provider":   f.RandomString([]string{"stripe", "worldpay", "sandbox"}),
		"delayed_capture":    false,
		"moto":               f.Float64Range(0, 1) < 0.05,
		"email":              f.Email(),
	})
	details := g.event(models.ResourcePayment, id, "", "PAYMENT_DETAILS_ENTERED", at.Add(30*time.Second), service, live, map[string]any{
		"cardholder_name":          f.Name(),
		"card_brand":               f.RandomString([]string{"visa", "master-card", "american-express"}),
		"card_type":                f.RandomString([]string{"DEBIT", "CREDIT"}),
		"first_digits_card_number": f.Numerify("######"),
		"last_digits_card_number":  f.Numerify("####"),
		"expiry_date":              fmt.Sprintf("%02d/%02d", f.Number(1, 12), f.Number(26, 35)),
		"address_line1":            f.Street(),
		"address_city":             f.City(),
		"address_postcode":         f.Zip(),
		"address_country":          f.CountryAbr(),
	})
	events := []*models.Event{created, details}

	switch roll := f.Float64Range(0, 1); {
	case roll < 0.8:
		fee := amount / 100
		events = append(events,
			g.event(models.ResourcePayment, id, "", "AUTHORISATION_SUCCEEDED", at.Add(time.Minute), service, live, map[string]any{
				"gateway_transaction_id": uuid.NewString(),
			}),
			g.event(models.ResourcePayment, id, "", "CAPTURE_CONFIRMED", at.Add(2*time.Minute), service, live, map[string]any{
				"captured_date": at.Add(2 * time.Minute).Format(time.RFC3339Nano),
				"fee":           fee,
				"net_amount":    amount - fee,
			}),
		)
	case roll < 0.9:
		events = append(events, g.event(models.ResourcePayment, id, "", "AUTHORISATION_REJECTED", at.Add(time.Minute), service, live, nil))
	case roll < 0.95:
		events = append(events, g.event(models.ResourcePayment, id, "", "PAYMENT_EXPIRED", at.Add(90*time.Minute), service, live, nil))
	default:
		events = append(events, g.event(models.ResourcePayment, id, "", "CANCELLED_BY_USER", at.Add(time.Minute), service, live, nil))
	}
	return events
}

// Refund returns a refund lifecycle for the payment whose first event is created.
func (g *Generator) Refund(created *models.Event, at time.Time) []*models.Event {
	f := g.faker
	id := externalID()
	amount, _ := created.EventData["amount"].(int64)
	if amount > 1 {
		amount = int64(f.Number(1, int(amount)))
	}
	parent := created.ResourceExternalID

	return []*models.Event{
		g.event(models.ResourceRefund, id, parent, "REFUND_CREATED_BY_USER", at, created.ServiceID, created.Live, map[string]any{
			"amount":             amount,
			"refunded_by":        uuid.NewString(),
			"gateway_account_id": created.EventData["gateway_account_id"],
			"email":              f.Email(),
		}),
		g.event(models.ResourceRefund, id, parent, "REFUND_SUBMITTED", at.Add(time.Minute), created.ServiceID, created.Live, nil),
		g.event(models.ResourceRefund, id, parent, "REFUND_SUCCEEDED", at.Add(10*time.Minute), created.ServiceID, created.Live, map[string]any{
			"gateway_transaction_id": uuid.NewString(),
		}),
	}
}

// Dispute returns a dispute lifecycle against the payment whose first event is created.
func (g *Generator) Dispute(created *models.Event, at time.Time) []*models.Event {
	f := g.faker
	id := externalID()
	parent := created.ResourceExternalID
	outcome := f.RandomString([]string{"DISPUTE_WON", "DISPUTE_LOST"})

	return []*models.Event{
		g.event(models.ResourceDispute, id, parent, "DISPUTE_CREATED", at, created.ServiceID, created.Live, map[string]any{
			"amount":             created.EventData["amount"],
			"reason":             f.RandomString([]string{"fraudulent", "duplicate", "product_not_received", "general"}),
			"evidence_due_date":  at.Add(7 * 24 * time.Hour).Format(time.RFC3339Nano),
			"gateway_account_id": created.EventData["gateway_account_id"],
		}),
		g.event(models.ResourceDispute, id, parent, "DISPUTE_EVIDENCE_SUBMITTED", at.Add(24*time.Hour), created.ServiceID, created.Live, nil),
		g.event(models.ResourceDispute, id, parent, outcome, at.Add(10*24*time.Hour), created.ServiceID, created.Live, nil),
	}
}

// Payout returns a payout that is usually paid out and occasionally fails.
func (g *Generator) Payout(at time.Time, live bool) []*models.Event {
	f := g.faker
	id := externalID()
	account := f.RandomString(g.accounts)
	service := g.serviceFor(account)

	events := []*models.Event{
		g.event(models.ResourcePayout, id, "", "PAYOUT_CREATED", at, service, live, map[string]any{
			"amount":               int64(f.Number(1000, 5000000)),
			"gateway_account_id":   account,
			"gateway_payout_id":    "po_" + f.LetterN(24),
			"statement_descriptor": strings.ToUpper(f.Company()),
		}),
	}
	if f.Float64Range(0, 1) < 0.9 {
		paid := at.Add(24 * time.Hour)
		events = append(events, g.event(models.ResourcePayout, id, "", "PAYOUT_PAID_OUT", paid, service, live, map[string]any{
			"paid_out_date": paid.Format(time.RFC3339Nano),
		}))
	} else {
		events = append(events, g.event(models.ResourcePayout, id, "", "PAYOUT_FAILED", at.Add(24*time.Hour), service, live, map[string]any{
			"failure_code":    "account_closed",
			"failure_message": "The bank account has been closed",
		}))
	}
	return events
}

// Agreement returns a recurring payment agreement that is set up and may be cancelled.
func (g *Generator) Agreement(at time.Time, live bool) []*models.Event {
	f := g.faker
	id := externalID()
	account := f.RandomString(g.accounts)
	service := g.serviceFor(account)

	events := []*models.Event{
		g.event(models.ResourceAgreement, id, "", "AGREEMENT_CREATED", at, service, live, map[string]any{
			"reference":          "agr-" + f.Numerify("#####"),
			"description":        f.Sentence(5),
			"user_identifier":    f.Username(),
			"gateway_account_id": account,
		}),
		g.event(models.ResourceAgreement, id, "", "AGREEMENT_SETUP", at.Add(5*time.Minute), service, live, nil),
	}
	if f.Float64Range(0, 1) < 0.2 {
		cancelled := at.Add(30 * 24 * time.Hour)
		events = append(events, g.event(models.ResourceAgreement, id, "", "AGREEMENT_CANCELLED_BY_USER", cancelled, service, live, map[string]any{
			"cancelled_date": cancelled.Format(time.RFC3339Nano),
		}))
	}
	return events
}

func (g *Generator) event(rt models.ResourceType, id, parent, eventType string, at time.Time, service string, live bool, data map[string]any) *models.Event {
	if data == nil {
		data = map[string]any{}
	}
	return &models.Event{
		DeliveryID:               uuid.NewString(),
		ResourceType:             rt,
		ResourceExternalID:       id,
		ParentResourceExternalID: parent,
		EventType:                eventType,
		EventDate:                at.UTC(),
		EventData:                data,
		ServiceID:                service,
		Live:                     live,
	}
}

func (g *Generator) serviceFor(account string) string {
	for i, a := range g.accounts {
		if a == account {
			return g.services[i]
		}
	}
	return g.services[0]
}

func succeeded(payment []*models.Event) bool {
	return payment[len(payment)-1].EventType == "CAPTURE_CONFIRMED"
}

func externalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:26]
}
