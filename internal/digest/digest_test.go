package digest

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

var payoutSalient = NewEventTypes("PAYOUT_CREATED", "PAYOUT_PAID_OUT", "PAYOUT_FAILED")

func payoutEvent(id int64, offset time.Duration, eventType string, data map[string]any) *models.Event {
	return &models.Event{
		ID:                 id,
		DeliveryID:         "d-" + eventType,
		ResourceType:       models.ResourcePayout,
		ResourceExternalID: "P1",
		EventType:          eventType,
		EventDate:          t0.Add(offset),
		EventData:          data,
		ServiceID:          "svc",
		Live:               true,
	}
}

func TestBuild_Empty(t *testing.T) {
	d, err := Build(nil, payoutSalient)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrEmptyEvents)

	_, err = Build([]*models.Event{}, payoutSalient)
	assert.ErrorIs(t, err, ErrEmptyEvents)
}

func TestBuild_PayoutHistory(t *testing.T) {
	events := []*models.Event{
		payoutEvent(2, time.Minute, "PAYOUT_PAID_OUT", map[string]any{"paid_out_date": "2024-01-02T10:01:00Z"}),
		payoutEvent(1, 0, "PAYOUT_CREATED", map[string]any{"amount": float64(1000), "gateway_payout_id": "po_1"}),
	}

	d, err := Build(events, payoutSalient)
	require.NoError(t, err)

	assert.Equal(t, 2, d.EventCount)
	assert.Equal(t, "P1", d.ResourceExternalID)
	assert.Equal(t, models.ResourcePayout, d.ResourceType)
	assert.Equal(t, "svc", d.ServiceID)
	assert.True(t, d.Live)
	assert.Equal(t, "PAYOUT_PAID_OUT", d.MostRecentSalientEventType)
	assert.Equal(t, t0.Add(time.Minute), d.MostRecentSalientEventDate)
	assert.Equal(t, t0.Add(time.Minute), d.MostRecentEventDate)
	assert.Equal(t, t0, d.CreatedDate)
	assert.Equal(t, map[string]any{
		"amount":            float64(1000),
		"gateway_payout_id": "po_1",
		"paid_out_date":     "2024-01-02T10:01:00Z",
	}, d.Payload)

	assert.Equal(t, int64(2), events[0].ID, "input slice must not be reordered")
}

func TestBuild_NonSalientDoesNotMoveState(t *testing.T) {
	events := []*models.Event{
		payoutEvent(1, 0, "PAYOUT_CREATED", nil),
		payoutEvent(2, time.Second, "PAYOUT_UPDATED", map[string]any{"statement_descriptor": "GOV.UK"}),
	}
	d, err := Build(events, payoutSalient)
	require.NoError(t, err)

	assert.Equal(t, "PAYOUT_CREATED", d.MostRecentSalientEventType)
	assert.Equal(t, t0, d.MostRecentSalientEventDate)
	assert.Equal(t, t0.Add(time.Second), d.MostRecentEventDate)
	assert.Equal(t, "GOV.UK", d.Payload["statement_descriptor"])
}

func TestBuild_NoSalientEvents(t *testing.T) {
	d, err := Build([]*models.Event{payoutEvent(1, 0, "PAYOUT_UPDATED", nil)}, payoutSalient)
	require.NoError(t, err)
	assert.False(t, d.HasSalientEvent())
	assert.Equal(t, 1, d.EventCount)
}

func TestBuild_LaterPayloadWins(t *testing.T) {
	events := []*models.Event{
		payoutEvent(1, 0, "PAYOUT_CREATED", map[string]any{"amount": float64(100)}),
		payoutEvent(2, time.Second, "PAYOUT_UPDATED", map[string]any{"amount": float64(200)}),
	}
	d, err := Build(events, payoutSalient)
	require.NoError(t, err)
	assert.Equal(t, float64(200), d.Payload["amount"])
}

func TestBuild_TiesBrokenByID(t *testing.T) {
	events := []*models.Event{
		payoutEvent(7, 0, "PAYOUT_FAILED", map[string]any{"gateway_status": "failed"}),
		payoutEvent(3, 0, "PAYOUT_CREATED", map[string]any{"gateway_status": "pending"}),
	}
	d, err := Build(events, payoutSalient)
	require.NoError(t, err)
	assert.Equal(t, "PAYOUT_FAILED", d.MostRecentSalientEventType)
	assert.Equal(t, "failed", d.Payload["gateway_status"])
}

func TestBuild_CreatedDate(t *testing.T) {
	refund := func(id int64, offset time.Duration, eventType string) *models.Event {
		return &models.Event{ID: id, ResourceType: models.ResourceRefund, ResourceExternalID: "R1", EventType: eventType, EventDate: t0.Add(offset)}
	}

	t.Run("earliest creation event", func(t *testing.T) {
		d, err := Build([]*models.Event{
			refund(1, 0, "REFUND_AVAILABILITY_UPDATED"),
			refund(2, time.Minute, "REFUND_CREATED_BY_SERVICE"),
			refund(3, 2*time.Minute, "REFUND_SUBMITTED"),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(time.Minute), d.CreatedDate)
	})

	t.Run("falls back to earliest event", func(t *testing.T) {
		d, err := Build([]*models.Event{
			refund(2, time.Minute, "REFUND_SUBMITTED"),
			refund(1, 0, "REFUND_AVAILABILITY_UPDATED"),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, t0, d.CreatedDate)
	})
}

func TestBuild_ParentAndIdentityLastNonEmptyWins(t *testing.T) {
	events := []*models.Event{
		{ID: 1, ResourceType: models.ResourceRefund, ResourceExternalID: "R1", ParentResourceExternalID: "PAY1", EventType: "REFUND_CREATED_BY_SERVICE", EventDate: t0, ServiceID: "svc"},
		{ID: 2, ResourceType: models.ResourceRefund, ResourceExternalID: "R1", EventType: "REFUND_SUBMITTED", EventDate: t0.Add(time.Second)},
	}
	d, err := Build(events, nil)
	require.NoError(t, err)
	assert.Equal(t, "PAY1", d.ParentResourceExternalID)
	assert.Equal(t, "svc", d.ServiceID)
}

// genHistory builds a history with colliding timestamps and colliding payload
// keys, so fold order is observable in the result.
func genHistory(offsets []int) []*models.Event {
	types := []string{"PAYOUT_CREATED", "PAYOUT_UPDATED", "PAYOUT_PAID_OUT", "PAYOUT_FAILED"}
	events := make([]*models.Event, len(offsets))
	for i, off := range offsets {
		events[i] = payoutEvent(int64(i+1), time.Duration(off)*time.Second, types[i%len(types)], map[string]any{
			"k" + string(rune('a'+i%3)): float64(i),
			"last":                      float64(i),
		})
	}
	return events
}

func TestBuild_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any arrival order yields the same digest", prop.ForAll(
		func(offsets []int, seed int64) bool {
			if len(offsets) == 0 {
				return true
			}
			events := genHistory(offsets)
			shuffled := append([]*models.Event(nil), events...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a, errA := Build(events, payoutSalient)
			b, errB := Build(shuffled, payoutSalient)
			return errA == nil && errB == nil && reflect.DeepEqual(a, b)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.Int64(),
	))

	properties.Property("folding one more event extends the prefix digest", prop.ForAll(
		func(offsets []int) bool {
			if len(offsets) < 2 {
				return true
			}
			ordered := genHistory(offsets)
			sortEvents(ordered)
			n := len(ordered) - 1

			prefix, err := Build(ordered[:n], payoutSalient)
			if err != nil {
				return false
			}
			prefix.Apply(ordered[n])

			full, err := Build(ordered, payoutSalient)
			return err == nil && reflect.DeepEqual(prefix, full)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.Property("event count equals number of events", prop.ForAll(
		func(offsets []int) bool {
			if len(offsets) == 0 {
				return true
			}
			d, err := Build(genHistory(offsets), payoutSalient)
			return err == nil && d.EventCount == len(offsets)
		},
		gen.SliceOf(gen.IntRange(0, 10)),
	))

	properties.TestingRun(t)
}

func sortEvents(events []*models.Event) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Before(events[j-1]); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
