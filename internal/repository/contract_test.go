package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

var base = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func newEvent(delivery, resource, eventType string, offset time.Duration) *models.Event {
	return &models.Event{
		DeliveryID:         delivery,
		ResourceType:       models.ResourcePayout,
		ResourceExternalID: resource,
		EventType:          eventType,
		EventDate:          base.Add(offset),
		EventData:          map[string]any{"amount": float64(100)},
		ServiceID:          "svc",
		Live:               true,
	}
}

func newRecord(kind projection.Kind, id, state, account string, count int, created time.Time) *projection.Record {
	details, _ := json.Marshal(map[string]any{"external_id": id, "state": state, "event_count": count})
	return &projection.Record{
		Kind:             kind,
		ExternalID:       id,
		State:            state,
		GatewayAccountID: account,
		ServiceID:        "svc",
		Live:             true,
		CreatedDate:      created,
		EventCount:       count,
		Details:          details,
	}
}

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert is idempotent per delivery id", func(t *testing.T) {
		s := newStore(t)

		e := newEvent("d-1", "P1", "PAYOUT_CREATED", 0)
		res, err := s.InsertIfNew(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, Inserted, res)
		assert.NotZero(t, e.ID)

		again := newEvent("d-1", "P1", "PAYOUT_CREATED", 0)
		res, err = s.InsertIfNew(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res)

		n, err := s.CountEvents(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent duplicate inserts store one row", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		results := make([]InsertResult, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.InsertIfNew(ctx, newEvent("d-race", "P2", "PAYOUT_CREATED", 0))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		inserted := 0
		for _, r := range results {
			if r == Inserted {
				inserted++
			}
		}
		assert.Equal(t, 1, inserted)
		n, err := s.CountEvents(ctx, "P2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("events are ordered by date then id", func(t *testing.T) {
		s := newStore(t)

		for _, e := range []*models.Event{
			newEvent("d-late", "P3", "PAYOUT_PAID_OUT", time.Minute),
			newEvent("d-tie-a", "P3", "PAYOUT_CREATED", 0),
			newEvent("d-tie-b", "P3", "PAYOUT_UPDATED", 0),
			newEvent("d-other", "P4", "PAYOUT_CREATED", 0),
		} {
			_, err := s.InsertIfNew(ctx, e)
			require.NoError(t, err)
		}

		events, err := s.EventsFor(ctx, "P3")
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, []string{"d-tie-a", "d-tie-b", "d-late"},
			[]string{events[0].DeliveryID, events[1].DeliveryID, events[2].DeliveryID})
		assert.Less(t, events[0].ID, events[1].ID)
		assert.True(t, events[2].EventDate.Equal(base.Add(time.Minute)))
		assert.Equal(t, float64(100), events[0].EventData["amount"])
		assert.Equal(t, models.ResourcePayout, events[0].ResourceType)

		none, err := s.EventsFor(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("upsert never lowers the watermark", func(t *testing.T) {
		s := newStore(t)

		applied, err := s.Upsert(ctx, newRecord(projection.KindPayout, "P5", "IN_TRANSIT", "1", 1, base))
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.Upsert(ctx, newRecord(projection.KindPayout, "P5", "PAID_OUT", "1", 2, base))
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.Upsert(ctx, newRecord(projection.KindPayout, "P5", "IN_TRANSIT", "1", 1, base))
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = s.Upsert(ctx, newRecord(projection.KindPayout, "P5", "PAID_OUT", "1", 2, base))
		require.NoError(t, err)
		assert.True(t, applied, "equal watermark rewrites")

		rec, err := s.Get(ctx, projection.KindPayout, "P5")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.EventCount)
		assert.Equal(t, "PAID_OUT", rec.State)
		assert.Equal(t, "1", rec.GatewayAccountID)
		assert.True(t, rec.CreatedDate.Equal(base))
		assert.JSONEq(t, `{"external_id":"P5","state":"PAID_OUT","event_count":2}`, string(rec.Details))
	})

	t.Run("get is keyed by kind", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Upsert(ctx, newRecord(projection.KindAgreement, "X1", "CREATED", "1", 1, base))
		require.NoError(t, err)

		_, err = s.Get(ctx, projection.KindPayout, "X1")
		assert.ErrorIs(t, err, ErrProjectionNotFound)

		_, err = s.Get(ctx, projection.KindAgreement, "missing")
		assert.ErrorIs(t, err, ErrProjectionNotFound)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		s := newStore(t)

		for i := 0; i < 5; i++ {
			state := "IN_TRANSIT"
			if i%2 == 0 {
				state = "PAID_OUT"
			}
			_, err := s.Upsert(ctx, newRecord(projection.KindPayout, fmt.Sprintf("PL%d", i), state, "10", 1, base.Add(time.Duration(i)*time.Hour)))
			require.NoError(t, err)
		}
		_, err := s.Upsert(ctx, newRecord(projection.KindPayout, "PL-other", "PAID_OUT", "20", 1, base))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, newRecord(projection.KindAgreement, "AL-1", "PAID_OUT", "10", 1, base))
		require.NoError(t, err)

		recs, total, err := s.List(ctx, PayoutSearchParams{
			CommonSearchParams: CommonSearchParams{GatewayAccountIDs: []string{"10"}},
			State:              "PAID_OUT",
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, recs, 3)
		assert.Equal(t, "PL4", recs[0].ExternalID, "newest first")

		from := base.Add(time.Hour)
		recs, total, err = s.List(ctx, PayoutSearchParams{
			CommonSearchParams: CommonSearchParams{GatewayAccountIDs: []string{"10"}, FromDate: &from, Page: 2, DisplaySize: 3},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, recs, 1)
		assert.Equal(t, "PL1", recs[0].ExternalID)
	})
}
