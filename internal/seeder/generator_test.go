package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphagov/pay-ledger-sub002/common/messaging"
	"github.com/alphagov/pay-ledger-sub002/internal/digest"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

var start = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func byResource(events []*models.Event) map[string][]*models.Event {
	out := map[string][]*models.Event{}
	for _, e := range events {
		out[e.ResourceExternalID] = append(out[e.ResourceExternalID], e)
	}
	return out
}

func TestGenerate_CyclesTypes(t *testing.T) {
	g := NewGenerator(42)
	events := g.Generate(Config{
		Count: 6,
		Types: []models.ResourceType{models.ResourcePayment, models.ResourcePayout, models.ResourceAgreement},
		Start: start,
	})
	require.NotEmpty(t, events)

	roots := map[models.ResourceType]int{}
	deliveries := map[string]bool{}
	for id, evs := range byResource(events) {
		assert.NotEmpty(t, id)
		rt := evs[0].ResourceType
		if evs[0].ParentResourceExternalID == "" {
			roots[rt]++
		}
		for _, e := range evs {
			assert.Equal(t, rt, e.ResourceType, "one resource type per resource")
			assert.False(t, deliveries[e.DeliveryID], "delivery ids are unique")
			deliveries[e.DeliveryID] = true
			assert.False(t, e.EventDate.Before(start))
		}
	}
	assert.Equal(t, 2, roots[models.ResourcePayment])
	assert.Equal(t, 2, roots[models.ResourcePayout])
	assert.Equal(t, 2, roots[models.ResourceAgreement])
}

func TestGenerate_LifecyclesProject(t *testing.T) {
	g := NewGenerator(7)
	events := g.Generate(Config{
		Count:       30,
		Types:       []models.ResourceType{models.ResourcePayment, models.ResourcePayout, models.ResourceAgreement, models.ResourceDispute},
		RefundRatio: 1,
		Shuffle:     true,
		Start:       start,
	})

	registry := projection.DefaultRegistry()
	for id, evs := range byResource(events) {
		factory, ok := registry.ForResource(evs[0].ResourceType)
		require.True(t, ok)

		d, err := digest.Build(evs, factory.Salient())
		require.NoError(t, err)
		p, malformed := factory.Create(d)
		assert.Empty(t, malformed, "resource %s", id)
		assert.NotEqual(t, projection.StateUndefined, p.CurrentState(), "resource %s", id)
		assert.Equal(t, len(evs), p.Watermark())
	}
}

func TestGenerate_Refunds(t *testing.T) {
	g := NewGenerator(1)
	events := g.Generate(Config{Count: 20, Types: []models.ResourceType{models.ResourcePayment}, RefundRatio: 1, Start: start})

	resources := byResource(events)
	refunds := 0
	for _, evs := range resources {
		if evs[0].ResourceType != models.ResourceRefund {
			continue
		}
		refunds++
		parent, ok := resources[evs[0].ParentResourceExternalID]
		require.True(t, ok, "refund parent exists")
		assert.Equal(t, "CAPTURE_CONFIRMED", parent[len(parent)-1].EventType)
	}
	assert.Positive(t, refunds)
}

type recordingPublisher struct {
	subjects []string
	ids      []string
	bodies   [][]byte
	failAt   int
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	if p.failAt > 0 && len(p.subjects)+1 == p.failAt {
		return errors.New("broker unavailable")
	}
	o := messaging.ApplyPublishOptions(opts...)
	p.subjects = append(p.subjects, subject)
	p.ids = append(p.ids, o.MsgID)
	p.bodies = append(p.bodies, data)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestPublish(t *testing.T) {
	events := NewGenerator(3).Payout(start, true)
	pub := &recordingPublisher{}

	n, err := Publish(context.Background(), pub, events)
	require.NoError(t, err)
	assert.Equal(t, len(events), n)

	for i, e := range events {
		assert.Equal(t, "ledger.events.payout", pub.subjects[i])
		assert.Equal(t, e.DeliveryID, pub.ids[i])

		msg, err := models.DecodeEventMessage(pub.bodies[i])
		require.NoError(t, err)
		decoded, err := msg.ToEvent("")
		require.NoError(t, err)
		assert.Equal(t, e.ResourceExternalID, decoded.ResourceExternalID)
		assert.Equal(t, e.EventType, decoded.EventType)
		assert.True(t, decoded.EventDate.Equal(e.EventDate))
		assert.False(t, msg.ReprojectDomainObject)
	}
}

func TestPublish_StopsOnError(t *testing.T) {
	events := NewGenerator(3).Agreement(start, false)
	pub := &recordingPublisher{failAt: 2}

	n, err := Publish(context.Background(), pub, events)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishEvent_Reproject(t *testing.T) {
	e := NewGenerator(3).Agreement(start, false)[0]
	pub := &recordingPublisher{}

	require.NoError(t, PublishEvent(context.Background(), pub, e, true))
	require.NoError(t, PublishEvent(context.Background(), pub, e, true))

	assert.NotEqual(t, e.DeliveryID, pub.ids[0])
	assert.NotEqual(t, pub.ids[0], pub.ids[1])

	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &env))
	assert.Equal(t, e.DeliveryID, env["delivery_id"])
	assert.Equal(t, true, env["reproject_domain_object"])
}
