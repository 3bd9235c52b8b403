package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 2, 10, 0, 0, 123456000, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
		err  bool
	}{
		{"rfc3339 with micros", "2024-01-02T10:00:00.123456Z", want, false},
		{"rfc3339 with offset", "2024-01-02T11:00:00.123456+01:00", want, false},
		{"zone-less read as utc", "2024-01-02T10:00:00.123456", want, false},
		{"no fraction", "2024-01-02T10:00:00Z", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), false},
		{"space separator", "2024-01-02 10:00:00.123456", want, false},
		{"garbage", "yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestDecodeEventMessage(t *testing.T) {
	raw := []byte(`{
		"delivery_id": "d-1",
		"resource_type": "payout",
		"resource_external_id": "P1",
		"parent_resource_external_id": null,
		"event_type": "payout_created",
		"timestamp": "2024-01-02T10:00:00Z",
		"event_details": {"amount": 1000, "gateway_payout_id": "po_1"},
		"service_id": "svc",
		"live": true
	}`)

	msg, err := DecodeEventMessage(raw)
	require.NoError(t, err)

	e, err := msg.ToEvent("")
	require.NoError(t, err)
	assert.Equal(t, "d-1", e.DeliveryID)
	assert.Equal(t, ResourcePayout, e.ResourceType)
	assert.Equal(t, "P1", e.ResourceExternalID)
	assert.Empty(t, e.ParentResourceExternalID)
	assert.Equal(t, "PAYOUT_CREATED", e.EventType)
	assert.Equal(t, float64(1000), e.EventData["amount"])
	assert.Equal(t, "svc", e.ServiceID)
	assert.True(t, e.Live)
	assert.False(t, msg.ReprojectDomainObject)
}

func TestDecodeEventMessage_Invalid(t *testing.T) {
	_, err := DecodeEventMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestToEvent_Validation(t *testing.T) {
	base := func() *EventMessage {
		return &EventMessage{
			DeliveryID:         "d-1",
			ResourceType:       "agreement",
			ResourceExternalID: "A1",
			EventType:          "AGREEMENT_CREATED",
			Timestamp:          "2024-01-02T10:00:00Z",
		}
	}
	tests := []struct {
		name     string
		mutate   func(*EventMessage)
		fallback string
		wantErr  bool
		wantID   string
	}{
		{"valid", func(*EventMessage) {}, "", false, "d-1"},
		{"fallback delivery id", func(m *EventMessage) { m.DeliveryID = "" }, "LEDGER_EVENTS:7", false, "LEDGER_EVENTS:7"},
		{"no delivery id at all", func(m *EventMessage) { m.DeliveryID = "" }, "", true, ""},
		{"missing resource type", func(m *EventMessage) { m.ResourceType = " " }, "", true, ""},
		{"missing external id", func(m *EventMessage) { m.ResourceExternalID = "" }, "", true, ""},
		{"missing event type", func(m *EventMessage) { m.EventType = "" }, "", true, ""},
		{"bad timestamp", func(m *EventMessage) { m.Timestamp = "soon" }, "", true, ""},
		{"details not an object", func(m *EventMessage) { m.EventDetails = []byte(`[1,2]`) }, "", true, ""},
		{"null details", func(m *EventMessage) { m.EventDetails = []byte(`null`) }, "", false, "d-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			e, err := m.ToEvent(tt.fallback)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.DeliveryID)
			assert.NotNil(t, e.EventData)
		})
	}
}

func TestNewEventMessage_RoundTrip(t *testing.T) {
	e := &Event{
		DeliveryID:               "d-2",
		ResourceType:             ResourceRefund,
		ResourceExternalID:       "R1",
		ParentResourceExternalID: "PAY1",
		EventType:                "REFUND_CREATED_BY_SERVICE",
		EventDate:                time.Date(2024, 3, 1, 9, 30, 0, 5000, time.UTC),
		EventData:                map[string]any{"amount": float64(250)},
		ServiceID:                "svc",
		Live:                     false,
	}

	msg, err := NewEventMessage(e, true)
	require.NoError(t, err)
	assert.True(t, msg.ReprojectDomainObject)

	back, err := msg.ToEvent("")
	require.NoError(t, err)
	assert.Equal(t, e, back)
}
