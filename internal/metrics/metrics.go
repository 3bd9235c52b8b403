package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue consumer metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_consumer_messages_total",
			Help: "Total number of queue messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	MessageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_consumer_message_duration_seconds",
			Help:    "Duration of processing a single queue message in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_consumer_workers",
			Help: "Number of consumer workers in each state",
		},
		[]string{"state"},
	)

	// Event store metrics
	EventsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Total number of events offered to the event store, by resource type and result",
		},
		[]string{"resource_type", "result"},
	)

	// Projection metrics
	ProjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_projections_total",
			Help: "Total number of projection rebuilds, by kind and result",
		},
		[]string{"kind", "result"},
	)

	ProjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_projection_duration_seconds",
			Help:    "Duration of lock, load, digest and upsert of a projection in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	MalformedFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_projection_malformed_fields_total",
			Help: "Total number of payload fields dropped because they could not be coerced",
		},
		[]string{"kind", "field"},
	)

	// Read path metrics
	ReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reads_total",
			Help: "Total number of projection reads, by kind, consistency and source",
		},
		[]string{"kind", "consistent", "source"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
