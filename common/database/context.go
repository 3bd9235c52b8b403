package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds read queries.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds inserts and upserts.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBulkTimeout bounds calls that run several statements, such as a
	// counted page of projections.
	DefaultBulkTimeout = 30 * time.Second
)

// Timeouts holds the per-call deadlines applied to store operations.
// Zero fields fall back to the package defaults.
type Timeouts struct {
	Query time.Duration
	Write time.Duration
	Bulk  time.Duration
}

// DefaultTimeouts returns the package default deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{Query: DefaultQueryTimeout, Write: DefaultWriteTimeout, Bulk: DefaultBulkTimeout}
}

// QueryContext derives a context bounded by the query timeout.
func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Query, DefaultQueryTimeout))
}

func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Write, DefaultWriteTimeout))
}

func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Bulk, DefaultBulkTimeout))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
