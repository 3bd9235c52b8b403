// Package messaging defines the broker-neutral types the ledger uses to
// publish events and to pull them for projection.
package messaging

import (
	"context"
	"time"
)

// Header names understood by the broker implementations.
const (
	// HeaderMsgID carries the publisher supplied deduplication id.
	HeaderMsgID = "Nats-Msg-Id"
)

// Message is a message received from or sent to a broker.
type Message struct {
	Subject   string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
}

// Header returns the metadata value for key, or "".
func (m *Message) Header(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// Delivery is a message handed out by a pull consumer. It must be settled
// exactly once with Ack or NakWithDelay.
type Delivery interface {
	Message() *Message

	// ID identifies the delivery on the broker, e.g. "<stream>:<sequence>".
	ID() string

	// Attempt is the 1-based delivery attempt for this message.
	Attempt() uint64

	Ack(ctx context.Context) error
	NakWithDelay(delay time.Duration) error
}

// Fetcher pulls batches of deliveries. Fetch blocks for at most maxWait and
// returns an empty slice when nothing is pending.
type Fetcher interface {
	Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Delivery, error)
}

// Publisher publishes messages to subjects.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	Close() error
}

// PublishOption configures a single publish.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of publish options.
type PublishOptions struct {
	MsgID   string
	Headers map[string]string
}

// WithMsgID sets the broker deduplication id of the message.
func WithMsgID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MsgID = id
	}
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// ApplyPublishOptions resolves opts into a PublishOptions value.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
