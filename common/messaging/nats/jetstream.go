package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alphagov/pay-ledger-sub002/common/messaging"
)

// JetStreamClient adds durable streams and pull consumers to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig describes the ledger event stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped by the server.
	Duplicates time.Duration
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration

	// MaxDeliver of -1 redelivers forever.
	MaxDeliver    int
	MaxAckPending int
}

// DefaultStreamConfig returns a work-queue stream that keeps events a week.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   subjects,
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024,
		MaxMsgs:    10_000_000,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	}
}

// DefaultConsumerConfig returns a consumer that redelivers until acked.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		MaxAckPending: 1000,
	}
}

// NewJetStreamClient connects to NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config, logger *slog.Logger) (*JetStreamClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream provisions the stream described by cfg.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer provisions a durable explicit-ack pull consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// Publish publishes to JetStream and waits for the server acknowledgement.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) error {
	o := messaging.ApplyPublishOptions(opts...)
	var pubOpts []jetstream.PublishOpt
	if o.MsgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(o.MsgID))
	}
	o.MsgID = ""

	if _, err := c.js.PublishMsg(ctx, toNatsMsg(subject, data, o), pubOpts...); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Fetcher returns a messaging.Fetcher bound to an existing durable consumer.
func (c *JetStreamClient) Fetcher(ctx context.Context, streamName, consumerName string) (*PullFetcher, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}
	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}
	return NewPullFetcher(consumer), nil
}

// PullFetcher adapts a JetStream pull consumer to messaging.Fetcher.
type PullFetcher struct {
	consumer jetstream.Consumer
}

func NewPullFetcher(consumer jetstream.Consumer) *PullFetcher {
	return &PullFetcher{consumer: consumer}
}

// Fetch pulls up to batch messages, waiting at most maxWait.
func (f *PullFetcher) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]messaging.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, err := f.consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []messaging.Delivery
	for msg := range msgs.Messages() {
		out = append(out, newDelivery(msg))
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && len(out) == 0 {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return out, nil
}

type delivery struct {
	msg      jetstream.Msg
	message  *messaging.Message
	id       string
	attempts uint64
}

func newDelivery(msg jetstream.Msg) *delivery {
	d := &delivery{
		msg: msg,
		message: &messaging.Message{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Metadata:  headersToMetadata(msg.Headers()),
			Timestamp: time.Now(),
		},
		attempts: 1,
	}
	if md, err := msg.Metadata(); err == nil {
		d.id = md.Stream + ":" + strconv.FormatUint(md.Sequence.Stream, 10)
		d.attempts = md.NumDelivered
		d.message.Timestamp = md.Timestamp
	}
	return d
}

func (d *delivery) Message() *messaging.Message { return d.message }
func (d *delivery) ID() string                  { return d.id }
func (d *delivery) Attempt() uint64             { return d.attempts }

func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) NakWithDelay(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}
