// Package consumer runs the worker pool that drains the event queue into the
// event store and keeps projections up to date.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/common/messaging"
	"github.com/alphagov/pay-ledger-sub002/common/middleware"
	"github.com/alphagov/pay-ledger-sub002/internal/metrics"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
	"github.com/alphagov/pay-ledger-sub002/internal/service"
)

// WorkerState is the lifecycle position of one worker.
type WorkerState int

const (
	Idle WorkerState = iota
	Polling
	Processing
	Stopped
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

var allStates = []WorkerState{Idle, Polling, Processing, Stopped}

// Ingester stores an event and refreshes its projection.
type Ingester interface {
	Ingest(ctx context.Context, e *models.Event, forceProject bool) (service.IngestResult, error)
}

// Config tunes the worker pool.
type Config struct {
	Workers        int
	BatchSize      int
	MaxWait        time.Duration
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		BatchSize:      10,
		MaxWait:        5 * time.Second,
		RetryDelay:     5 * time.Second,
		ProcessTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	return c
}

// Consumer pulls deliveries with a fixed pool of workers.
type Consumer struct {
	fetcher  messaging.Fetcher
	ingester Ingester
	cfg      Config
	logger   *slog.Logger

	mu     sync.RWMutex
	states []WorkerState
}

func New(fetcher messaging.Fetcher, ingester Ingester, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c := &Consumer{
		fetcher:  fetcher,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger.With(slog.String(logging.FieldComponent, "consumer")),
		states:   make([]WorkerState, cfg.Workers),
	}
	c.publishStates()
	return c
}

// States returns a snapshot of every worker's state.
func (c *Consumer) States() []WorkerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkerState, len(c.states))
	copy(out, c.states)
	return out
}

// Running reports whether at least one worker has not stopped.
func (c *Consumer) Running() bool {
	for _, s := range c.States() {
		if s != Stopped {
			return true
		}
	}
	return false
}

func (c *Consumer) setState(worker int, s WorkerState) {
	c.mu.Lock()
	c.states[worker] = s
	c.mu.Unlock()
	c.publishStates()
}

func (c *Consumer) publishStates() {
	counts := make(map[WorkerState]int, len(allStates))
	for _, s := range c.States() {
		counts[s]++
	}
	for _, s := range allStates {
		metrics.WorkerStates.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has drained.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.Int("workers", c.cfg.Workers),
		slog.Int("batch_size", c.cfg.BatchSize),
	)

	var wg sync.WaitGroup
	for i := range c.cfg.Workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.work(ctx, id)
		}(i)
	}
	wg.Wait()

	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) work(ctx context.Context, id int) {
	logger := c.logger.With(logging.Worker(id))
	defer c.setState(id, Stopped)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(id, Polling)
		deliveries, err := c.fetcher.Fetch(ctx, c.cfg.BatchSize, c.cfg.MaxWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("fetch failed", logging.Error(err))
			c.setState(id, Idle)
			if !sleep(ctx, c.cfg.RetryDelay) {
				return
			}
			continue
		}

		c.setState(id, Processing)
		for i, d := range deliveries {
			if ctx.Err() != nil {
				c.release(deliveries[i:], logger)
				return
			}
			// A message that has started processing finishes even when
			// shutdown begins; the store timeouts bound how long that takes.
			c.Handle(context.WithoutCancel(ctx), d)
		}
		c.setState(id, Idle)
	}
}

// release hands unprocessed deliveries back to the queue for redelivery.
func (c *Consumer) release(ds []messaging.Delivery, logger *slog.Logger) {
	for _, d := range ds {
		if err := d.NakWithDelay(0); err != nil {
			logger.Warn("nak on shutdown failed", slog.String("message_id", d.ID()), logging.Error(err))
		}
		metrics.MessagesTotal.WithLabelValues("released").Inc()
	}
}

// Handle processes one delivery and settles it with Ack or NakWithDelay.
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) {
	start := time.Now()
	defer func() { metrics.MessageDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessTimeout)
	defer cancel()

	outcome, err := c.process(ctx, d)
	if err != nil {
		c.logger.WarnContext(ctx, "message processing failed, scheduling redelivery",
			slog.String("message_id", d.ID()),
			slog.Uint64("attempt", d.Attempt()),
			logging.Error(err),
		)
		if nerr := d.NakWithDelay(c.cfg.RetryDelay); nerr != nil {
			c.logger.ErrorContext(ctx, "nak failed", slog.String("message_id", d.ID()), logging.Error(nerr))
		}
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := d.Ack(ctx); err != nil {
		c.logger.ErrorContext(ctx, "ack failed", slog.String("message_id", d.ID()), logging.Error(err))
		metrics.MessagesTotal.WithLabelValues("ack_failed").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues(outcome).Inc()
}

func (c *Consumer) process(ctx context.Context, d messaging.Delivery) (string, error) {
	msg := d.Message()
	if msg == nil {
		return "", errors.New("delivery carries no message")
	}

	env, err := models.DecodeEventMessage(msg.Data)
	if err != nil {
		return "", err
	}

	fallback := msg.Header(messaging.HeaderMsgID)
	if fallback == "" {
		fallback = d.ID()
	}
	e, err := env.ToEvent(fallback)
	if err != nil {
		return "", err
	}

	ctx = middleware.WithRequestID(ctx, e.DeliveryID)
	force := env.ReprojectDomainObject || d.Attempt() > 1

	res, err := c.ingester.Ingest(ctx, e, force)
	if err != nil {
		return "", fmt.Errorf("ingest %s %s: %w", e.ResourceType, e.ResourceExternalID, err)
	}

	c.logger.DebugContext(ctx, "message processed",
		logging.DeliveryID(e.DeliveryID),
		logging.ResourceType(e.ResourceType.String()),
		logging.ResourceID(e.ResourceExternalID),
		logging.EventType(e.EventType),
		slog.String("insert", res.Insert.String()),
		slog.Bool("projected", res.Projected),
	)

	switch {
	case res.Projected:
		return "projected", nil
	case res.Insert == repository.Duplicate:
		return "duplicate", nil
	default:
		return "stored", nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
