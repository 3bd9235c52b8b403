package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alphagov/pay-ledger-sub002/common/database"
	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/common/messaging"
	natsclient "github.com/alphagov/pay-ledger-sub002/common/messaging/nats"
	"github.com/alphagov/pay-ledger-sub002/internal/consumer"
	"github.com/alphagov/pay-ledger-sub002/internal/lock"
	"github.com/alphagov/pay-ledger-sub002/internal/repository"
)

func (a *app) openStore(ctx context.Context) (*repository.PostgresRepository, error) {
	pg := a.cfg.Database.Postgres
	a.logger.Info("connecting to PostgreSQL",
		slog.String("host", pg.Host),
		slog.Int("port", pg.Port),
		slog.String("database", pg.Database),
	)
	repo, err := repository.NewPostgresRepository(ctx, pg.ConnString(),
		repository.PoolConfig{
			MaxConns:        a.cfg.Database.Pool.MaxConns,
			MinConns:        a.cfg.Database.Pool.MinConns,
			MaxConnLifetime: a.cfg.Database.Pool.MaxConnLifetime,
			MaxConnIdleTime: a.cfg.Database.Pool.MaxConnIdleTime,
		},
		database.Timeouts{
			Query: a.cfg.Database.Timeouts.Query,
			Write: a.cfg.Database.Timeouts.Write,
			Bulk:  a.cfg.Database.Timeouts.Bulk,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres %s:%d: %w", pg.Host, pg.Port, err)
	}
	return repo, nil
}

func (a *app) migrateUp() error {
	m, err := repository.NewMigrator(a.cfg.Database.Postgres.ConnString())
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		a.logger.Warn("could not get migration version", logging.Error(err))
		return nil
	}
	a.logger.Info("database migration complete",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// newLocker returns the Redis locker when Redis is enabled, else an
// in-process one. The returned func releases the Redis client.
func (a *app) newLocker(ctx context.Context) (lock.Locker, func(), error) {
	rc := a.cfg.Redis
	if !rc.Enabled {
		a.logger.Warn("redis disabled, projection locks are local to this process")
		return lock.NewLocalLocker(), func() {}, nil
	}

	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	if rc.MaxRetries > 0 {
		opts.MaxRetries = rc.MaxRetries
	}
	if rc.PoolSize > 0 {
		opts.PoolSize = rc.PoolSize
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	cfg := lock.DefaultRedisConfig()
	if rc.LockPrefix != "" {
		cfg.Prefix = rc.LockPrefix
	}
	if rc.LockTTL > 0 {
		cfg.TTL = rc.LockTTL
	}
	if rc.LockRetry > 0 {
		cfg.RetryInterval = rc.LockRetry
	}
	a.logger.Info("using redis projection locks", slog.String("addr", opts.Addr))
	return lock.NewRedisLocker(client, cfg, a.logger), func() { _ = client.Close() }, nil
}

func (a *app) connectJetStream(ctx context.Context, provision bool) (*natsclient.JetStreamClient, error) {
	nc := a.cfg.NATS
	if !nc.Enabled {
		return nil, fmt.Errorf("nats is disabled in configuration")
	}

	cfg := natsclient.DefaultConfig()
	cfg.URL = nc.URL
	cfg.MaxReconnects = nc.MaxReconnects
	if nc.ReconnectWait > 0 {
		cfg.ReconnectWait = nc.ReconnectWait
	}
	js, err := natsclient.NewJetStreamClient(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if !provision {
		return js, nil
	}

	stream := natsclient.DefaultStreamConfig(nc.Stream, []string{messaging.SubjectEventsAll})
	if nc.MaxAge > 0 {
		stream.MaxAge = nc.MaxAge
	}
	if nc.Duplicates > 0 {
		stream.Duplicates = nc.Duplicates
	}
	if _, err := js.CreateOrUpdateStream(ctx, stream); err != nil {
		_ = js.Close()
		return nil, err
	}

	cons := natsclient.DefaultConsumerConfig(nc.Consumer, messaging.SubjectEventsAll)
	if nc.AckWait > 0 {
		cons.AckWait = nc.AckWait
	}
	if nc.MaxAckPending > 0 {
		cons.MaxAckPending = nc.MaxAckPending
	}
	if _, err := js.CreateOrUpdateConsumer(ctx, nc.Stream, cons); err != nil {
		_ = js.Close()
		return nil, err
	}
	return js, nil
}

func (a *app) consumerConfig() consumer.Config {
	c := a.cfg.Consumer
	return consumer.Config{
		Workers:        c.Workers,
		BatchSize:      c.BatchSize,
		MaxWait:        c.MaxWait,
		RetryDelay:     c.RetryDelay,
		ProcessTimeout: c.ProcessTimeout,
	}
}
