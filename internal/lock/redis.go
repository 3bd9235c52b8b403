package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes RedisLocker.
type RedisConfig struct {
	// Prefix is prepended to every lock key.
	Prefix string

	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration

	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// DefaultRedisConfig returns the lock settings used when none are configured.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:        "ledger:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every ledger instance using the same Redis.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisLocker {
	def := DefaultRedisConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger.With(slog.String("component", "redis_lock"))}
}

// Acquire polls SET NX until the key is free or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.cfg.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("acquire lock %s: %w", key, ctxErr)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock",
					slog.String("key", fullKey),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}
