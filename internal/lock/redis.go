package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tally:reconcile:"

// Redis is a distributed Locker for multi-instance deployments.
type Redis struct {
	rs      *redsync.Redsync
	ttl     time.Duration
	retries int
	logger  *slog.Logger
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// block others; retries bounds how long Lock waits.
func NewRedis(client *redis.Client, ttl time.Duration, retries int, logger *slog.Logger) *Redis {
	return &Redis{
		rs:      redsync.New(goredis.NewPool(client)),
		ttl:     ttl,
		retries: retries,
		logger:  logger,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(
		redisKeyPrefix+key,
		redsync.WithExpiry(r.ttl),
		redsync.WithTries(r.retries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The holder's context may already be done; release regardless.
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			r.logger.Warn("failed to release reconcile lock", "key", key, "error", err)
		}
	}, nil
}
