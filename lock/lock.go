// Package lock provides per-key distributed locks on Redis using redsync.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrEmptyKey    = errors.New("lock: key cannot be empty")
	ErrNilFn       = errors.New("lock: function is nil")
	ErrNotAcquired = errors.New("lock: could not acquire")
)

// Options tune acquisition. Zero fields fall back to DefaultOptions.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

// RedisLocker implements WithLock over a single Redis client.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// including on panic.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == "" {
		return ErrEmptyKey
	}
	if fn == nil {
		return ErrNilFn
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w %s: %v", ErrNotAcquired, key, err)
	}

	defer func() {
		// Unlock must run even when ctx was cancelled inside fn.
		ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			l.logger.Error("release lock", zap.String("key", key), zap.Error(err))
		case !ok:
			l.logger.Warn("lock expired before release", zap.String("key", key))
		}
	}()

	return fn(ctx)
}
