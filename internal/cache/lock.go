package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrLockNotObtained = errors.New("lock not obtained")

type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out advisory locks that cut contention between terminals.
// Ledger correctness never depends on holding one.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type NoopLocker struct{}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }

func (NoopLocker) Obtain(context.Context, string, time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type RedisLocker struct {
	client  *redislock.Client
	backoff time.Duration
	retries int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(client),
		backoff: 50 * time.Millisecond,
		retries: 20,
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
