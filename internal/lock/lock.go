package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder keeps the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Locker serializes work on a named resource across processes.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type Noop struct{}

func (Noop) Obtain(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 30),
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk, err := l.client.Obtain(ctx, "lock:"+key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lk.Release(context.Background())
	}, nil
}
