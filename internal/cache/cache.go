package cache

import (
	"context"
	"time"
)

// Cache stores short lived JSON snapshots keyed by string.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string, _ interface{}) (bool, error) {
	return false, nil
}

func (Noop) Set(_ context.Context, _ string, _ interface{}, _ time.Duration) error {
	return nil
}

func (Noop) Delete(_ context.Context, _ ...string) error {
	return nil
}

func ProductKey(id string) string {
	return "product:" + id
}
