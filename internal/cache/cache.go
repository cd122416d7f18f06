package cache

import (
	"context"
	"time"
)

// DescriptionCache stores generated product descriptions keyed by product id
// and name, so repeat requests skip the model call.
type DescriptionCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, description string, ttl time.Duration) error
}

type NoopDescriptionCache struct{}

func (NoopDescriptionCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopDescriptionCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}
