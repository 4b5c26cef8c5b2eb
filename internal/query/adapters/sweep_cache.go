package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/providers"
)

const sweepKeyPrefix = "records:sweep:"

// SweepKey is the cache key of the full record set of kind
func SweepKey(kind string) string {
	return sweepKeyPrefix + kind
}

// SweepCache stores full record sweeps in a CacheProvider as JSON so views of
// the same kind can share one sweep.
type SweepCache struct {
	provider providers.CacheProvider
}

// NewSweepCache wraps provider
func NewSweepCache(provider providers.CacheProvider) *SweepCache {
	return &SweepCache{provider: provider}
}

// Get returns the cached sweep. ok is false on a miss.
func (c *SweepCache) Get(ctx context.Context, key string) (records []entities.Record, ok bool, err error) {
	data, err := c.provider.Get(ctx, key)
	if errors.Is(err, providers.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

// Set stores records for ttl, rounded up to whole seconds.
func (c *SweepCache) Set(ctx context.Context, key string, records []entities.Record, ttl time.Duration) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	seconds := int((ttl + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return c.provider.Set(ctx, key, data, seconds)
}

// Delete removes a cached sweep
func (c *SweepCache) Delete(ctx context.Context, key string) error {
	return c.provider.Delete(ctx, key)
}
