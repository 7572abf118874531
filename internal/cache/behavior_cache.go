// Package cache holds the hot-path Redis state of the pipeline: the
// short-TTL fingerprint cache and the per-stage mutual exclusion lock.
// Everything here is best-effort; a cache miss or a disabled client falls
// back to the durable stores, never to a hard failure.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/naia-systems/naia-stack/internal/models"
)

// BehaviorCache stores the latest point fingerprints keyed by point id.
type BehaviorCache struct {
	redis   *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewBehaviorCache creates a fingerprint cache. With enabled false or a nil
// client every operation is a no-op miss.
func NewBehaviorCache(redisClient *redis.Client, enabled bool, ttl time.Duration) *BehaviorCache {
	return &BehaviorCache{redis: redisClient, enabled: enabled, ttl: ttl}
}

// IsEnabled returns whether the cache is usable.
func (c *BehaviorCache) IsEnabled() bool {
	return c.enabled && c.redis != nil
}

// Put stores a fingerprint with the configured TTL.
func (c *BehaviorCache) Put(ctx context.Context, b *models.PointBehavior) error {
	if !c.IsEnabled() {
		return nil
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal behavior: %w", err)
	}

	if err := c.redis.Set(ctx, behaviorKey(b.PointID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache behavior: %w", err)
	}
	return nil
}

// Get returns the cached fingerprint for a point, or nil on miss.
func (c *BehaviorCache) Get(ctx context.Context, pointID string) (*models.PointBehavior, error) {
	if !c.IsEnabled() {
		return nil, nil
	}

	data, err := c.redis.Get(ctx, behaviorKey(pointID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached behavior: %w", err)
	}

	var b models.PointBehavior
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached behavior: %w", err)
	}
	return &b, nil
}

// CountKeys returns how many fingerprints are currently cached. Used by the
// maintenance stage as a consistency metric; Redis expiry owns the eviction.
func (c *BehaviorCache) CountKeys(ctx context.Context) (int64, error) {
	if !c.IsEnabled() {
		return 0, nil
	}

	var count int64
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, behaviorKey("*"), 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan behavior keys: %w", err)
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func behaviorKey(pointID string) string {
	return "behavior:" + pointID
}
