package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/groupquiz-backend/internal/config"
)

// RenderCache keeps rendered slot fragments in Redis. Keys include the slot
// sequence, so an entry can never be older than its key claims.
type RenderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRenderCache creates a new RenderCache.
func NewRenderCache(rdb *redis.Client, ttl time.Duration) *RenderCache {
	return &RenderCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached fragment and whether it was present.
func (c *RenderCache) Get(ctx context.Context, attemptID int64, slot, sequence int) (string, bool, error) {
	html, err := c.rdb.Get(ctx, config.CacheKey.SlotRenderKey(attemptID, slot, sequence)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return html, true, nil
}

// Set stores a fragment with the configured TTL.
func (c *RenderCache) Set(ctx context.Context, attemptID int64, slot, sequence int, html string) error {
	return c.rdb.Set(ctx, config.CacheKey.SlotRenderKey(attemptID, slot, sequence), html, c.ttl).Err()
}
