package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis based caching with per-tenant versioning: settlement
// writes bump the version instead of enumerating keys to invalidate.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(tenantID int64) string {
	return fmt.Sprintf("reporting:%d:version", tenantID)
}

// Version returns the tenant's current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, tenantID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, versionKey(tenantID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates all cached aggregates for the tenant.
func (c *Cache) Bump(ctx context.Context, tenantID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(tenantID)).Err()
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, tenantID int64, parts ...string) (string, error) {
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reporting:%d:v%d:%s", tenantID, ver, strings.Join(parts, ":")), nil
}

// Get fetches and unmarshals a cached value; ok=false on miss.
func (c *Cache) Get(ctx context.Context, key string, target any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores a value under the key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}
