// Package cache provides the Redis-backed short-TTL caches and the
// fixed-window rate limiter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// TTLs per key family. Feed entries are deliberately short-lived: the feed
// changes on every ingest and a stale page is worse than a DB round trip.
const (
	FeedTTL    = 30 * time.Second
	ThreadTTL  = 5 * time.Minute
	ContactTTL = time.Hour
	SyncTTL    = 24 * time.Hour
	rateWindow = time.Minute
)

// Cache wraps the Redis client with the service's key families.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{
		rdb:    rdb,
		logger: slog.Default().With("component", "cache"),
	}, nil
}

// NewFromClient wraps an existing client. Useful for testing.
func NewFromClient(rdb *redis.Client) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: slog.Default().With("component", "cache"),
	}
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity for the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// --- Key builders ---

// FeedKey caches the unfiltered first feed page for a user.
func FeedKey(userID string) string {
	return "feed:" + userID
}

// ThreadKey caches a thread response.
func ThreadKey(platform models.Platform, threadID string) string {
	return fmt.Sprintf("thread:%s:%s", platform, threadID)
}

// ContactKey caches a contact lookup.
func ContactKey(userID string, platform models.Platform, contactID string) string {
	return fmt.Sprintf("contact:%s:%s:%s", userID, platform, contactID)
}

// SyncKey stores the last-sync marker used by dashboards.
func SyncKey(userID string, platform models.Platform) string {
	return fmt.Sprintf("sync:%s:%s", userID, platform)
}

// RateKey is the fixed-window counter for a (user, endpoint bucket) pair.
func RateKey(userID, endpoint string) string {
	return fmt.Sprintf("rate:%s:%s", userID, endpoint)
}

// --- Generic JSON get/set ---

// GetJSON loads and unmarshals a cached value into dest. Returns false on
// miss. Cache errors are logged and reported as misses: the cache is an
// optimization, never an authority.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("Cache entry corrupt, dropping", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON marshals and stores a value with the given TTL. Best-effort.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

// Delete removes a key. Best-effort.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Cache delete failed", "keys", keys, "error", err)
	}
}

// InvalidateFeed drops a user's cached feed page. Called on every upsert,
// user action, and decay affecting that user.
func (c *Cache) InvalidateFeed(ctx context.Context, userID string) {
	c.Delete(ctx, FeedKey(userID))
}

// InvalidateThread drops a cached thread after an upsert into it.
func (c *Cache) InvalidateThread(ctx context.Context, platform models.Platform, threadID string) {
	if threadID == "" {
		return
	}
	c.Delete(ctx, ThreadKey(platform, threadID))
}

// MarkSynced stores the last successful sync time for a (user, platform).
func (c *Cache) MarkSynced(ctx context.Context, userID string, platform models.Platform, at time.Time) {
	c.SetJSON(ctx, SyncKey(userID, platform), at, SyncTTL)
}

// --- Rate limiting ---

// Allow implements a fixed 60s window counter with INCR + EXPIRE. The first
// hit in a window sets the expiry; subsequent hits ride the same window.
// Fails open on Redis errors.
func (c *Cache) Allow(ctx context.Context, userID, endpoint string, limit int) (bool, error) {
	key := RateKey(userID, endpoint)
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Warn("Rate limit INCR failed, allowing request", "key", key, "error", err)
		return true, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, rateWindow).Err(); err != nil {
			c.logger.Warn("Rate limit EXPIRE failed", "key", key, "error", err)
		}
	}
	return count <= int64(limit), nil
}
