// Package cache provides the cross-instance coordination the persistence
// collaborator alone can't: a distributed rate limiter for the authorize
// API, shared across every trust-core replica behind a load balancer. It
// also offers a TTL-bounded lock and a trust-score mirror, which no
// trust-core component calls; the decay sweep and the circuit-breaker reset
// run without a lock. The authoritative, single-instance hot path (profile reads
// during authorize) stays in profilestore's in-process go-cache; Redis here
// is deliberately a coordination layer, not the source of truth.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache wraps a go-redis client with the trust-core coordination
// primitives built on top of it.
type RedisCache struct {
	client *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies reachability.
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

const (
	lockPrefix      = "trust-core:lock:"
	rateLimitPrefix = "trust-core:ratelimit:"
	scoreCachePrefix = "trust-core:score:"
	scoreCacheTTL    = 15 * time.Second
)

// AcquireLock takes a distributed, TTL-bounded lock so only one replica runs
// a singleton job at a time. Returns false, nil if another replica already
// holds it. Neither the decay scheduler nor the circuit-breaker reset takes
// this lock.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, lockPrefix+name, "1", ttl).Result()
}

// ReleaseLock releases a lock taken by AcquireLock. Safe to call even if the
// lock already expired.
func (c *RedisCache) ReleaseLock(ctx context.Context, name string) error {
	return c.client.Del(ctx, lockPrefix+name).Err()
}

// AllowRequest implements a fixed-window distributed rate limiter shared
// across every trust-core replica, keyed by agent ID or IP (the same key
// the in-process limiter.Middleware would use on a single instance). Returns
// false once the window's limit is exceeded.
func (c *RedisCache) AllowRequest(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	fullKey := rateLimitPrefix + key
	count, err := c.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= limit, nil
}

// CacheTrustScore mirrors an agent's current trust score so read-heavy
// replicas (e.g. a dashboard) don't all fall through to the database on
// every request; authorize decisions never read through this cache, only
// profilestore's in-process one. No trust-core component writes the mirror.
func (c *RedisCache) CacheTrustScore(ctx context.Context, agentID string, score int) error {
	return c.client.Set(ctx, scoreCachePrefix+agentID, score, scoreCacheTTL).Err()
}

// GetCachedTrustScore retrieves a mirrored trust score, returning found=false
// on a cache miss rather than an error.
func (c *RedisCache) GetCachedTrustScore(ctx context.Context, agentID string) (score int, found bool, err error) {
	val, err := c.client.Get(ctx, scoreCachePrefix+agentID).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}
