package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for record cache operations.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_cache_hits_total",
		Help: "Total record cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_cache_misses_total",
		Help: "Total record cache misses",
	})

	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mastr_cache_errors_total",
		Help: "Total record cache errors by operation",
	}, []string{"operation"})
)

// ErrCacheMiss indicates the requested identifier was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheTTL is how long fetched records stay cached. Registry
// records change rarely; a day keeps resumed runs cheap without going
// stale for weeks.
const DefaultCacheTTL = 24 * time.Hour

// Cache is a Redis-backed record cache keyed by unit identifier. It lets
// resumed or overlapping runs skip refetching identifiers already seen.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a record cache with the given TTL. A zero ttl uses
// DefaultCacheTTL.
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		redis: redisClient,
		ttl:   ttl,
	}
}

// cacheKey builds the Redis key for a unit identifier.
func cacheKey(unitID string) string {
	return "mastr:unit:" + unitID
}

// Get retrieves a cached record by identifier.
// Returns ErrCacheMiss if the identifier is not cached.
func (c *Cache) Get(ctx context.Context, unitID string) (Record, error) {
	data, err := c.redis.Get(ctx, cacheKey(unitID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMissesTotal.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		cacheErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("unmarshal cached record: %w", err)
	}

	cacheHitsTotal.Inc()
	return rec, nil
}

// Set stores a fetched record under its identifier with the cache TTL.
func (c *Cache) Set(ctx context.Context, unitID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := c.redis.Set(ctx, cacheKey(unitID), data, c.ttl).Err(); err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cached record.
func (c *Cache) Delete(ctx context.Context, unitID string) error {
	if err := c.redis.Del(ctx, cacheKey(unitID)).Err(); err != nil {
		cacheErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}
