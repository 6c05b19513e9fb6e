package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/logger"
	"github.com/go-redis/redis/v8"
)

const cacheKey = "amp:registry:tools"

// Cache is an optional Redis-backed front for Bootstrap: a resolved tool
// set is cached for ttl, so a process restart doesn't re-read the config
// file or re-fetch the remote registry until the cache expires. If Redis
// is unreachable, every method degrades to a cache miss rather than an
// error — the caller always has Bootstrap as ground truth.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewCache parses redisURL and returns a Cache with the given entry
// lifetime. A nil logger falls back to logger.NewDefaultLogger.
func NewCache(redisURL string, ttl time.Duration, log logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, kernelerr.StorageError("registry.NewCache", err.Error())
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl, logger: log}, nil
}

// Get returns the cached entry set, or ok=false on a miss or any Redis
// error — callers treat both identically and fall back to Bootstrap.
func (c *Cache) Get(ctx context.Context) (entries []Entry, ok bool) {
	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("registry cache read failed", "error", err.Error())
		}
		return nil, false
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn("registry cache payload corrupt", "error", err.Error())
		return nil, false
	}
	return entries, true
}

// Set stores entries with the cache's configured TTL. Write failures are
// logged, not returned — a cache miss on the next read is the worst case.
func (c *Cache) Set(ctx context.Context, entries []Entry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		c.logger.Warn("registry cache marshal failed", "error", err.Error())
		return
	}
	if err := c.client.Set(ctx, cacheKey, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("registry cache write failed", "error", err.Error())
	}
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
