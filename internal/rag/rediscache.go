package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/rueidis"
)

// cacheKeyPrefix namespaces every cached search result so Purge can match
// them without touching unrelated keys.
const cacheKeyPrefix = "rag_cache:"

// RedisConfig holds connection parameters for the Redis result cache.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate the connection when set.
	Username string
	Password string

	// DB selects the logical Redis database.
	DB int
}

// RedisCache implements ResultCache on top of a Redis server via rueidis.
// Cached values are JSON-encoded Document slices with a per-key TTL.
type RedisCache struct {
	client rueidis.Client
	log    *slog.Logger
}

// NewRedisCache connects to Redis and returns a ready-to-use cache.
func NewRedisCache(cfg RedisConfig, log *slog.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("rediscache: addr is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("rediscache: failed to create client: %w", err)
	}

	return &RedisCache{client: client, log: log}, nil
}

// Get returns the cached documents for key. A miss, a decode failure, and a
// connection error all report ok=false; the caller falls through to a live
// search either way.
func (c *RedisCache) Get(ctx context.Context, key string) ([]Document, bool) {
	cmd := c.client.B().Get().Key(key).Build()
	data, err := c.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			c.log.Warn("cache get failed", "error", err)
		}
		return nil, false
	}

	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		c.log.Warn("cache entry corrupt, ignoring", "key", key, "error", err)
		return nil, false
	}
	return docs, true
}

// Set stores docs under key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, docs []Document, ttl time.Duration) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("rediscache: encode failed: %w", err)
	}

	cmd := c.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("rediscache: set failed: %w", err)
	}
	return nil
}

// Purge deletes every cached search result, iterating the keyspace with
// SCAN so large caches do not block the server.
func (c *RedisCache) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		cmd := c.client.B().Scan().Cursor(cursor).Match(cacheKeyPrefix + "*").Count(100).Build()
		res, err := c.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("rediscache: scan failed: %w", err)
		}

		if len(res.Elements) > 0 {
			del := c.client.B().Del().Key(res.Elements...).Build()
			if err := c.client.Do(ctx, del).Error(); err != nil {
				return fmt.Errorf("rediscache: delete failed: %w", err)
			}
		}

		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	cmd := c.client.B().Ping().Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("rediscache: ping failed: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (c *RedisCache) Close() {
	c.client.Close()
}
