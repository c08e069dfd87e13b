// Package llm implements the LLM invocation layer (C7): single/batched
// calls with retry, tiered caching (distributed with local fallback), and
// per-call timeout.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/pkg/models"
)

// cacheEntryWire is the JSON encoding of models.CacheEntry stored in Redis;
// TTL is persisted in nanoseconds so Expired can be recomputed after a
// round-trip.
type cacheEntryWire struct {
	CreatedAt time.Time     `json:"created_at"`
	Response  string        `json:"response"`
	TTL       time.Duration `json:"ttl"`
}

func encodeCacheEntry(e models.CacheEntry) ([]byte, error) {
	return json.Marshal(cacheEntryWire{CreatedAt: e.CreatedAt, Response: e.Response, TTL: e.TTL})
}

func decodeCacheEntry(raw []byte) (models.CacheEntry, error) {
	var w cacheEntryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.CacheEntry{}, err
	}
	return models.CacheEntry{CreatedAt: w.CreatedAt, Response: w.Response, TTL: w.TTL}, nil
}

// CacheKey derives H = SHA256(prompt ∥ model ∥ temperature_bucket), the
// cache key named in the data model. temperature is bucketed to one
// decimal place so near-identical sampling settings still share a cache
// entry.
func CacheKey(prompt, model string, temperature float64) string {
	bucket := fmt.Sprintf("%.1f", temperature)
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(bucket))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the tiered cache's contract: Get/Put/Delete by the key CacheKey
// produces. Implementations never return an error from Get on a cache
// miss; a miss is (zero value, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, key string, entry models.CacheEntry) error
}

// LocalCache is the in-process LRU fallback tier, grounded on
// hashicorp/golang-lru/v2's generic Cache as used for estuary-flow's SNI
// resolution cache.
type LocalCache struct {
	lru *lru.Cache[string, models.CacheEntry]
}

func NewLocalCache(maxSize int) (*LocalCache, error) {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c, err := lru.New[string, models.CacheEntry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("llm: new local cache: %w", err)
	}
	return &LocalCache{lru: c}, nil
}

func (c *LocalCache) Get(_ context.Context, key string) (models.CacheEntry, bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok || entry.Expired(time.Now()) {
		if ok {
			c.lru.Remove(key)
		}
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *LocalCache) Put(_ context.Context, key string, entry models.CacheEntry) error {
	c.lru.Add(key, entry)
	return nil
}

// DistributedCache is the shared Redis-backed tier, grounded on
// Generativebots-ocx-backend-go-svc's GoRedisAdapter: a thin wrapper over
// go-redis/v9 with dial/read/write timeouts and a key prefix.
type DistributedCache struct {
	rdb    *redis.Client
	prefix string
}

// DistributedConfig parameterises the Redis connection.
type DistributedConfig struct {
	URL                  string
	KeyPrefix            string
	PoolSize             int
	SocketTimeout        time.Duration
	SocketConnectTimeout time.Duration
}

// NewDistributedCache dials Redis and pings it so callers can decide
// whether to fall back to local-only caching if the dial fails.
func NewDistributedCache(ctx context.Context, cfg DistributedConfig) (*DistributedCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("llm: parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.SocketTimeout > 0 {
		opts.ReadTimeout = cfg.SocketTimeout
		opts.WriteTimeout = cfg.SocketTimeout
	}
	if cfg.SocketConnectTimeout > 0 {
		opts.DialTimeout = cfg.SocketConnectTimeout
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("llm: redis ping failed (%s): %w", cfg.URL, err)
	}

	return &DistributedCache{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

func (c *DistributedCache) key(k string) string { return c.prefix + k }

func (c *DistributedCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, err
	}
	entry, err := decodeCacheEntry(raw)
	if err != nil {
		return models.CacheEntry{}, false, err
	}
	if entry.Expired(time.Now()) {
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *DistributedCache) Put(ctx context.Context, key string, entry models.CacheEntry) error {
	raw, err := encodeCacheEntry(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), raw, entry.TTL).Err()
}

func (c *DistributedCache) Close() error { return c.rdb.Close() }

// TieredCache reads/writes the distributed tier first and automatically
// falls back to the local tier when the distributed tier is unreachable,
// per the LLM invocation layer's fallback contract. A nil Distributed
// field makes this a local-only cache.
type TieredCache struct {
	Distributed *DistributedCache
	Local       *LocalCache
}

func (t *TieredCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if t.Distributed != nil {
		entry, ok, err := t.Distributed.Get(ctx, key)
		if err == nil {
			return entry, ok, nil
		}
		log.Warn().Err(err).Msg("llm: distributed cache unavailable, falling back to local")
	}
	if t.Local == nil {
		return models.CacheEntry{}, false, nil
	}
	return t.Local.Get(ctx, key)
}

// Stats reports the tiered cache's shape for the health endpoint: which
// tiers are configured and the local tier's current entry count.
func (t *TieredCache) Stats() map[string]any {
	stats := map[string]any{
		"distributed_enabled": t.Distributed != nil,
		"local_enabled":       t.Local != nil,
	}
	if t.Local != nil {
		stats["local_size"] = t.Local.lru.Len()
	}
	return stats
}

func (t *TieredCache) Put(ctx context.Context, key string, entry models.CacheEntry) error {
	if t.Distributed != nil {
		if err := t.Distributed.Put(ctx, key, entry); err != nil {
			log.Warn().Err(err).Msg("llm: distributed cache write failed, writing local only")
		}
	}
	if t.Local != nil {
		return t.Local.Put(ctx, key, entry)
	}
	return nil
}
