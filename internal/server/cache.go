package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/cascadesearch/cascade/internal/search"
	"github.com/cascadesearch/cascade/pkg/config"
	"github.com/cascadesearch/cascade/pkg/metrics"
	pkgredis "github.com/cascadesearch/cascade/pkg/redis"
)

const cacheKeyPrefix = "search:"

// QueryCache caches search results in Redis. Concurrent identical requests
// are collapsed through singleflight so a popular query is computed once
// per node.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	met    *metrics.Metrics
	group  singleflight.Group
	logger *slog.Logger
}

// NewQueryCache creates a cache over client. met may be nil.
func NewQueryCache(client *pkgredis.Client, cfg config.RedisConfig, met *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		met:    met,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// GetOrCompute returns the cached result for req, or runs compute and
// caches its result. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req search.Request,
	compute func() (*search.Result, error),
) (*search.Result, bool, error) {
	key := c.buildKey(req)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*search.Result), false, nil
}

// Invalidate drops every cached search result, returning the number of
// keys removed. Called after index writes.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.InfoContext(ctx, "query cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*search.Result, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		if c.met != nil {
			c.met.QueryCacheMissesTotal.Inc()
		}
		return nil, false
	}
	var result search.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		if c.met != nil {
			c.met.QueryCacheMissesTotal.Inc()
		}
		return nil, false
	}
	if c.met != nil {
		c.met.QueryCacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *search.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) buildKey(req search.Request) string {
	raw := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d",
		req.Query, req.Filter, req.MatchingStrategy, req.Offset, req.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}
