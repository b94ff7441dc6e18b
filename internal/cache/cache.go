// Package cache is the fast first tier in front of the match store. It
// maps short string keys to match ids with a TTL.
package cache

import (
	"context"
	"time"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
)

// Cache stores string values with an expiry
type Cache interface {
	// Get returns the value and whether the key was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Reset removes every key owned by the cache
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// New returns the backend selected by cache.backend. An unreachable
// Redis falls back to the in-process cache.
func New(ctx context.Context, cfg *config.Config) Cache {
	logger := logging.GetGlobalLogger().WithField("component", "cache")

	if cfg.Cache.Backend == "redis" {
		redisCache := NewRedisCache(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
		defer cancel()
		err := redisCache.Ping(pingCtx)
		if err == nil {
			logger.Info("Using Redis cache", map[string]interface{}{"url": redactURL(cfg.Redis.URL)})
			return redisCache
		}
		logger.Warn("Redis unavailable, using in-memory cache", map[string]interface{}{"error": err.Error()})
		_ = redisCache.Close()
	}

	return NewMemoryCache(cfg.Cache.CleanupInterval)
}
