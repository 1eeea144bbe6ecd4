package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Used for active
// rule sets and historical volume aggregates; supports two-phase
// caching: local LRU (community) + Redis (pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"HARRIER_CACHE_TYPE"`

	// Local LRU cache settings (community tier)
	LocalMaxSize int           `env:"HARRIER_CACHE_MAX_SIZE"`
	LocalTTL     time.Duration `env:"HARRIER_CACHE_TTL"`

	// Redis settings (pro tier)
	RedisAddr     string `env:"HARRIER_REDIS_ADDR"`
	RedisPassword string `env:"HARRIER_REDIS_PASSWORD"`
	RedisDB       int    `env:"HARRIER_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"HARRIER_CACHE_TWO_PHASE"` // check local first, then Redis
}
