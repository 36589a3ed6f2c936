package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetFeatures retrieves a cached feature vector for a transaction.
	GetFeatures(ctx context.Context, txnID string) (FeatureVector, error)

	// SetFeatures caches a computed feature vector.
	SetFeatures(ctx context.Context, txnID string, fv FeatureVector, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-stage processed-event counters.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter reads a counter without mutating it. Missing or expired
	// counters read as zero.
	GetCounter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
