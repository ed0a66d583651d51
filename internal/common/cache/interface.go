package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations used by the judge service.
// Judge results, progress records and rate limit windows all live behind it.
type Cache interface {
	BasicOps
	HashOps
	WindowOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key. A missing key returns "" and a nil error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HMSet sets multiple fields in the hash stored at key
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error
}

// WindowOps defines fixed window counters.
type WindowOps interface {
	// IncrWindow increments the counter at key and starts its expiry on the first hit.
	// The increment and the expiry are applied atomically.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// PipelineOps defines pipeline operations for batch processing
type PipelineOps interface {
	// Pipeline executes multiple commands in a single round trip
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner defines the interface for pipeline operations
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	HMSet(key string, fields map[string]interface{}) error
	Expire(key string, ttl time.Duration) error
}
