// Package cache provides the BandHub caching layer: a Redis-backed key-value
// store adapter, a gzip payload codec, and the tag-indexed invalidation
// cache built on top of them.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("cache: key not found")
	// ErrCircuitOpen is returned when the store's circuit breaker is open
	// and the operation was not attempted.
	ErrCircuitOpen = errors.New("cache: circuit breaker is open")
)

// Pipeline batches store operations for a single round trip. Batching is an
// efficiency mechanism, not a transaction: a failure mid-batch can leave some
// operations applied and others not.
type Pipeline interface {
	// Delete queues key deletions.
	Delete(keys ...string)
	// Exec sends the batch. The pipeline must not be reused afterward.
	Exec(ctx context.Context) error
}

// Store is the minimal key-value primitive the caching layer is built on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCardinality(ctx context.Context, key string) (int64, error)
	SetRemove(ctx context.Context, key string, members ...string) error

	// Scan walks keys matching pattern incrementally. It must never be
	// implemented with a blocking KEYS command.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Exists(ctx context.Context, key string) (bool, error)

	Pipeline() Pipeline

	Ping(ctx context.Context) error
	Close() error
}
