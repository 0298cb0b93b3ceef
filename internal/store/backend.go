package store

import (
	"context"
	"time"
)

// Backend is the raw key-value layer the engine drives. Implementations
// store opaque JSON bytes under namespaced string keys with per-key TTL
// and a monotonically increasing version used for compare-and-set.
//
// TTL semantics: ttl <= 0 means the key never expires. An expired key
// behaves exactly like a missing one; backends reclaim expired rows
// lazily on access and in bulk via Sweep.
type Backend interface {
	// Get returns the value and version stored under key. ok is false
	// when the key is missing or expired.
	Get(ctx context.Context, key string) (value []byte, version int64, ok bool, err error)

	// Put writes unconditionally, bumping the version.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfVersion writes only if the key's current version equals
	// expect. expect 0 means create-only: the key must not exist.
	// Returns ErrVersionConflict otherwise.
	PutIfVersion(ctx context.Context, key string, value []byte, ttl time.Duration, expect int64) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Sweep removes all expired keys and reports how many went.
	Sweep(ctx context.Context) (removed int, err error)

	// Usage reports the backend's total stored bytes, for quota
	// watermark checks.
	Usage(ctx context.Context) (int64, error)

	Close() error
}
