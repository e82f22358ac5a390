// Package kv defines the minimal key-value capability the session core
// depends on: TTL'd reads and writes, atomic counters, and paginated key
// enumeration. Everything else in the application coordinates through an
// implementation of this interface — there is no in-process shared state.
package kv

import (
	"context"
	"time"
)

// Store is the key-value contract consumed by the session, rate-limit,
// and cleanup layers. Implementations must be safe for concurrent use
// from many uncoordinated handler instances.
type Store interface {
	// Get returns the value for key. The second return is false when the
	// key does not exist (which is not an error).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key with the given physical TTL. A ttl of
	// zero or less stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments the counter at key and returns the
	// post-increment value. When the increment creates the key, ttl is
	// applied so abandoned counters expire on their own. This is the one
	// operation whose atomicity the rate limiter is built on.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Keys returns one page of keys matching prefix, starting at cursor.
	// A returned cursor of 0 means the enumeration is complete. Pages are
	// bounded by count; the full keyspace is never loaded at once.
	Keys(ctx context.Context, prefix string, cursor uint64, count int64) ([]string, uint64, error)
}
