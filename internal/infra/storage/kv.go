package storage

import (
	"context"
	"time"
)

// Entry is one key/value pair returned by a prefix listing.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the durable key/value adapter the record stores and drift-signal
// accumulation sit on. Implementations guarantee eventual visibility of a
// Put to subsequent Get/List calls, not strict linearizability.
type Store interface {
	// Get retrieves a value. The second return is false when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores a value. A non-zero ttl expires the key after the duration.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
}
