package repository

import (
	"context"
	"time"
)

// Store is the narrow key-value capability the lock protocol and the ledger
// are built on. Implementations must be concurrency-safe and atomic per key;
// no cross-key or cross-call atomicity is assumed.
type Store interface {
	// Get returns the value stored at key. A missing key is reported with
	// found=false and a nil error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set overwrites key with value, clearing any expiry.
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent stores value at key with the given ttl only if the key does
	// not exist. It returns true iff this call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if its current value equals value.
	// It returns true iff the key was removed.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Ping performs a round trip to the backing store.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
