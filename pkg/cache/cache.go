package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found or has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Cache stores aggregator results until their TTL lapses. Implementations
// are safe for concurrent use and evict expired entries lazily on Get.
type Cache interface {
	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set stores entry under key. Already expired entries are ignored.
	Set(ctx context.Context, key Key, entry *Entry) error

	// Delete removes key.
	Delete(ctx context.Context, key Key) error
}
