package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const backendBounded = "bounded"

// Bounded is a memory-bounded cache. It keeps at most size entries, evicting
// the least recently used one on overflow. Entries also honour their own
// expiry, and ttl caps how long any entry is retained.
type Bounded struct {
	lru *expirable.LRU[string, *Entry]
}

// NewBounded creates a cache holding at most size entries for at most ttl.
// A zero ttl disables the cap; per-entry expiry still applies.
func NewBounded(size int, ttl time.Duration) *Bounded {
	onEvict := func(_ string, _ *Entry) {
		CacheEvictions.WithLabelValues(backendBounded).Inc()
	}
	return &Bounded{lru: expirable.NewLRU[string, *Entry](size, onEvict, ttl)}
}

// Get retrieves an entry, evicting it if it has expired.
func (b *Bounded) Get(_ context.Context, key Key) (*Entry, error) {
	k := key.String()

	entry, ok := b.lru.Get(k)
	if !ok {
		CacheMisses.WithLabelValues(backendBounded).Inc()
		return nil, ErrCacheMiss
	}
	if entry.IsExpired() {
		b.lru.Remove(k)
		CacheMisses.WithLabelValues(backendBounded).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendBounded).Inc()
	return entry.clone(), nil
}

// Set stores an entry, evicting the oldest one when full.
func (b *Bounded) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.IsExpired() {
		return nil
	}
	b.lru.Add(key.String(), entry.clone())
	return nil
}

// Delete removes an entry.
func (b *Bounded) Delete(_ context.Context, key Key) error {
	b.lru.Remove(key.String())
	return nil
}

// Len returns the number of stored entries.
func (b *Bounded) Len() int {
	return b.lru.Len()
}
