package cache

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

const backendMemory = "memory"

// Memory is an unbounded in-process cache. An expired entry stays in memory
// until the next Get for its key evicts it; there is no background sweep.
type Memory struct {
	entries *xsync.Map[string, *Entry]
}

// NewMemory creates an empty memory cache.
func NewMemory() *Memory {
	return &Memory{entries: xsync.NewMap[string, *Entry]()}
}

// Get retrieves an entry, evicting it if it has expired.
func (m *Memory) Get(_ context.Context, key Key) (*Entry, error) {
	k := key.String()

	entry, ok := m.entries.Load(k)
	if !ok {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired() {
		// Only drop the entry we saw; a concurrent Set may have replaced it.
		m.entries.Compute(k, func(current *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
			if loaded && current == entry {
				return nil, xsync.DeleteOp
			}
			return current, xsync.CancelOp
		})
		CacheEvictions.WithLabelValues(backendMemory).Inc()
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendMemory).Inc()
	return entry.clone(), nil
}

// Set stores an entry.
func (m *Memory) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.IsExpired() {
		return nil
	}
	m.entries.Store(key.String(), entry.clone())
	return nil
}

// Delete removes an entry.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.entries.Delete(key.String())
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	return m.entries.Size()
}

// Clear removes every entry.
func (m *Memory) Clear() {
	m.entries.Clear()
}
