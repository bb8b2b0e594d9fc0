// Package cache provides the time-boxed result cache used by the aggregator.
//
// Three backends implement Cache:
//
//   - Memory: process-local map with lazy expiry on Get and no size bound
//   - Bounded: expirable LRU with a fixed capacity, still honouring per-entry expiry
//   - Redis: shared cache with JSON values and native key TTL
//
// # Basic Usage
//
//	c := cache.NewMemory()
//
//	key := cache.StatsKey("npm", "express")
//	entry, err := c.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the registry, then
//		_ = c.Set(ctx, key, cache.NewRecordEntry(record, 5*time.Minute))
//	}
//
// # Keys
//
// Keys have the form operation:source:subject[:start:end], so point stats and
// range queries for the same subject never collide:
//
//	stats:npm:express
//	range:npm:express:2025-01-01:2025-01-31
//
// # Metrics
//
//   - registry_cache_hits_total{backend}
//   - registry_cache_misses_total{backend}
//   - registry_cache_errors_total{backend,operation}
//   - registry_cache_evictions_total{backend}
package cache
