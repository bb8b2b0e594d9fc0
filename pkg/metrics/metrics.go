// Package metrics exposes the Prometheus registry shared by all registry-stats
// packages. Collectors are defined next to the code that updates them
// (client, ratelimit, cache, aggregator, refresh) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every promauto collector uses.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Transport Metrics (pkg/client):
//   - registry_requests_total{source, status} (Counter): Physical requests by source and HTTP status
//   - registry_request_duration_seconds{source} (Histogram): Request duration by source
//   - registry_errors_total{class} (Counter): Failed attempts by class (client, server, rate_limit, network)
//   - registry_retries_total{source, class} (Counter): Retry attempts
//   - registry_retry_backoff_seconds{class} (Histogram): Backoff duration
//   - registry_retry_exhausted_total{source} (Counter): Calls that exhausted their retries
//
// Throttle Metrics (pkg/ratelimit):
//   - registry_throttle_wait_seconds{source} (Histogram): Time spent waiting for a slot
//   - registry_rate_limited_total{source} (Counter): 429 responses
//   - registry_backoff_until_seconds{source} (Gauge): Unix time of the latest Retry-After expiry
//
// Cache Metrics (pkg/cache):
//   - registry_cache_hits_total{backend} (Counter)
//   - registry_cache_misses_total{backend} (Counter)
//   - registry_cache_errors_total{backend, operation} (Counter)
//   - registry_cache_evictions_total{backend} (Counter)
//
// Aggregate Metrics (pkg/aggregator, pkg/refresh):
//   - registry_source_failures_total{source, operation} (Counter): Failures dropped from All/Compare/Mine
//   - registry_refresh_runs_total{status} (Counter): Scheduled refresh runs
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(registry_cache_hits_total[5m])) /
//   (sum(rate(registry_cache_hits_total[5m])) + sum(rate(registry_cache_misses_total[5m])))
//
//   # 429 rate per source
//   rate(registry_rate_limited_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(registry_request_duration_seconds_bucket[5m]))
