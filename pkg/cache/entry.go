package cache

import (
	"time"

	"github.com/Sternrassler/registry-stats/pkg/registry"
)

// Entry is one cached aggregator result: either a stats record or a daily series.
type Entry struct {
	Record *registry.Record      `json:"record,omitempty"`
	Series []registry.DailyPoint `json:"series"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`
}

// NewRecordEntry wraps a stats record that expires after ttl.
func NewRecordEntry(record *registry.Record, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{Record: record, Expires: now.Add(ttl), CachedAt: now}
}

// NewSeriesEntry wraps a daily series that expires after ttl.
// The series is copied; an empty series stays non-nil.
func NewSeriesEntry(series []registry.DailyPoint, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Series:   append([]registry.DailyPoint{}, series...),
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// clone returns a copy whose series can be modified without touching the
// cached one. Records are immutable once produced and stay shared.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Series != nil {
		c.Series = append([]registry.DailyPoint{}, e.Series...)
	}
	return &c
}
