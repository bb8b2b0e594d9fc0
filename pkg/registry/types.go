// Package registry defines the normalized data model shared by every package
// registry source: stats records, daily time series points, rate-limit
// descriptors, source errors and the provider contracts the aggregator calls.
package registry

import (
	"time"
)

// DateLayout is the calendar-day format used by DailyPoint and range queries.
const DateLayout = "2006-01-02"

// Counts holds the download counters a source reported. A nil field means the
// source does not publish that figure.
type Counts struct {
	Total *int64 `json:"total,omitempty"`
	Day   *int64 `json:"day,omitempty"`
	Week  *int64 `json:"week,omitempty"`
	Month *int64 `json:"month,omitempty"`
}

// Record is one normalized stats result for a subject on a source.
// Records are produced once per successful fetch and must not be modified
// afterwards; cached records are shared between callers.
type Record struct {
	// Source is the registry name (e.g. "npm").
	Source string `json:"source"`

	// Subject is the package, extension or image identifier.
	Subject string `json:"subject"`

	Counts Counts `json:"counts"`

	// Extra carries source-specific fields (stars, rating, version...).
	Extra map[string]any `json:"extra,omitempty"`

	// FetchedAt is when the source answered.
	FetchedAt time.Time `json:"fetchedAt"`
}

// MonthOrZero returns the monthly count, treating a missing figure as zero.
func (r *Record) MonthOrZero() int64 {
	if r == nil || r.Counts.Month == nil {
		return 0
	}
	return *r.Counts.Month
}

// WeekOrZero returns the weekly count, treating a missing figure as zero.
func (r *Record) WeekOrZero() int64 {
	if r == nil || r.Counts.Week == nil {
		return 0
	}
	return *r.Counts.Week
}

// DailyPoint is the download count for one calendar day.
type DailyPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"downloads"`
}

// RateLimit documents a source's published request quota.
// The pacing throttle does not enforce it; ratelimit.TokenBucket can.
type RateLimit struct {
	MaxRequests     int           `json:"maxRequests"`
	Window          time.Duration `json:"window"`
	AuthRaisesLimit bool          `json:"authRaisesLimit"`
}

// Int64 returns a pointer to v. Providers use it to fill optional counters.
func Int64(v int64) *int64 {
	return &v
}
