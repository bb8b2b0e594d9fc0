package registry

import (
	"context"
	"time"
)

// FetchOptions carries per-call, source-specific settings into a provider.
type FetchOptions struct {
	// Token is an opaque credential for sources whose limits rise with auth.
	Token string
}

// Provider is the contract every source implements.
// Stats returns (nil, nil) when the subject does not exist on the source.
type Provider interface {
	Name() string
	Stats(ctx context.Context, subject string, opts FetchOptions) (*Record, error)

	// RateLimit returns the published quota, or nil when undocumented.
	RateLimit() *RateLimit
}

// RangeProvider is implemented by sources with daily time series.
type RangeProvider interface {
	Provider

	// MaxSpanDays is the largest inclusive day span one call may request.
	// Zero means unlimited.
	MaxSpanDays() int

	// Range returns the daily points between start and end (inclusive).
	Range(ctx context.Context, subject string, start, end time.Time) ([]DailyPoint, error)
}

// BulkProvider is implemented by sources exposing a native multi-subject endpoint.
type BulkProvider interface {
	Provider

	// Eligible reports whether a subject may be requested through the bulk endpoint.
	Eligible(subject string) bool

	// MaxBatch is the maximum number of subjects per bulk call.
	MaxBatch() int

	// StatsBulk fetches many eligible subjects. Subjects missing from the
	// returned map were not found.
	StatsBulk(ctx context.Context, subjects []string) (map[string]*Record, error)
}

// Discoverer is implemented by sources that can enumerate an owner's subjects.
type Discoverer interface {
	Discover(ctx context.Context, owner string) ([]string, error)
}

// Normalizer is implemented by sources that canonicalize subject identifiers
// (e.g. Docker Hub's implicit "library/" namespace).
type Normalizer interface {
	Normalize(subject string) string
}
