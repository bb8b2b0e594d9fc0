package aggregator

import (
	"time"

	"github.com/Sternrassler/registry-stats/pkg/batch"
	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

// DefaultCacheTTL is how long results stay cached when Options.CacheTTL is unset.
const DefaultCacheTTL = 5 * time.Minute

// ProgressFunc reports that subject resolved and done of total subjects are finished.
type ProgressFunc func(done, total int, subject string)

// ErrorFunc receives failures that an aggregate operation drops from its result.
type ErrorFunc func(source, subject string, err error)

// Options are per-call settings.
type Options struct {
	// Cache is consulted before and populated after every fetch. Nil disables caching.
	Cache cache.Cache

	// CacheTTL defaults to DefaultCacheTTL.
	CacheTTL time.Duration

	// Concurrency bounds parallel individual fetches in Bulk. Defaults to 5.
	Concurrency int

	// Tokens maps source names to credentials passed through to providers.
	Tokens map[string]string

	// Progress is called after each subject of a Bulk or Mine call resolves.
	Progress ProgressFunc

	// OnError is called for each per-source or per-subject failure that
	// All, Compare or Mine swallow.
	OnError ErrorFunc
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Concurrency <= 0 {
		o.Concurrency = batch.DefaultConcurrency
	}
	return o
}

func (o Options) fetchOptions(source string) registry.FetchOptions {
	return registry.FetchOptions{Token: o.Tokens[source]}
}

func (o Options) reportError(source, subject string, err error) {
	if o.OnError != nil {
		o.OnError(source, subject, err)
	}
}
