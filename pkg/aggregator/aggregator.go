// Package aggregator is the public surface of registry-stats. It routes calls
// to registered providers and composes the cache, the batch scheduler and the
// smart bulk dispatcher.
//
// Single-source operations (Stats, Bulk, Range) return errors to the caller.
// Multi-source operations (All, Compare, Mine) never fail because of one
// source: failed or empty sources are left out of the result and reported
// through Options.OnError.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Sternrassler/registry-stats/pkg/batch"
	"github.com/Sternrassler/registry-stats/pkg/bulk"
	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/logging"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/rs/zerolog"
)

// Config holds the aggregator configuration.
type Config struct {
	// Providers in registration order. All and Compare report in this order.
	Providers []registry.Provider

	Logger *zerolog.Logger
}

// Aggregator fetches normalized stats from the registered sources.
// It is safe for concurrent use.
type Aggregator struct {
	providers  []registry.Provider
	byName     map[string]registry.Provider
	dispatcher *bulk.Dispatcher
	logger     zerolog.Logger
}

// New creates an aggregator. Provider names must be unique.
func New(cfg Config) (*Aggregator, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	logger := logging.OrDefault(cfg.Logger, logging.ComponentAggregator)

	byName := make(map[string]registry.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p == nil {
			return nil, fmt.Errorf("provider cannot be nil")
		}
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		byName[p.Name()] = p
	}

	return &Aggregator{
		providers:  append([]registry.Provider(nil), cfg.Providers...),
		byName:     byName,
		dispatcher: bulk.NewDispatcher(logger.With().Str("component", logging.ComponentBulk).Logger()),
		logger:     logger,
	}, nil
}

// Sources returns the registered source names in registration order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// RateLimits returns the published quota of every source that documents one.
func (a *Aggregator) RateLimits() map[string]registry.RateLimit {
	out := make(map[string]registry.RateLimit)
	for _, p := range a.providers {
		if rl := p.RateLimit(); rl != nil {
			out[p.Name()] = *rl
		}
	}
	return out
}

// Provider returns the provider registered under source.
func (a *Aggregator) Provider(source string) (registry.Provider, error) {
	p, ok := a.byName[source]
	if !ok {
		return nil, registry.UnknownSource(source)
	}
	return p, nil
}

// Stats fetches one subject from one source. It returns (nil, nil) when the
// subject does not exist there.
func (a *Aggregator) Stats(ctx context.Context, source, subject string, opts Options) (*registry.Record, error) {
	p, err := a.Provider(source)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	key := cache.StatsKey(source, normalize(p, subject))
	if record, ok := a.cachedRecord(ctx, opts, key); ok {
		return record, nil
	}

	record, err := p.Stats(ctx, subject, opts.fetchOptions(source))
	if err != nil {
		return nil, err
	}
	return a.accept(ctx, p, subject, record, opts)
}

// accept validates a freshly fetched record and caches it.
func (a *Aggregator) accept(ctx context.Context, p registry.Provider, subject string, record *registry.Record, opts Options) (*registry.Record, error) {
	if record == nil {
		return nil, nil
	}
	if err := checkIdentity(p, subject, record); err != nil {
		return nil, err
	}
	a.store(ctx, opts, cache.StatsKey(p.Name(), normalize(p, subject)), cache.NewRecordEntry(record, opts.CacheTTL))
	return record, nil
}

// All queries every source for subject concurrently and returns the records
// found, in registration order.
func (a *Aggregator) All(ctx context.Context, subject string, opts Options) []*registry.Record {
	records := a.fan(ctx, a.Sources(), subject, opts, opAll)

	out := make([]*registry.Record, 0, len(records))
	for _, record := range records {
		if record != nil {
			out = append(out, record)
		}
	}
	return out
}

// Compare is All keyed by source name. sources restricts the query; empty
// means every registered source. Unknown names are reported through
// OnError and skipped.
func (a *Aggregator) Compare(ctx context.Context, subject string, sources []string, opts Options) map[string]*registry.Record {
	if len(sources) == 0 {
		sources = a.Sources()
	}
	records := a.fan(ctx, sources, subject, opts, opCompare)

	out := make(map[string]*registry.Record, len(records))
	for i, record := range records {
		if record != nil {
			out[sources[i]] = record
		}
	}
	return out
}

// fan runs Stats against every source in parallel. A failed source leaves a
// nil slot.
func (a *Aggregator) fan(ctx context.Context, sources []string, subject string, opts Options, operation string) []*registry.Record {
	results := batch.Map(ctx, len(sources), len(sources), func(ctx context.Context, i int) (*registry.Record, error) {
		return a.Stats(ctx, sources[i], subject, opts)
	})

	records := make([]*registry.Record, len(sources))
	for i, res := range results {
		if res.Err != nil {
			sourceFailuresTotal.WithLabelValues(sources[i], operation).Inc()
			a.logger.Warn().
				Err(res.Err).
				Str("source", sources[i]).
				Str("subject", subject).
				Str("operation", operation).
				Msg("Source failed, omitting from result")
			opts.reportError(sources[i], subject, res.Err)
			continue
		}
		records[i] = res.Value
	}
	return records
}

// Bulk fetches many subjects from one source and returns records in input
// order, nil where a subject was not found or failed. Failures are returned
// as *bulk.SubjectError values joined into the error while the successful
// positions are still filled.
//
// Cached subjects are served from the cache. When the source has a native
// bulk endpoint and more than one subject is left, the smart dispatcher is
// used; otherwise subjects are fetched with Options.Concurrency in flight.
func (a *Aggregator) Bulk(ctx context.Context, source string, subjects []string, opts Options) ([]*registry.Record, error) {
	p, err := a.Provider(source)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	records := make([]*registry.Record, len(subjects))
	errs := make([]error, len(subjects))

	var mu sync.Mutex
	done := 0
	finish := func(i int, record *registry.Record, err error) {
		mu.Lock()
		defer mu.Unlock()
		records[i], errs[i] = record, err
		done++
		if opts.Progress != nil {
			opts.Progress(done, len(subjects), subjects[i])
		}
	}

	var misses []int
	for i, subject := range subjects {
		if record, ok := a.cachedRecord(ctx, opts, cache.StatsKey(source, normalize(p, subject))); ok {
			finish(i, record, nil)
			continue
		}
		misses = append(misses, i)
	}

	pending := make([]string, len(misses))
	for k, i := range misses {
		pending[k] = subjects[i]
	}

	if bp, ok := p.(registry.BulkProvider); ok && len(pending) > 1 {
		individual := func(ctx context.Context, subject string) (*registry.Record, error) {
			return p.Stats(ctx, subject, opts.fetchOptions(source))
		}
		// The dispatcher serializes onResolve, so finish never races here.
		_, _ = a.dispatcher.Fetch(ctx, bp, pending, individual, func(k int, subject string, record *registry.Record, err error) {
			if err == nil {
				record, err = a.accept(ctx, p, subject, record, opts)
				if err != nil {
					err = &bulk.SubjectError{Subject: subject, Err: err}
				}
			}
			finish(misses[k], record, err)
		})
		return records, errors.Join(errs...)
	}

	batch.Each(ctx, opts.Concurrency, len(pending), func(ctx context.Context, k int) error {
		subject := pending[k]
		record, err := p.Stats(ctx, subject, opts.fetchOptions(source))
		if err == nil {
			record, err = a.accept(ctx, p, subject, record, opts)
		}
		if err != nil {
			err = &bulk.SubjectError{Subject: subject, Err: err}
		}
		finish(misses[k], record, err)
		return nil
	})

	return records, errors.Join(errs...)
}

// cachedRecord returns a live cached record for key. Backend errors are
// logged and treated as a miss.
func (a *Aggregator) cachedRecord(ctx context.Context, opts Options, key cache.Key) (*registry.Record, bool) {
	entry, ok := a.lookup(ctx, opts, key)
	if !ok || entry.Record == nil {
		return nil, false
	}
	return entry.Record, true
}

func (a *Aggregator) lookup(ctx context.Context, opts Options, key cache.Key) (*cache.Entry, bool) {
	if opts.Cache == nil {
		return nil, false
	}
	entry, err := opts.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, fetching")
		}
		a.logger.Debug().Str("key", key.String()).Msg("Cache miss")
		return nil, false
	}
	a.logger.Debug().Str("key", key.String()).Dur("ttl", entry.TTL()).Msg("Cache hit")
	return entry, true
}

func (a *Aggregator) store(ctx context.Context, opts Options, key cache.Key, entry *cache.Entry) {
	if opts.Cache == nil {
		return
	}
	if err := opts.Cache.Set(ctx, key, entry); err != nil {
		a.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
}

func normalize(p registry.Provider, subject string) string {
	if n, ok := p.(registry.Normalizer); ok {
		return n.Normalize(subject)
	}
	return subject
}

// checkIdentity rejects records that do not describe the requested subject.
func checkIdentity(p registry.Provider, subject string, record *registry.Record) error {
	if record.Source == p.Name() &&
		(strings.EqualFold(record.Subject, subject) || strings.EqualFold(record.Subject, normalize(p, subject))) {
		return nil
	}
	return &registry.SourceError{
		Source:  p.Name(),
		Message: fmt.Sprintf("record %s/%s does not match requested %q", record.Source, record.Subject, subject),
		Err:     registry.ErrMalformed,
	}
}
