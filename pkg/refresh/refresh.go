// Package refresh periodically fetches every configured package, keeping the
// cache warm and publishing a leaderboard snapshot of the latest run.
package refresh

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/aggregator"
	"github.com/Sternrassler/registry-stats/pkg/bulk"
	"github.com/Sternrassler/registry-stats/pkg/logging"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Defaults applied by New.
const (
	DefaultTimeout         = 10 * time.Minute
	DefaultTrendDays       = 30
	DefaultLeaderboardSize = 100
)

// Run outcomes reported by registry_refresh_runs_total.
const (
	statusSuccess   = "success"
	statusPartial   = "partial"
	statusCancelled = "cancelled"
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "registry_refresh_runs_total",
	Help: "Total refresh runs by outcome",
}, []string{"status"})

// ErrNoSchedule is returned by Start when no schedule is configured.
var ErrNoSchedule = errors.New("refresh schedule is empty")

// Config holds the refresher configuration.
type Config struct {
	Aggregator *aggregator.Aggregator

	// Targets maps a source to the subjects fetched on every run.
	Targets map[string][]string

	// Owners maps a source to an owner whose discovered subjects are merged
	// into Targets before fetching.
	Owners map[string]string

	// TrendSources get a daily range over the last TrendDays for every item.
	// Defaults to npm.
	TrendSources []string
	TrendDays    int

	// Schedule is a standard five-field cron expression.
	Schedule string

	// Timeout bounds one scheduled run.
	Timeout time.Duration

	LeaderboardSize int

	Options aggregator.Options
	Logger  *zerolog.Logger

	// Now is used for timestamps and range windows. Defaults to time.Now.
	Now func() time.Time
}

// Refresher runs refreshes on demand or on a schedule.
type Refresher struct {
	cfg    Config
	agg    *aggregator.Aggregator
	logger zerolog.Logger

	runMu sync.Mutex
	cron  *cron.Cron

	mu     sync.RWMutex
	latest *Snapshot
}

// New creates a refresher.
func New(cfg Config) (*Refresher, error) {
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.TrendSources == nil {
		cfg.TrendSources = []string{"npm"}
	}
	if cfg.TrendDays <= 0 {
		cfg.TrendDays = DefaultTrendDays
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultLeaderboardSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Refresher{
		cfg:    cfg,
		agg:    cfg.Aggregator,
		logger: logging.OrDefault(cfg.Logger, logging.ComponentRefresh),
	}, nil
}

// Latest returns the snapshot of the last completed run, or nil.
func (r *Refresher) Latest() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Start schedules runs. Scheduled runs that fire while another run is in
// progress are skipped.
func (r *Refresher) Start(ctx context.Context) error {
	if r.cfg.Schedule == "" {
		return ErrNoSchedule
	}

	cronLogger := cron.PrintfLogger(&r.logger)
	r.cron = cron.New(cron.WithChain(cron.Recover(cronLogger)))

	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		if !r.runMu.TryLock() {
			r.logger.Warn().Msg("Refresh still running, skipping scheduled run")
			return
		}
		defer r.runMu.Unlock()

		rctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		if _, err := r.run(rctx); err != nil {
			r.logger.Error().Err(err).Msg("Scheduled refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	r.cron.Start()
	r.logger.Info().Str("schedule", r.cfg.Schedule).Msg("Refresh scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce performs a refresh now, waiting for a scheduled run in progress.
// Per-subject failures are recorded in the snapshot; an error is returned
// only when ctx ends before the run completes, and no snapshot is stored.
func (r *Refresher) RunOnce(ctx context.Context) (*Snapshot, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) (*Snapshot, error) {
	start := r.cfg.Now()
	snap := &Snapshot{
		FetchedAt:      start.UTC(),
		RegistryTotals: map[string]RegistryTotals{},
		Errors:         []Failure{},
	}
	fail := func(scope string, err error) {
		snap.Errors = append(snap.Errors, Failure{Scope: scope, Message: err.Error()})
	}

	targets := r.targets(ctx, fail)

	var all []Item
	for _, source := range r.order(targets) {
		items := r.fetch(ctx, source, targets[source], fail)
		if slices.Contains(r.cfg.TrendSources, source) {
			r.trend(ctx, source, items, fail)
		}

		totals := RegistryTotals{Packages: len(items)}
		for _, item := range items {
			totals.Week += item.Week
			totals.Month += item.Month
		}
		snap.RegistryTotals[source] = totals
		snap.Totals.Packages += totals.Packages
		snap.Totals.Week += totals.Week
		snap.Totals.Month += totals.Month
		if len(items) > 0 {
			snap.Totals.ActiveRegistries++
		}
		all = append(all, items...)
	}

	if err := ctx.Err(); err != nil {
		runsTotal.WithLabelValues(statusCancelled).Inc()
		return nil, fmt.Errorf("refresh interrupted: %w", err)
	}

	snap.Sparkline = make([]int64, r.cfg.TrendDays)
	for _, item := range all {
		for i, v := range item.Range {
			snap.Sparkline[i] += v
		}
	}

	slices.SortStableFunc(all, func(a, b Item) int {
		if c := cmp.Compare(b.Week, a.Week); c != 0 {
			return c
		}
		return cmp.Compare(b.Month, a.Month)
	})
	if len(all) > r.cfg.LeaderboardSize {
		all = all[:r.cfg.LeaderboardSize]
	}
	snap.Items = all

	status := statusSuccess
	if len(snap.Errors) > 0 {
		status = statusPartial
	}
	runsTotal.WithLabelValues(status).Inc()

	r.mu.Lock()
	r.latest = snap
	r.mu.Unlock()

	r.logger.Info().
		Int("packages", snap.Totals.Packages).
		Int("errors", len(snap.Errors)).
		Dur("duration", r.cfg.Now().Sub(start)).
		Msg("Refresh complete")

	return snap, nil
}

// targets merges configured subjects with discovered ones.
func (r *Refresher) targets(ctx context.Context, fail func(string, error)) map[string][]string {
	out := make(map[string][]string, len(r.cfg.Targets))
	for source, subjects := range r.cfg.Targets {
		out[source] = slices.Clone(subjects)
	}

	for _, source := range sortedKeys(r.cfg.Owners) {
		records, err := r.agg.Mine(ctx, source, r.cfg.Owners[source], r.cfg.Options)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", source).Msg("Discovery failed")
			fail(source+".mine", err)
			continue
		}
		for _, record := range records {
			if !slices.Contains(out[source], record.Subject) {
				out[source] = append(out[source], record.Subject)
			}
		}
	}

	for source, subjects := range out {
		out[source] = dedupe(subjects)
	}
	return out
}

// order lists registered sources first in registration order, then any
// others alphabetically so their failures are still reported.
func (r *Refresher) order(targets map[string][]string) []string {
	var out []string
	for _, source := range r.agg.Sources() {
		if _, ok := targets[source]; ok {
			out = append(out, source)
		}
	}
	for _, source := range sortedKeys(targets) {
		if !slices.Contains(out, source) {
			out = append(out, source)
		}
	}
	return out
}

func (r *Refresher) fetch(ctx context.Context, source string, subjects []string, fail func(string, error)) []Item {
	items := make([]Item, len(subjects))
	for i, subject := range subjects {
		items[i] = Item{Source: source, Name: subject, Failed: true}
	}
	if len(subjects) == 0 {
		return items
	}

	records, err := r.agg.Bulk(ctx, source, subjects, r.cfg.Options)
	if records == nil && err != nil {
		r.logger.Warn().Err(err).Str("source", source).Msg("Bulk refresh failed")
		fail(source+".bulk", err)
		return items
	}
	for _, failure := range bulk.Failures(err) {
		fail(source+":"+failure.Subject, failure.Err)
	}

	for i, record := range records {
		if record == nil {
			continue
		}
		items[i] = fromRecord(source, subjects[i], record)
	}
	return items
}

func fromRecord(source, name string, record *registry.Record) Item {
	value := func(p *int64) int64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return Item{
		Source: source,
		Name:   name,
		Day:    value(record.Counts.Day),
		Week:   value(record.Counts.Week),
		Month:  value(record.Counts.Month),
		Total:  value(record.Counts.Total),
		Extra:  record.Extra,
	}
}

// trend fills Range and TrendPct for every fetched item.
func (r *Refresher) trend(ctx context.Context, source string, items []Item, fail func(string, error)) {
	days := r.cfg.TrendDays
	today := r.cfg.Now().UTC()
	start := today.AddDate(0, 0, -days).Format(registry.DateLayout)
	end := today.Format(registry.DateLayout)

	for i := range items {
		item := &items[i]
		if item.Failed {
			continue
		}
		series, err := r.agg.Range(ctx, source, item.Name, start, end, r.cfg.Options)
		if err != nil {
			fail(fmt.Sprintf("%s.range:%s", source, item.Name), err)
			continue
		}

		counts := make([]int64, 0, days)
		for _, p := range series {
			counts = append(counts, p.Count)
		}
		if len(counts) > days {
			counts = counts[len(counts)-days:]
		}
		if pad := days - len(counts); pad > 0 {
			counts = append(make([]int64, pad), counts...)
		}
		item.Range = counts

		if days >= 14 {
			last7 := sum(counts[days-7:])
			prev7 := sum(counts[days-14 : days-7])
			if item.Week == 0 {
				item.Week = last7
			}
			item.TrendPct = pctChange(last7, prev7)
		}
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
