package aggregator

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/Sternrassler/registry-stats/pkg/bulk"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

// Mine discovers every subject owned by owner on source and fetches their
// stats through Bulk. Subjects that fail or are not found are left out. The
// result is sorted by monthly count, highest first; subjects without a
// monthly figure count as zero.
func (a *Aggregator) Mine(ctx context.Context, source, owner string, opts Options) ([]*registry.Record, error) {
	p, err := a.Provider(source)
	if err != nil {
		return nil, err
	}
	d, ok := p.(registry.Discoverer)
	if !ok {
		return nil, registry.Unsupported(source, fmt.Sprintf("%s does not support owner discovery", source))
	}

	subjects, err := d.Discover(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("discover %s packages of %q: %w", source, owner, err)
	}
	subjects = unique(subjects)

	a.logger.Info().
		Str("source", source).
		Str("owner", owner).
		Int("subjects", len(subjects)).
		Msg("Discovered subjects")

	records, err := a.Bulk(ctx, source, subjects, opts)
	for _, failure := range bulk.Failures(err) {
		sourceFailuresTotal.WithLabelValues(source, opMine).Inc()
		a.logger.Warn().
			Err(failure.Err).
			Str("source", source).
			Str("subject", failure.Subject).
			Msg("Subject failed, omitting from result")
		opts.reportError(source, failure.Subject, failure.Err)
	}

	out := make([]*registry.Record, 0, len(records))
	for _, record := range records {
		if record != nil {
			out = append(out, record)
		}
	}
	slices.SortStableFunc(out, func(x, y *registry.Record) int {
		return cmp.Compare(y.MonthOrZero(), x.MonthOrZero())
	})
	return out, nil
}

func unique(items []string) []string {
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
