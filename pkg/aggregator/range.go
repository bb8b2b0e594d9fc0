package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

// ErrInvalidRange is returned for malformed or inverted date bounds.
var ErrInvalidRange = errors.New("invalid date range")

// Range returns the daily series for subject between start and end
// (YYYY-MM-DD, inclusive), sorted by date without duplicates. Spans longer
// than the source allows per call are fetched as consecutive chunks.
func (a *Aggregator) Range(ctx context.Context, source, subject, start, end string, opts Options) ([]registry.DailyPoint, error) {
	p, err := a.Provider(source)
	if err != nil {
		return nil, err
	}
	rp, ok := p.(registry.RangeProvider)
	if !ok {
		return nil, registry.Unsupported(source, fmt.Sprintf(
			"%s does not support time-series data. Only %s support range queries",
			source, strings.Join(a.rangeSources(), " and ")))
	}

	from, to, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	key := cache.RangeKey(source, normalize(p, subject), start, end)
	if entry, ok := a.lookup(ctx, opts, key); ok && entry.Record == nil {
		return entry.Series, nil
	}

	series := []registry.DailyPoint{}
	for _, chunk := range DayChunks(from, to, rp.MaxSpanDays()) {
		points, err := rp.Range(ctx, subject, chunk[0], chunk[1])
		if err != nil {
			return nil, fmt.Errorf("range %s..%s: %w",
				chunk[0].Format(registry.DateLayout), chunk[1].Format(registry.DateLayout), err)
		}
		series = append(series, points...)
	}
	series = SortSeries(series)

	a.store(ctx, opts, key, cache.NewSeriesEntry(series, opts.CacheTTL))
	return series, nil
}

func (a *Aggregator) rangeSources() []string {
	var names []string
	for _, p := range a.providers {
		if _, ok := p.(registry.RangeProvider); ok {
			names = append(names, p.Name())
		}
	}
	if len(names) == 0 {
		return []string{"none"}
	}
	return names
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(registry.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q is not YYYY-MM-DD", ErrInvalidRange, start)
	}
	to, err := time.Parse(registry.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q is not YYYY-MM-DD", ErrInvalidRange, end)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, start, end)
	}
	return from, to, nil
}

// DayChunks splits the inclusive span [from, to] into consecutive inclusive
// [start, end] pairs of at most maxDays days. Chunks neither overlap nor
// leave gaps. maxDays <= 0 yields one chunk.
func DayChunks(from, to time.Time, maxDays int) [][2]time.Time {
	if to.Before(from) {
		return nil
	}
	if maxDays <= 0 {
		return [][2]time.Time{{from, to}}
	}

	var chunks [][2]time.Time
	for cursor := from; !cursor.After(to); {
		chunkEnd := cursor.AddDate(0, 0, maxDays-1)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		chunks = append(chunks, [2]time.Time{cursor, chunkEnd})
		cursor = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks
}

// SortSeries orders points by date and keeps the first point of each date.
func SortSeries(points []registry.DailyPoint) []registry.DailyPoint {
	slices.SortStableFunc(points, func(a, b registry.DailyPoint) int {
		return strings.Compare(a.Date, b.Date)
	})
	return slices.CompactFunc(points, func(a, b registry.DailyPoint) bool {
		return a.Date == b.Date
	})
}
