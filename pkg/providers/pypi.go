package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"golang.org/x/sync/errgroup"
)

const pypiAPI = "https://pypistats.org/api"

// pypiCategory selects the series that excludes mirror traffic.
const pypiCategory = "without_mirrors"

type pypiRecent struct {
	Data struct {
		LastDay   int64 `json:"last_day"`
		LastWeek  int64 `json:"last_week"`
		LastMonth int64 `json:"last_month"`
	} `json:"data"`
}

type pypiOverall struct {
	Data []struct {
		Category  string  `json:"category"`
		Date      *string `json:"date"`
		Downloads int64   `json:"downloads"`
	} `json:"data"`
}

// PyPIProvider reads pypistats.org.
type PyPIProvider struct {
	client *client.Client
	api    settings
}

// NewPyPI creates the PyPI provider.
func NewPyPI(c *client.Client, opts ...Option) *PyPIProvider {
	return &PyPIProvider{client: c, api: resolve(pypiAPI, "", opts)}
}

// Name implements registry.Provider.
func (p *PyPIProvider) Name() string { return PyPI }

// RateLimit implements registry.Provider.
func (p *PyPIProvider) RateLimit() *registry.RateLimit {
	return &registry.RateLimit{MaxRequests: 30, Window: time.Minute}
}

// Stats combines the recent counters with the total of the overall series.
func (p *PyPIProvider) Stats(ctx context.Context, subject string, _ registry.FetchOptions) (*registry.Record, error) {
	var recent pypiRecent
	var overall pypiOverall
	var recentFound, overallFound bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recentFound, err = p.client.Do(gctx, PyPI, client.Get(p.packageURL(subject, "recent")), &recent)
		return err
	})
	g.Go(func() error {
		var err error
		overallFound, err = p.client.Do(gctx, PyPI, client.Get(p.packageURL(subject, "overall?mirrors=false")), &overall)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !recentFound && !overallFound {
		return nil, nil
	}

	record := &registry.Record{Source: PyPI, Subject: subject, FetchedAt: time.Now().UTC()}
	if recentFound {
		record.Counts.Day = registry.Int64(recent.Data.LastDay)
		record.Counts.Week = registry.Int64(recent.Data.LastWeek)
		record.Counts.Month = registry.Int64(recent.Data.LastMonth)
	}
	if overallFound {
		var total int64
		for _, d := range overall.Data {
			if d.Category == pypiCategory {
				total += d.Downloads
			}
		}
		if total > 0 {
			record.Counts.Total = registry.Int64(total)
		}
	}
	return record, nil
}

func (p *PyPIProvider) packageURL(subject, endpoint string) string {
	return fmt.Sprintf("%s/packages/%s/%s", p.api.base, subject, endpoint)
}

// MaxSpanDays implements registry.RangeProvider. The overall endpoint returns
// the whole retained history in one call.
func (p *PyPIProvider) MaxSpanDays() int { return 0 }

// Range implements registry.RangeProvider.
func (p *PyPIProvider) Range(ctx context.Context, subject string, start, end time.Time) ([]registry.DailyPoint, error) {
	var overall pypiOverall
	found, err := p.client.Do(ctx, PyPI, client.Get(p.packageURL(subject, "overall?mirrors=false")), &overall)
	if err != nil || !found {
		return nil, err
	}

	from, to := start.Format(registry.DateLayout), end.Format(registry.DateLayout)
	var points []registry.DailyPoint
	for _, d := range overall.Data {
		if d.Date == nil || d.Category != pypiCategory {
			continue
		}
		if *d.Date < from || *d.Date > to {
			continue
		}
		points = append(points, registry.DailyPoint{Date: *d.Date, Count: d.Downloads})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}
