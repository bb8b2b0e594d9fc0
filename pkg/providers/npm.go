package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/bulk"
	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/pagination"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"golang.org/x/sync/errgroup"
)

const (
	npmAPI    = "https://api.npmjs.org/downloads"
	npmSearch = "https://registry.npmjs.org"

	// npmMaxSpanDays is the longest range the downloads API serves per call.
	npmMaxSpanDays = 549

	// npmMaxBatch is the bulk endpoint's limit; scoped names are not accepted.
	npmMaxBatch = 128

	npmSearchPageSize = 250
)

var npmPeriods = [3]string{"last-day", "last-week", "last-month"}

type npmPoint struct {
	Downloads int64  `json:"downloads"`
	Package   string `json:"package"`
}

type npmRange struct {
	Downloads []struct {
		Day       string `json:"day"`
		Downloads int64  `json:"downloads"`
	} `json:"downloads"`
}

type npmSearchResult struct {
	Objects []struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	} `json:"objects"`
	Total int `json:"total"`
}

// NPMProvider reads the npm downloads API. It supports ranges, bulk point
// queries for unscoped packages and maintainer discovery.
type NPMProvider struct {
	client *client.Client
	api    settings
}

// NewNPM creates the npm provider.
func NewNPM(c *client.Client, opts ...Option) *NPMProvider {
	return &NPMProvider{client: c, api: resolve(npmAPI, npmSearch, opts)}
}

// Name implements registry.Provider.
func (p *NPMProvider) Name() string { return NPM }

// RateLimit implements registry.Provider. npm publishes no quota.
func (p *NPMProvider) RateLimit() *registry.RateLimit { return nil }

// Stats fetches last-day, last-week and last-month counts in parallel.
func (p *NPMProvider) Stats(ctx context.Context, subject string, _ registry.FetchOptions) (*registry.Record, error) {
	var points [3]*npmPoint

	g, gctx := errgroup.WithContext(ctx)
	for i, period := range npmPeriods {
		g.Go(func() error {
			var point npmPoint
			found, err := p.client.Do(gctx, NPM, client.Get(p.pointURL(period, subject)), &point)
			if err != nil {
				return err
			}
			if found {
				points[i] = &point
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if points[0] == nil && points[1] == nil && points[2] == nil {
		return nil, nil
	}
	return &registry.Record{
		Source:  NPM,
		Subject: subject,
		Counts: registry.Counts{
			Day:   downloads(points[0]),
			Week:  downloads(points[1]),
			Month: downloads(points[2]),
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func downloads(p *npmPoint) *int64 {
	if p == nil {
		return nil
	}
	return registry.Int64(p.Downloads)
}

func (p *NPMProvider) pointURL(period, subject string) string {
	return fmt.Sprintf("%s/point/%s/%s", p.api.base, period, subject)
}

// MaxSpanDays implements registry.RangeProvider.
func (p *NPMProvider) MaxSpanDays() int { return npmMaxSpanDays }

// Range implements registry.RangeProvider for one span of at most MaxSpanDays.
func (p *NPMProvider) Range(ctx context.Context, subject string, start, end time.Time) ([]registry.DailyPoint, error) {
	u := fmt.Sprintf("%s/range/%s:%s/%s", p.api.base,
		start.Format(registry.DateLayout), end.Format(registry.DateLayout), subject)

	var resp npmRange
	found, err := p.client.Do(ctx, NPM, client.Get(u), &resp)
	if err != nil || !found {
		return nil, err
	}

	points := make([]registry.DailyPoint, 0, len(resp.Downloads))
	for _, d := range resp.Downloads {
		points = append(points, registry.DailyPoint{Date: d.Day, Count: d.Downloads})
	}
	return points, nil
}

// Eligible implements registry.BulkProvider: the bulk endpoint rejects scoped names.
func (p *NPMProvider) Eligible(subject string) bool {
	return subject != "" && !strings.HasPrefix(subject, "@") && !strings.Contains(subject, ",")
}

// MaxBatch implements registry.BulkProvider.
func (p *NPMProvider) MaxBatch() int { return npmMaxBatch }

// StatsBulk implements registry.BulkProvider. The three periods are fetched
// in parallel without throttling; a one-subject call is answered in the
// single point shape.
func (p *NPMProvider) StatsBulk(ctx context.Context, subjects []string) (map[string]*registry.Record, error) {
	if len(subjects) == 0 {
		return map[string]*registry.Record{}, nil
	}
	joined := strings.Join(subjects, ",")

	var periods [3]map[string]int64
	g, gctx := errgroup.WithContext(ctx)
	for i, period := range npmPeriods {
		g.Go(func() error {
			counts, err := p.bulkPeriod(gctx, period, joined, subjects)
			periods[i] = counts
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return bulk.JoinPeriods(NPM, subjects, periods[0], periods[1], periods[2], time.Now().UTC()), nil
}

func (p *NPMProvider) bulkPeriod(ctx context.Context, period, joined string, subjects []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(subjects))
	req := client.Get(p.pointURL(period, joined))

	if len(subjects) == 1 {
		var point npmPoint
		found, err := p.client.DoDirect(ctx, NPM, req, &point)
		if err != nil {
			return nil, err
		}
		if found {
			counts[subjects[0]] = point.Downloads
		}
		return counts, nil
	}

	// Unknown packages come back as null entries.
	var resp map[string]*npmPoint
	found, err := p.client.DoDirect(ctx, NPM, req, &resp)
	if err != nil || !found {
		return counts, err
	}
	for name, point := range resp {
		if point != nil {
			counts[name] = point.Downloads
		}
	}
	return counts, nil
}

// Discover implements registry.Discoverer using the registry search API.
func (p *NPMProvider) Discover(ctx context.Context, owner string) ([]string, error) {
	fetch := pagination.PageFetcherFunc(func(ctx context.Context, offset, size int) ([]string, int, error) {
		q := url.Values{}
		q.Set("text", "maintainer:"+owner)
		q.Set("size", strconv.Itoa(size))
		q.Set("from", strconv.Itoa(offset))

		var resp npmSearchResult
		found, err := p.client.DoDirect(ctx, NPM, client.Get(p.api.search+"/-/v1/search?"+q.Encode()), &resp)
		if err != nil || !found {
			return nil, 0, err
		}
		names := make([]string, 0, len(resp.Objects))
		for _, obj := range resp.Objects {
			names = append(names, obj.Package.Name)
		}
		return names, resp.Total, nil
	})

	config := pagination.DefaultConfig()
	config.PageSize = npmSearchPageSize
	logger := p.api.logger.With().Str("source", NPM).Str("owner", owner).Logger()
	return pagination.NewCollector(fetch, config).WithLogger(logger).Collect(ctx)
}
