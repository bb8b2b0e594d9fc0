package aggregator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/rs/zerolog"
)

var errBoom = errors.New("boom")

// fakeProvider answers Stats from a function and counts calls per subject.
type fakeProvider struct {
	name  string
	stats func(subject string) (*registry.Record, error)
	delay time.Duration

	mu    sync.Mutex
	calls map[string]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFake(name string) *fakeProvider {
	p := &fakeProvider{name: name, calls: make(map[string]int)}
	p.stats = func(subject string) (*registry.Record, error) {
		return record(name, subject, 10), nil
	}
	return p
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) RateLimit() *registry.RateLimit { return nil }

func (p *fakeProvider) Stats(_ context.Context, subject string, _ registry.FetchOptions) (*registry.Record, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.maxInFlight.Load()
		if n <= old || p.maxInFlight.CompareAndSwap(old, n) {
			break
		}
	}

	p.mu.Lock()
	p.calls[subject]++
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.stats(subject)
}

func (p *fakeProvider) callCount(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[subject]
}

// fakeBulk adds a bulk endpoint accepting subjects without "@".
type fakeBulk struct {
	*fakeProvider

	mu     sync.Mutex
	chunks [][]string
}

func (p *fakeBulk) Eligible(subject string) bool { return !strings.HasPrefix(subject, "@") }

func (p *fakeBulk) MaxBatch() int { return 2 }

func (p *fakeBulk) StatsBulk(_ context.Context, subjects []string) (map[string]*registry.Record, error) {
	p.mu.Lock()
	p.chunks = append(p.chunks, append([]string(nil), subjects...))
	p.mu.Unlock()

	out := make(map[string]*registry.Record)
	for _, s := range subjects {
		if s == "missing" {
			continue
		}
		out[s] = record(p.name, s, int64(len(s)))
	}
	return out, nil
}

// fakeRange serves one point per day, with a duplicate of the first day.
type fakeRange struct {
	*fakeProvider
	maxSpan int

	mu    sync.Mutex
	spans [][2]string
}

func (p *fakeRange) MaxSpanDays() int { return p.maxSpan }

func (p *fakeRange) Range(_ context.Context, _ string, start, end time.Time) ([]registry.DailyPoint, error) {
	p.mu.Lock()
	p.spans = append(p.spans, [2]string{start.Format(registry.DateLayout), end.Format(registry.DateLayout)})
	p.mu.Unlock()

	var points []registry.DailyPoint
	// Newest first: the aggregator must sort.
	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		points = append(points, registry.DailyPoint{Date: d.Format(registry.DateLayout), Count: int64(d.Day())})
	}
	points = append(points, points[len(points)-1])
	return points, nil
}

// fakeDiscover lists a fixed set of subjects.
type fakeDiscover struct {
	*fakeProvider
	owned []string
	err   error
}

func (p *fakeDiscover) Discover(_ context.Context, _ string) ([]string, error) {
	return p.owned, p.err
}

func record(source, subject string, month int64) *registry.Record {
	return &registry.Record{
		Source:    source,
		Subject:   subject,
		Counts:    registry.Counts{Month: registry.Int64(month)},
		FetchedAt: time.Now(),
	}
}

func newAggregator(providers ...registry.Provider) *Aggregator {
	logger := zerolog.Nop()
	a, err := New(Config{Providers: providers, Logger: &logger})
	if err != nil {
		panic(err)
	}
	return a
}
