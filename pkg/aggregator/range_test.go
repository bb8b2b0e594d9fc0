package aggregator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/cache"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(registry.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDayChunks(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		maxDays int
		want    [][2]string
	}{
		{"single day", "2025-01-01", "2025-01-01", 549, [][2]string{{"2025-01-01", "2025-01-01"}}},
		{"within span", "2025-01-01", "2025-01-31", 549, [][2]string{{"2025-01-01", "2025-01-31"}}},
		{"exact span", "2025-01-01", "2025-01-10", 10, [][2]string{{"2025-01-01", "2025-01-10"}}},
		{"one over", "2025-01-01", "2025-01-11", 10, [][2]string{{"2025-01-01", "2025-01-10"}, {"2025-01-11", "2025-01-11"}}},
		{"across month", "2025-01-25", "2025-02-12", 7, [][2]string{
			{"2025-01-25", "2025-01-31"}, {"2025-02-01", "2025-02-07"}, {"2025-02-08", "2025-02-12"},
		}},
		{"unlimited", "2020-01-01", "2025-01-01", 0, [][2]string{{"2020-01-01", "2025-01-01"}}},
		{"inverted", "2025-01-02", "2025-01-01", 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]string
			for _, c := range DayChunks(day(tt.from), day(tt.to), tt.maxDays) {
				got = append(got, [2]string{c[0].Format(registry.DateLayout), c[1].Format(registry.DateLayout)})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDayChunks_NoGapsAcrossLongSpan(t *testing.T) {
	from, to := day("2022-03-01"), day("2025-02-28")
	chunks := DayChunks(from, to, 549)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, from, chunks[0][0])
	assert.Equal(t, to, chunks[len(chunks)-1][1])
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1][1].AddDate(0, 0, 1), chunks[i][0], "chunk %d must start the day after chunk %d ends", i, i-1)
	}
	for _, c := range chunks {
		assert.LessOrEqual(t, int(c[1].Sub(c[0]).Hours()/24)+1, 549)
	}
}

func TestSortSeries(t *testing.T) {
	got := SortSeries([]registry.DailyPoint{
		{Date: "2025-01-03", Count: 3},
		{Date: "2025-01-01", Count: 1},
		{Date: "2025-01-02", Count: 2},
		{Date: "2025-01-01", Count: 99},
	})
	assert.Equal(t, []registry.DailyPoint{
		{Date: "2025-01-01", Count: 1},
		{Date: "2025-01-02", Count: 2},
		{Date: "2025-01-03", Count: 3},
	}, got)
}

func TestRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		maxSpan    int
		wantPoints int
		wantCalls  int
	}{
		{"below max span", "2025-01-01", "2025-01-05", 10, 5, 1},
		{"above max span", "2025-01-01", "2025-01-25", 10, 25, 3},
		{"single day", "2025-03-01", "2025-03-01", 10, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeRange{fakeProvider: newFake("npm"), maxSpan: tt.maxSpan}
			a := newAggregator(p)

			points, err := a.Range(context.Background(), "npm", "express", tt.start, tt.end, Options{})
			require.NoError(t, err)
			require.Len(t, points, tt.wantPoints)
			assert.Len(t, p.spans, tt.wantCalls)

			assert.Equal(t, tt.start, points[0].Date)
			assert.Equal(t, tt.end, points[len(points)-1].Date)
			for i := 1; i < len(points); i++ {
				assert.Less(t, points[i-1].Date, points[i].Date, "dates must be strictly increasing")
			}
		})
	}
}

func TestRange_Unsupported(t *testing.T) {
	a := newAggregator(&fakeRange{fakeProvider: newFake("npm")}, newFake("docker"))

	_, err := a.Range(context.Background(), "docker", "nginx", "2025-01-01", "2025-01-02", Options{})
	require.ErrorIs(t, err, registry.ErrUnsupported)

	var srcErr *registry.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, 0, srcErr.StatusCode)
	assert.Contains(t, srcErr.Message, "docker does not support time-series data")
	assert.Contains(t, srcErr.Message, "npm")
}

func TestRange_InvalidDates(t *testing.T) {
	a := newAggregator(&fakeRange{fakeProvider: newFake("npm"), maxSpan: 10})

	for _, bounds := range [][2]string{
		{"2025-1-1", "2025-01-02"},
		{"2025-01-01", "tomorrow"},
		{"2025-02-01", "2025-01-01"},
	} {
		_, err := a.Range(context.Background(), "npm", "express", bounds[0], bounds[1], Options{})
		assert.ErrorIs(t, err, ErrInvalidRange, "bounds %v", bounds)
	}
}

func TestRange_Cached(t *testing.T) {
	p := &fakeRange{fakeProvider: newFake("npm"), maxSpan: 10}
	a := newAggregator(p)
	opts := Options{Cache: cache.NewMemory()}

	first, err := a.Range(context.Background(), "npm", "express", "2025-01-01", "2025-01-15", opts)
	require.NoError(t, err)
	second, err := a.Range(context.Background(), "npm", "express", "2025-01-01", "2025-01-15", opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, p.spans, 2, "second call must be served from cache")

	// Point stats for the same subject use a different key.
	_, err = a.Stats(context.Background(), "npm", "express", opts)
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount("express"))
}

// quietRange has no downloads on record for any day.
type quietRange struct{ *fakeProvider }

func (p *quietRange) MaxSpanDays() int { return 0 }

func (p *quietRange) Range(_ context.Context, _ string, _, _ time.Time) ([]registry.DailyPoint, error) {
	return []registry.DailyPoint{}, nil
}

func TestRange_EmptySeriesEncodesAsArray(t *testing.T) {
	a := newAggregator(&quietRange{newFake("npm")})
	opts := Options{Cache: cache.NewMemory()}

	for _, source := range []string{"fetch", "cache"} {
		points, err := a.Range(context.Background(), "npm", "fresh-pkg", "2025-01-01", "2025-01-31", opts)
		require.NoError(t, err, source)
		require.NotNil(t, points, source)

		body, err := json.Marshal(points)
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(body), source)
	}
}
