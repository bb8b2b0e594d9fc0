package calc

import (
	"testing"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDays(start string, counts ...int64) []registry.DailyPoint {
	base, err := time.Parse(registry.DateLayout, start)
	if err != nil {
		panic(err)
	}
	out := make([]registry.DailyPoint, len(counts))
	for i, c := range counts {
		out[i] = registry.DailyPoint{Date: base.AddDate(0, 0, i).Format(registry.DateLayout), Count: c}
	}
	return out
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTotalAndAvg(t *testing.T) {
	data := makeDays("2025-01-01", 10, 20, 30)
	assert.Equal(t, int64(60), Total(data))
	assert.Equal(t, 20.0, Avg(data))

	assert.Zero(t, Total(nil))
	assert.Zero(t, Avg(nil))
}

func TestGrouping(t *testing.T) {
	data := []registry.DailyPoint{
		{Date: "2024-12-31", Count: 5},
		{Date: "2025-01-15", Count: 10},
		{Date: "2025-01-20", Count: 20},
		{Date: "2025-02-05", Count: 30},
	}

	monthly := Monthly(data)
	assert.Equal(t, []string{"2024-12", "2025-01", "2025-02"}, Keys(monthly))
	assert.Len(t, monthly["2025-01"], 2)

	yearly := Yearly(data)
	assert.Equal(t, []string{"2024", "2025"}, Keys(yearly))
	assert.Len(t, yearly["2025"], 3)

	assert.Equal(t, map[string]int64{"2024-12": 5, "2025-01": 30, "2025-02": 30}, GroupTotals(monthly))
	assert.Equal(t, 15.0, GroupAvgs(monthly)["2025-01"])
}

func TestGroup_Custom(t *testing.T) {
	data := makeDays("2025-01-01", 1, 2, 3, 4, 5, 6, 7)
	byWeekday := Group(data, func(p registry.DailyPoint) string {
		d, _ := time.Parse(registry.DateLayout, p.Date)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			return "weekend"
		}
		return "weekday"
	})
	assert.Equal(t, []string{"weekday", "weekend"}, Keys(byWeekday))
	assert.Len(t, byWeekday["weekend"], 2)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name      string
		counts    []int64
		direction string
		change    float64
	}{
		{"up", append(repeat(10, 7), repeat(20, 7)...), Up, 100},
		{"down", append(repeat(20, 7), repeat(10, 7)...), Down, -50},
		{"insufficient data", []int64{10, 20, 30}, Flat, 0},
		{"stable", append(repeat(100, 7), append([]int64{101}, repeat(100, 6)...)...), Flat, 0.14},
		{"from zero", append(repeat(0, 7), repeat(5, 7)...), Up, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trend(makeDays("2025-01-01", tt.counts...), 7)
			assert.Equal(t, tt.direction, got.Direction)
			assert.Equal(t, tt.change, got.ChangePercent)
		})
	}
}

func TestTrend_SortsInput(t *testing.T) {
	data := makeDays("2025-01-01", append(repeat(10, 7), repeat(20, 7)...)...)
	reversed := make([]registry.DailyPoint, len(data))
	for i, p := range data {
		reversed[len(data)-1-i] = p
	}

	assert.Equal(t, Up, Trend(reversed, 0).Direction)
	assert.Equal(t, "2025-01-01", reversed[13].Date, "input must not be reordered")
}

func TestMovingAvg(t *testing.T) {
	ma := MovingAvg(makeDays("2025-01-01", 10, 20, 30, 40, 50), 3)
	require.Len(t, ma, 3)
	assert.Equal(t, []AvgPoint{
		{Date: "2025-01-03", Value: 20},
		{Date: "2025-01-04", Value: 30},
		{Date: "2025-01-05", Value: 40},
	}, ma)

	assert.Empty(t, MovingAvg(makeDays("2025-01-01", 10, 20), 7))
}

func TestPopularity(t *testing.T) {
	assert.Equal(t, 0, Popularity(nil))
	assert.Equal(t, 0, Popularity(makeDays("2025-01-01", repeat(1, 5)...)))

	mid := Popularity(makeDays("2025-01-01", repeat(1000, 30)...))
	assert.Equal(t, 43, mid)

	assert.Greater(t, Popularity(makeDays("2025-01-01", repeat(100000, 30)...)), 70)
	assert.Equal(t, 100, Popularity(makeDays("2025-01-01", repeat(10000000, 30)...)))
	assert.Equal(t, 100, Popularity(makeDays("2025-01-01", repeat(1000000000, 3)...)))
}

func TestToCSV(t *testing.T) {
	out, err := ToCSV(makeDays("2025-01-01", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "date,downloads\n2025-01-01,1\n2025-01-02,2\n", out)
}

func TestToChartData(t *testing.T) {
	chart := ToChartData(makeDays("2025-01-01", 5, 6), "express (npm)")
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, chart.Labels)
	require.Len(t, chart.Datasets, 1)
	assert.Equal(t, "express (npm)", chart.Datasets[0].Label)
	assert.Equal(t, []int64{5, 6}, chart.Datasets[0].Data)
}
