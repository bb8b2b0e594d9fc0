// Package calc provides pure helpers over daily download series: totals,
// averages, grouping, trend detection, smoothing, a popularity score and
// CSV/chart export.
package calc

import (
	"bytes"
	"encoding/csv"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/Sternrassler/registry-stats/pkg/registry"
)

// Trend directions.
const (
	Up   = "up"
	Down = "down"
	Flat = "flat"
)

// DefaultTrendWindow is the number of days compared by Trend.
const DefaultTrendWindow = 7

// trendThreshold is the relative change below which a trend is flat.
const trendThreshold = 0.05

// Total sums the counts.
func Total(points []registry.DailyPoint) int64 {
	var sum int64
	for _, p := range points {
		sum += p.Count
	}
	return sum
}

// Avg returns the mean daily count, 0 for an empty series.
func Avg(points []registry.DailyPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return float64(Total(points)) / float64(len(points))
}

// Group buckets points by key, keeping their order within each bucket.
func Group(points []registry.DailyPoint, key func(registry.DailyPoint) string) map[string][]registry.DailyPoint {
	groups := make(map[string][]registry.DailyPoint)
	for _, p := range points {
		k := key(p)
		groups[k] = append(groups[k], p)
	}
	return groups
}

// Monthly groups by YYYY-MM.
func Monthly(points []registry.DailyPoint) map[string][]registry.DailyPoint {
	return Group(points, func(p registry.DailyPoint) string { return prefix(p.Date, 7) })
}

// Yearly groups by YYYY.
func Yearly(points []registry.DailyPoint) map[string][]registry.DailyPoint {
	return Group(points, func(p registry.DailyPoint) string { return prefix(p.Date, 4) })
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// Keys returns the group keys in ascending order.
func Keys[V any](groups map[string]V) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GroupTotals sums each group.
func GroupTotals(groups map[string][]registry.DailyPoint) map[string]int64 {
	out := make(map[string]int64, len(groups))
	for k, points := range groups {
		out[k] = Total(points)
	}
	return out
}

// GroupAvgs averages each group.
func GroupAvgs(groups map[string][]registry.DailyPoint) map[string]float64 {
	out := make(map[string]float64, len(groups))
	for k, points := range groups {
		out[k] = Avg(points)
	}
	return out
}

// TrendResult compares the latest window with the one before it.
type TrendResult struct {
	// Slope is the difference of the two window averages.
	Slope float64 `json:"slope"`

	// Direction is Up or Down when Slope exceeds 5% of the previous average.
	Direction string `json:"direction"`

	ChangePercent float64 `json:"changePercent"`
}

// Trend compares the average of the last window days with the window
// before. Fewer than 2*window points yield a flat trend. Values are
// rounded to two decimals.
func Trend(points []registry.DailyPoint, window int) TrendResult {
	if window <= 0 {
		window = DefaultTrendWindow
	}
	if len(points) < window*2 {
		return TrendResult{Direction: Flat}
	}

	sorted := sortedByDate(points)
	recent := sorted[len(sorted)-window:]
	previous := sorted[len(sorted)-2*window : len(sorted)-window]

	recentAvg, previousAvg := Avg(recent), Avg(previous)
	slope := recentAvg - previousAvg

	var change float64
	if previousAvg != 0 {
		change = slope / previousAvg * 100
	}

	threshold := previousAvg * trendThreshold
	direction := Flat
	switch {
	case slope > threshold:
		direction = Up
	case slope < -threshold:
		direction = Down
	}

	return TrendResult{Slope: round2(slope), Direction: direction, ChangePercent: round2(change)}
}

// AvgPoint is one smoothed value, dated at the last day of its window.
type AvgPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"downloads"`
}

// MovingAvg returns the trailing average over window days for every full
// window. A series shorter than window yields an empty result.
func MovingAvg(points []registry.DailyPoint, window int) []AvgPoint {
	if window <= 0 || len(points) < window {
		return []AvgPoint{}
	}
	sorted := sortedByDate(points)

	out := make([]AvgPoint, 0, len(sorted)-window+1)
	var sum int64
	for i, p := range sorted {
		sum += p.Count
		if i >= window {
			sum -= sorted[i-window].Count
		}
		if i >= window-1 {
			out = append(out, AvgPoint{Date: p.Date, Value: float64(sum) / float64(window)})
		}
	}
	return out
}

// Popularity maps the average daily count onto 0..100 on a log scale where
// ten million downloads a day scores 100.
func Popularity(points []registry.DailyPoint) int {
	avg := Avg(points)
	if avg <= 0 {
		return 0
	}
	score := math.Round(math.Log10(avg) / 7 * 100)
	return int(max(0, min(100, score)))
}

// ToCSV renders the series as "date,downloads" rows with a header.
func ToCSV(points []registry.DailyPoint) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"date", "downloads"}); err != nil {
		return "", err
	}
	for _, p := range points {
		if err := w.Write([]string{p.Date, strconv.FormatInt(p.Count, 10)}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ChartData is a line-chart payload with one dataset.
type ChartData struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// ChartDataset is one labelled series.
type ChartDataset struct {
	Label string  `json:"label"`
	Data  []int64 `json:"data"`
}

// ToChartData converts the series into ChartData.
func ToChartData(points []registry.DailyPoint, label string) ChartData {
	labels := make([]string, len(points))
	data := make([]int64, len(points))
	for i, p := range points {
		labels[i] = p.Date
		data[i] = p.Count
	}
	return ChartData{Labels: labels, Datasets: []ChartDataset{{Label: label, Data: data}}}
}

func sortedByDate(points []registry.DailyPoint) []registry.DailyPoint {
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b registry.DailyPoint) int {
		switch {
		case a.Date < b.Date:
			return -1
		case a.Date > b.Date:
			return 1
		}
		return 0
	})
	return sorted
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
