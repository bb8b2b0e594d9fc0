package refresh

import (
	"time"
)

// Item is one subject's row in a snapshot.
type Item struct {
	Source string `json:"registry"`
	Name   string `json:"name"`
	Day    int64  `json:"day"`
	Week   int64  `json:"week"`
	Month  int64  `json:"month"`
	Total  int64  `json:"total"`

	// Range holds the daily counts of the trailing window, oldest first, for
	// sources with time series. Nil otherwise.
	Range []int64 `json:"range30"`

	// TrendPct compares the last seven days to the seven before, in percent.
	TrendPct *float64 `json:"trendPct"`

	Extra map[string]any `json:"extra"`

	// Failed is true when the subject failed or was not found.
	Failed bool `json:"error,omitempty"`
}

// RegistryTotals sums one registry's items.
type RegistryTotals struct {
	Packages int   `json:"packages"`
	Week     int64 `json:"week"`
	Month    int64 `json:"month"`
}

// Totals sums every registry.
type Totals struct {
	Packages         int   `json:"packages"`
	Week             int64 `json:"week"`
	Month            int64 `json:"month"`
	ActiveRegistries int   `json:"activeRegistries"`
}

// Failure records an error with the operation it came from, such as
// "npm.bulk", "npm.mine", "npm.range:express" or "pypi:requests".
type Failure struct {
	Scope   string `json:"scope"`
	Message string `json:"message"`
}

// Snapshot is the result of one refresh run.
type Snapshot struct {
	FetchedAt      time.Time                 `json:"fetchedAt"`
	Totals         Totals                    `json:"totals"`
	RegistryTotals map[string]RegistryTotals `json:"registryTotals"`

	// Items is the leaderboard: weekly count descending, then monthly.
	Items []Item `json:"leaderboard"`

	// Sparkline sums the Range of every item per day.
	Sparkline []int64 `json:"sparkline30"`

	Errors []Failure `json:"errors"`
}

func pctChange(curr, prev int64) *float64 {
	var v float64
	switch {
	case prev == 0 && curr == 0:
		v = 0
	case prev == 0:
		v = 100
	default:
		v = float64(curr-prev) / float64(prev) * 100
	}
	return &v
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}
