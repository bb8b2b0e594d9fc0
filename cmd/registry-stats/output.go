package main

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Sternrassler/registry-stats/pkg/calc"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

const indent = "           "

// formatNumber renders n with thousands separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func printRecord(w io.Writer, r *registry.Record) {
	fmt.Fprintf(w, "  %-7s │ %s\n", r.Source, r.Subject)

	var metrics []string
	add := func(label string, v *int64) {
		if v != nil {
			metrics = append(metrics, fmt.Sprintf("%s: %s", label, formatNumber(*v)))
		}
	}
	add("total", r.Counts.Total)
	add("month", r.Counts.Month)
	add("week", r.Counts.Week)
	add("day", r.Counts.Day)
	if len(metrics) > 0 {
		fmt.Fprintf(w, "%s%s\n", indent, strings.Join(metrics, "  "))
	}

	var extras []string
	if v, ok := number(r.Extra["stars"]); ok {
		extras = append(extras, "stars: "+formatNumber(int64(v)))
	}
	if v, ok := number(r.Extra["rating"]); ok {
		extras = append(extras, fmt.Sprintf("rating: %.1f", v))
	}
	if v, ok := r.Extra["version"].(string); ok && v != "" {
		extras = append(extras, "v"+v)
	}
	if len(extras) > 0 {
		fmt.Fprintf(w, "%s%s\n", indent, strings.Join(extras, "  "))
	}
}

// number accepts the numeric types found in Extra, whether set by a
// provider or decoded from cached JSON.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func printRange(w io.Writer, pkg, source, start, end string, series []registry.DailyPoint) {
	fmt.Fprintf(w, "\n%s (%s) %s to %s\n\n", pkg, source, start, end)

	monthly := calc.GroupTotals(calc.Monthly(series))
	for _, month := range calc.Keys(monthly) {
		fmt.Fprintf(w, "  %s  %s\n", month, formatNumber(monthly[month]))
	}

	trend := calc.Trend(series, calc.DefaultTrendWindow)
	sign := ""
	if trend.ChangePercent > 0 {
		sign = "+"
	}
	fmt.Fprintf(w, "\n  Total: %s  Avg/day: %s  Trend: %s (%s%s%%)\n",
		formatNumber(calc.Total(series)),
		formatNumber(int64(math.Round(calc.Avg(series)))),
		trend.Direction,
		sign,
		strconv.FormatFloat(trend.ChangePercent, 'f', -1, 64),
	)
}

func printCompare(w io.Writer, pkg string, sources []string, results map[string]*registry.Record) {
	fmt.Fprintf(w, "\n%s\n\n", pkg)
	for _, source := range sources {
		record, ok := results[source]
		if !ok {
			fmt.Fprintf(w, "  %-7s │ -\n", source)
			continue
		}
		value := func(v *int64) string {
			if v == nil {
				return "-"
			}
			return formatNumber(*v)
		}
		fmt.Fprintf(w, "  %-7s │ month: %s  week: %s  total: %s\n",
			source, value(record.Counts.Month), value(record.Counts.Week), value(record.Counts.Total))
	}
}

func printMine(w io.Writer, owner, source string, records []*registry.Record) {
	fmt.Fprintf(w, "\n%s on %s: %d packages\n\n", owner, source, len(records))
	for i, r := range records {
		fmt.Fprintf(w, "  %3d. %-40s month: %s  week: %s\n",
			i+1, r.Subject, formatNumber(r.MonthOrZero()), formatNumber(r.WeekOrZero()))
	}
}
