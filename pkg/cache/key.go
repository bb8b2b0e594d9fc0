package cache

import (
	"strings"
)

// Cache key operations.
const (
	OpStats = "stats"
	OpRange = "range"
)

// Key identifies a cached aggregator result.
type Key struct {
	// Operation is OpStats or OpRange.
	Operation string

	Source  string
	Subject string

	// Start and End bound range queries (YYYY-MM-DD); empty for stats.
	Start string
	End   string
}

// StatsKey builds the key for a point-stats record.
func StatsKey(source, subject string) Key {
	return Key{Operation: OpStats, Source: source, Subject: subject}
}

// RangeKey builds the key for a daily series.
func RangeKey(source, subject, start, end string) Key {
	return Key{Operation: OpRange, Source: source, Subject: subject, Start: start, End: end}
}

// String generates the deterministic key string.
// Format: operation:source:subject[:start:end]
//
// Example:
//
//	range:npm:@scope/pkg:2025-01-01:2025-03-31
func (k Key) String() string {
	parts := []string{k.Operation, k.Source, k.Subject}
	if k.Start != "" || k.End != "" {
		parts = append(parts, k.Start, k.End)
	}
	return strings.Join(parts, ":")
}
