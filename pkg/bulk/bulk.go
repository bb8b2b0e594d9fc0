// Package bulk routes multi-subject fetches through a source's native bulk
// endpoint where the subject syntax allows it, falling back to serialized
// individual fetches for everything else.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/batch"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SubjectError attributes a failure to one input subject.
type SubjectError struct {
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *SubjectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SubjectError) Unwrap() error {
	return e.Err
}

// Failures flattens an error joined by Fetch or aggregator.Bulk into its
// per-subject failures. Errors that are not *SubjectError are skipped.
func Failures(err error) []*SubjectError {
	if err == nil {
		return nil
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	var out []*SubjectError
	for _, e := range errs {
		var se *SubjectError
		if errors.As(e, &se) {
			out = append(out, se)
		}
	}
	return out
}

// IndividualFunc fetches one subject outside the bulk endpoint.
type IndividualFunc func(ctx context.Context, subject string) (*registry.Record, error)

// ResolveFunc is called once per input position as soon as it resolves.
// Calls never overlap.
type ResolveFunc func(index int, subject string, record *registry.Record, err error)

// Dispatcher partitions subjects between the bulk and individual paths.
type Dispatcher struct {
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Fetch resolves every subject and returns records in input order. A nil
// record with no error means not found. Failed positions are reported as
// *SubjectError values joined into the returned error; successful positions
// are returned regardless.
//
// Eligible subjects are de-duplicated, chunked to the provider's MaxBatch and
// fetched through StatsBulk. The rest run through individual one at a time so
// the source's throttle chain is never raced by parallel calls.
func (d *Dispatcher) Fetch(ctx context.Context, p registry.BulkProvider, subjects []string, individual IndividualFunc, onResolve ResolveFunc) ([]*registry.Record, error) {
	records := make([]*registry.Record, len(subjects))
	errs := make([]error, len(subjects))

	var mu sync.Mutex
	resolve := func(i int, record *registry.Record, err error) {
		mu.Lock()
		defer mu.Unlock()
		records[i] = record
		errs[i] = err
		if onResolve != nil {
			onResolve(i, subjects[i], record, err)
		}
	}

	positions := make(map[string][]int)
	var eligible []string
	var individualIdx []int
	for i, subject := range subjects {
		if !p.Eligible(subject) {
			individualIdx = append(individualIdx, i)
			continue
		}
		if _, seen := positions[subject]; !seen {
			eligible = append(eligible, subject)
		}
		positions[subject] = append(positions[subject], i)
	}

	d.logger.Debug().
		Str("source", p.Name()).
		Int("bulk", len(eligible)).
		Int("individual", len(individualIdx)).
		Msg("Dispatching bulk fetch")

	var g errgroup.Group
	g.Go(func() error {
		for _, chunk := range Chunk(eligible, p.MaxBatch()) {
			found, err := p.StatsBulk(ctx, chunk)
			if err != nil {
				d.logger.Warn().Err(err).
					Str("source", p.Name()).
					Int("chunk_size", len(chunk)).
					Msg("Bulk chunk failed")
			}
			for _, subject := range chunk {
				var record *registry.Record
				var subjectErr error
				if err != nil {
					subjectErr = &SubjectError{Subject: subject, Err: err}
				} else {
					record = found[subject]
				}
				for _, i := range positions[subject] {
					resolve(i, record, subjectErr)
				}
			}
		}
		return nil
	})
	g.Go(func() error {
		batch.Each(ctx, 1, len(individualIdx), func(ctx context.Context, k int) error {
			i := individualIdx[k]
			record, err := individual(ctx, subjects[i])
			if err != nil {
				err = &SubjectError{Subject: subjects[i], Err: err}
			}
			resolve(i, record, err)
			return nil
		})
		return nil
	})
	_ = g.Wait()

	return records, errors.Join(errs...)
}

// Chunk splits items into consecutive slices of at most size elements.
// A non-positive size yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// JoinPeriods merges per-period bulk results keyed by subject into records.
// A subject missing from all three maps is omitted (not found); partial
// presence yields a record with only the available counters set.
func JoinPeriods(source string, subjects []string, day, week, month map[string]int64, fetchedAt time.Time) map[string]*registry.Record {
	out := make(map[string]*registry.Record, len(subjects))
	for _, subject := range subjects {
		var counts registry.Counts
		if v, ok := day[subject]; ok {
			counts.Day = registry.Int64(v)
		}
		if v, ok := week[subject]; ok {
			counts.Week = registry.Int64(v)
		}
		if v, ok := month[subject]; ok {
			counts.Month = registry.Int64(v)
		}
		if counts.Day == nil && counts.Week == nil && counts.Month == nil {
			continue
		}
		out[subject] = &registry.Record{
			Source:    source,
			Subject:   subject,
			Counts:    counts,
			FetchedAt: fetchedAt,
		}
	}
	return out
}
