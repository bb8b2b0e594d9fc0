// Package batch runs independent tasks with bounded concurrency.
//
// Tasks start in submission order as worker slots free up. A failing task
// only fills its own result slot; siblings keep running.
package batch

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
)

// DefaultConcurrency is used when a caller passes a non-positive limit.
const DefaultConcurrency = 5

// Result is the outcome of one task.
type Result[T any] struct {
	Value T
	Err   error
}

// Map runs fn for every index in [0, n) with at most concurrency calls in
// flight and returns the outcomes indexed like the inputs. Map returns once
// every task has completed.
func Map[T any](ctx context.Context, concurrency, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	if n == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > n {
		concurrency = n
	}

	pool := pond.NewPool(concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for i := 0; i < n; i++ {
		group.Submit(func() {
			results[i] = run(ctx, i, fn)
		})
	}
	// Task errors live in results; run never lets a panic reach the group.
	_ = group.Wait()

	return results
}

// Each is Map for tasks without a value.
func Each(ctx context.Context, concurrency, n int, fn func(ctx context.Context, i int) error) []error {
	results := Map(ctx, concurrency, n, func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, fn(ctx, i)
	})
	errs := make([]error, n)
	for i, r := range results {
		errs[i] = r.Err
	}
	return errs
}

func run[T any](ctx context.Context, i int, fn func(ctx context.Context, i int) (T, error)) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: fmt.Errorf("task %d panicked: %v", i, r)}
		}
	}()
	v, err := fn(ctx, i)
	return Result[T]{Value: v, Err: err}
}
