// Package worker provides a generic, order-preserving concurrent fan-out
// over a list of inputs, used where vizier needs to process many items
// (job directories during gc) with bounded parallelism. It wraps sourcegraph/conc's pool rather than hand-rolling a
// channel-and-waitgroup pool, matching how the rest of the scheduler's
// concurrency (internal/vcs.ExistsAll) is built.
package worker

import (
	"runtime"

	"github.com/sourcegraph/conc/pool"
)

// Result pairs a processed value with its original index, so callers that
// need input order back (a "jobs list" render, say) don't have to re-sort.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans work out to a bounded number of goroutines.
type Pool[T any] struct {
	concurrency int
}

// NewPool creates a worker pool with the given concurrency. A non-positive
// concurrency defaults to runtime.NumCPU().
func NewPool[T any](concurrency int) *Pool[T] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[T]{concurrency: concurrency}
}

// Process applies fn to every item concurrently and returns results in the
// same order as items. A panic inside fn is not recovered here; conc's pool
// propagates it to the caller's goroutine, matching Go's usual panic
// semantics instead of silently swallowing it.
func (p *Pool[T]) Process(items []string, fn func(string) (T, error)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]Result[T], len(items))
	pl := pool.New().WithMaxGoroutines(workers)

	for i, item := range items {
		i, item := i, item
		pl.Go(func() {
			val, err := fn(item)
			results[i] = Result[T]{Index: i, Value: val, Err: err}
		})
	}
	pl.Wait()

	return results
}
