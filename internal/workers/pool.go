// Package workers runs independent units of work (Monte Carlo trials,
// walk-forward windows, grid cells) on a bounded set of goroutines.
package workers

import (
	"context"
	"runtime"
	"sync"
)

// Pool bounds the number of goroutines used by Map.
type Pool struct {
	numWorkers int
}

// NewPool creates a pool with the specified number of workers.
// Non-positive values default to runtime.NumCPU().
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Pool{numWorkers: numWorkers}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.numWorkers
}

// Result is the outcome of job Index. Err is the job's own error; a failed
// job never stops the others.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

type jobItem struct {
	index int
}

// Map runs fn for every index in [0, n) and returns the results slotted by
// index, so reductions over the slice do not depend on completion order.
//
// Cancelling ctx stops dispatching new jobs; Map then returns ctx.Err()
// once in-flight jobs have finished.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, index int) (T, error)) ([]Result[T], error) {
	if n == 0 {
		return []Result[T]{}, nil
	}

	jobs := make(chan jobItem, n)
	results := make(chan Result[T], n)

	numActualWorkers := p.numWorkers
	if n < numActualWorkers {
		numActualWorkers = n
	}

	var wg sync.WaitGroup
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				value, err := fn(ctx, job.index)
				results <- Result[T]{Index: job.index, Value: value, Err: err}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- jobItem{index: i}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result[T], n)
	for i := range out {
		out[i].Index = i
	}
	for r := range results {
		out[r.Index] = r
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
