// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds how many items of a batch are processed at once.
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}

// RunAll executes all functions without cancellation on error and returns
// only the non-nil errors. Functions not started before ctx is cancelled
// report ctx.Err().
func (wp *WorkerPool) RunAll(ctx context.Context, functions ...func(ctx context.Context) error) []error {
	if len(functions) == 0 {
		return nil
	}

	errs := make([]error, len(functions))

	g := new(errgroup.Group)
	g.SetLimit(wp.workerCount)

	for i, fn := range functions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// ForEach calls fn for every item with at most the pool's worker count in
// flight.
// Items are independent: a failing item never stops the others.
func ForEach[T any](ctx context.Context, wp *WorkerPool, items []T, fn func(ctx context.Context, item T) error) []error {
	functions := make([]func(context.Context) error, 0, len(items))
	for _, item := range items {
		functions = append(functions, func(ctx context.Context) error {
			return fn(ctx, item)
		})
	}
	return wp.RunAll(ctx, functions...)
}
