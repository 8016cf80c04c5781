// Package parallel provides parallel execution helpers.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// NumWorkers returns the default number of workers for parallel operations.
func NumWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// Groups runs fn for every group index in [0, groups) on at most n
// goroutines. Work items inside a group run in order on one goroutine.
// The first error cancels the context passed to the remaining groups and
// is returned once every started group has finished.
func Groups(ctx context.Context, groups, n int, fn func(ctx context.Context, group int) error) error {
	if groups <= 0 {
		return nil
	}
	if n <= 1 {
		for g := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, g); err != nil {
				return err
			}
		}
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(n)
	for g := range groups {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, g)
		})
	}
	return eg.Wait()
}

// ParallelFor executes fn for indices [start, end) using n workers.
func ParallelFor(start, end, n int, fn func(i int)) {
	total := end - start
	if total <= 0 {
		return
	}
	n = min(max(n, 1), total)
	chunkSize := (total + n - 1) / n
	chunks := (total + chunkSize - 1) / chunkSize
	_ = Groups(context.Background(), chunks, n, func(_ context.Context, c int) error {
		s := start + c*chunkSize
		e := min(s+chunkSize, end)
		for i := s; i < e; i++ {
			fn(i)
		}
		return nil
	})
}
