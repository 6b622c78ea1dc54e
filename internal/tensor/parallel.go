package tensor

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers returns the number of goroutines to use for n independent tasks.
func Workers(n int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if n > 0 && workers > n {
		workers = n
	}
	return workers
}

// ParallelFor runs fn(i) for i in [0, n) on a bounded set of goroutines and
// returns the first error. Tasks must write disjoint memory. With a single
// worker everything runs on the calling goroutine.
func ParallelFor(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := Workers(n)
	if workers == 1 {
		for i := range n {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range n {
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
