package worker

import (
	"context"
	"fmt"
	"sync"
)

// Job is one unit of work run by a Pool.
type Job func(ctx context.Context) error

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }

// Pool runs jobs concurrently with at most size running at once.
type Pool struct {
	sem chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Run starts every job and waits for all of them. errs[i] is the result of
// jobs[i]; a panic is returned as *PanicError. Jobs not started before ctx is
// done get ctx.Err().
func (p *Pool) Run(ctx context.Context, jobs ...Job) []error {
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		case p.sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-p.sem }()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &PanicError{Value: r}
				}
			}()
			errs[i] = job(ctx)
		}(i, job)
	}
	wg.Wait()
	return errs
}
