package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when an attempt exceeds its budget.
	ErrTimeout = errors.New("collection timed out")
	// ErrWorkerDisconnected is returned when the worker goroutine exits
	// without publishing a result (it panicked).
	ErrWorkerDisconnected = errors.New("collection worker disconnected")
)

// Operation is one full collection. It should honour ctx cancellation.
type Operation[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	value T
	err   error
}

// RunWithTimeout runs op on its own goroutine and waits up to timeout for the
// result on a one-slot channel. A timeout <= 0 waits indefinitely.
//
// On timeout the context handed to op is cancelled and RunWithTimeout returns
// immediately; it does not wait for op to unwind. Work op does after that
// point, including restoring server settings it changed, finishes in the
// background. Collectors must therefore release shared state on every exit
// path (see collector.Lease).
func RunWithTimeout[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	results := make(chan outcome[T], 1)
	var recovered any

	go func() {
		defer close(results)
		defer func() {
			if r := recover(); r != nil {
				recovered = r
			}
		}()
		v, err := op(opCtx)
		results <- outcome[T]{value: v, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res, ok := <-results:
		cancel()
		if !ok {
			if recovered != nil {
				return zero, fmt.Errorf("%w: recovered panic: %v", ErrWorkerDisconnected, recovered)
			}
			return zero, ErrWorkerDisconnected
		}
		return res.value, res.err
	case <-expired:
		cancel()
		return zero, fmt.Errorf("%w after %dms", ErrTimeout, timeout.Milliseconds())
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
