package async

import (
	"context"
	"errors"
)

var ErrNoFutures = errors.New("async: no futures to wait for")

// Future is the eventual result of a computation started with Go.
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
}

// Await blocks until the computation finishes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.result, f.err
}

// Done reports completion without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Go runs fn in its own goroutine and returns a Future for its result. A
// context cancelled before fn starts completes the future with ctx.Err()
// without calling fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.err = ctx.Err()
			return
		default:
		}

		f.result, f.err = fn(ctx)
	}()

	return f
}

// WaitAll waits for every future and returns their results together with the
// first error encountered, if any.
func WaitAll[T any](futures ...*Future[T]) ([]T, error) {
	if len(futures) == 0 {
		return nil, ErrNoFutures
	}

	results := make([]T, len(futures))
	var firstErr error
	for i, f := range futures {
		result, err := f.Await()
		results[i] = result
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}
	return results, firstErr
}
