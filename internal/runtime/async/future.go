// Package async provides a single-assignment future used where the bridge
// hands back work that completes on the owning loop.
package async

import (
	"context"
	"sync"
)

// Future holds a value and error resolved at most once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	value T
	err   error
	thens []func(T, error)
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with value and err.
func Resolved[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, err)
	return f
}

// Complete resolves the future. Only the first call has an effect; it
// reports whether this call resolved it.
func (f *Future[T]) Complete(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value, f.err = value, err
		thens := f.thens
		f.thens = nil
		close(f.done)
		f.mu.Unlock()
		for _, fn := range thens {
			fn(value, err)
		}
		resolved = true
	})
	return resolved
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run with the result. It runs immediately on the
// calling goroutine if the future already resolved, otherwise on the
// goroutine that resolves it.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		value, err := f.value, f.err
		f.mu.Unlock()
		fn(value, err)
		return
	default:
	}
	f.thens = append(f.thens, fn)
	f.mu.Unlock()
}
