package signaling

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAlreadyCompleted is returned when a Once is completed a second time.
// Callers treat it as a logic error: the first outcome always stands.
var ErrAlreadyCompleted = errors.New("signaling: continuation already completed")

// Once is a single-fire result slot. The first Resolve or Reject wins.
type Once[T any] struct {
	done  chan struct{}
	fired atomic.Bool
	value T
	err   error
}

func NewOnce[T any]() *Once[T] {
	return &Once[T]{done: make(chan struct{})}
}

// Resolve completes the continuation with a value.
func (o *Once[T]) Resolve(v T) error {
	return o.complete(v, nil)
}

// Reject completes the continuation with an error.
func (o *Once[T]) Reject(err error) error {
	var zero T
	return o.complete(zero, err)
}

func (o *Once[T]) complete(v T, err error) error {
	if !o.fired.CompareAndSwap(false, true) {
		return ErrAlreadyCompleted
	}
	o.value = v
	o.err = err
	close(o.done)
	return nil
}

// Completed reports whether the continuation has fired.
func (o *Once[T]) Completed() bool {
	return o.fired.Load()
}

// Done is closed once the continuation fires.
func (o *Once[T]) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the continuation fires or ctx is cancelled.
func (o *Once[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
