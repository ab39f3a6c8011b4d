package worker

import (
	"context"
	"time"
)

// Dispatcher runs blocking closures on a bounded pool and hands the result
// back to the submitting goroutine. HTTP handlers use it so query
// execution and file export never run on the request-accepting path.
type Dispatcher struct {
	pool *Pool[task]
}

type task struct {
	run func(context.Context)
}

// NewDispatcher creates a dispatcher backed by a Pool with the given
// worker count and queue size.
func NewDispatcher(workers, queueSize int, opts ...Option[task]) *Dispatcher {
	processor := func(ctx context.Context, t task) error {
		t.run(ctx)
		return nil
	}
	return &Dispatcher{pool: NewPool(workers, queueSize, processor, opts...)}
}

// Start launches the underlying pool workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop shuts down the underlying pool.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Stats returns statistics of the underlying pool.
func (d *Dispatcher) Stats() PoolStats {
	return d.pool.Stats()
}

type result[T any] struct {
	value T
	err   error
}

// Do submits fn to the dispatcher's pool and blocks until it completes or
// ctx is done. A full queue surfaces as ErrQueueFull immediately. When ctx
// expires first, the closure still runs to completion on its worker but
// the result is discarded - submissions have no individual timeout.
func Do[T any](ctx context.Context, d *Dispatcher, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan result[T], 1)

	err := d.pool.Submit(task{run: func(workCtx context.Context) {
		v, err := fn(workCtx)
		ch <- result[T]{value: v, err: err}
	}})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
