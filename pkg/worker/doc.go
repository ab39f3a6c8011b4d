// Package worker provides a generic bounded worker pool and a
// result-returning dispatcher built on it.
//
// Pool[T] processes typed work items on a fixed set of goroutines with a
// bounded queue; when the queue is full, Submit returns ErrQueueFull
// instead of blocking or growing.
//
// Dispatcher wraps a Pool for the common request-handler case: submit a
// blocking closure, suspend the calling goroutine until the closure
// completes, and receive its value and error:
//
//	res, err := worker.Do(ctx, dispatcher, func(ctx context.Context) (*query.Result, error) {
//		return gateway.Execute(ctx, sql, mode)
//	})
//
// Submissions carry no individual timeout; callers race the returned
// result against their own context deadline.
package worker
