package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWork struct {
	id   int
	fail bool
}

func TestNewPoolDefaults(t *testing.T) {
	processor := func(context.Context, testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 256, pool.queueSize)
}

func TestNewPoolNilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPoolProcessesWork(t *testing.T) {
	var processed int64
	processor := func(_ context.Context, w testWork) error {
		atomic.AddInt64(&processed, 1)
		if w.fail {
			return errors.New("work failed")
		}
		return nil
	}

	pool := NewPool(2, 10, processor)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i == 3}))
	}

	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolLifecycle(t *testing.T) {
	processor := func(context.Context, testWork) error { return nil }
	pool := NewPool(1, 1, processor)

	// Submit before start
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	// Stopping again is a no-op
	require.NoError(t, pool.Stop(time.Second))
}

func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		<-block
		return nil
	}

	pool := NewPool(1, 1, processor)
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the worker, second fills the queue; eventually
	// a submission must be rejected.
	var sawFull bool
	for i := 0; i < 4; i++ {
		if err := pool.Submit(testWork{id: i}); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull, "expected ErrQueueFull once worker and queue are occupied")

	stats := pool.Stats()
	assert.Positive(t, stats.Rejected)
}

func TestDispatcherDo(t *testing.T) {
	d := NewDispatcher(2, 10)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(time.Second)

	v, err := Do(context.Background(), d, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Do(context.Background(), d, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestDispatcherDoConcurrent(t *testing.T) {
	d := NewDispatcher(4, 64)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(time.Second)

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), d, func(context.Context) (int, error) {
				return i * 2, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		assert.Equal(t, i*2, results[i])
	}
}

func TestDispatcherDoCallerDeadline(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(1, 1)
	require.NoError(t, d.Start(context.Background()))
	defer func() {
		close(block)
		_ = d.Stop(time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, d, func(context.Context) (int, error) {
		<-block
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
