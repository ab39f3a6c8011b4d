package projection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/embedatlas/errors"
	"github.com/c360/embedatlas/reduction"
)

func sampleProjection() *Projection {
	return &Projection{
		Points:       [][2]float32{{0.1, 0.2}, {0.3, 0.4}, {-1.5, 2.25}},
		KNNIndices:   [][]int32{{0, 1}, {1, 0}, {2, 1}},
		KNNDistances: [][]float32{{0, 0.5}, {0, 0.5}, {0, 0.9}},
	}
}

func TestProjectionValidate(t *testing.T) {
	require.NoError(t, sampleProjection().Validate())

	p := sampleProjection()
	p.KNNIndices = p.KNNIndices[:2]
	assert.Error(t, p.Validate())

	p = sampleProjection()
	p.KNNDistances[1] = []float32{0}
	assert.Error(t, p.Validate())

	p = sampleProjection()
	p.KNNIndices[2] = []int32{2}
	p.KNNDistances[2] = []float32{0}
	assert.Error(t, p.Validate())

	empty := &Projection{
		Points:       [][2]float32{},
		KNNIndices:   [][]int32{},
		KNNDistances: [][]float32{},
	}
	assert.NoError(t, empty.Validate())
}

func TestFSCacheRoundTrip(t *testing.T) {
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	p := sampleProjection()
	require.NoError(t, cache.Save("abc123", p))
	assert.True(t, cache.Exists("abc123"))

	loaded, err := cache.Load("abc123")
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestFSCacheMissing(t *testing.T) {
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	assert.False(t, cache.Exists("nope"))
	_, err = cache.Load("nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFSCacheCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFSCache(dir)
	require.NoError(t, err)

	// Bad magic
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.proj"), []byte("XXXXgarbage entry"), 0o644))
	_, err = cache.Load("bad")
	assert.ErrorIs(t, err, errors.ErrCorruptEntry)

	// Truncated valid entry
	p := sampleProjection()
	require.NoError(t, cache.Save("trunc", p))
	data, err := os.ReadFile(filepath.Join(dir, "trunc.proj"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trunc.proj"), data[:len(data)-5], 0o644))
	_, err = cache.Load("trunc")
	assert.ErrorIs(t, err, errors.ErrCorruptEntry)
}

func TestFSCacheEmptyProjection(t *testing.T) {
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	empty := &Projection{
		Points:       [][2]float32{},
		KNNIndices:   [][]int32{},
		KNNDistances: [][]float32{},
	}
	require.NoError(t, cache.Save("empty", empty))
	loaded, err := cache.Load("empty")
	require.NoError(t, err)
	assert.Empty(t, loaded.Points)
}

// countingProducer returns one vector per item and counts invocations.
func countingProducer(calls *int64) func(context.Context, []string, int, string) ([][]float32, error) {
	return func(_ context.Context, items []string, _ int, _ string) ([][]float32, error) {
		atomic.AddInt64(calls, 1)
		out := make([][]float32, len(items))
		for i := range items {
			out[i] = []float32{float32(i), float32(len(items) - i), 1}
		}
		return out, nil
	}
}

func newTestEngine(t *testing.T, calls *int64, opts ...EngineOption) *Engine {
	t.Helper()
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)
	return NewEngine(cache, reduction.NewPCAReducer(), countingProducer(calls), nil, opts...)
}

func TestEngineKeyDeterministicAndDistinct(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	req := func() *Request {
		return &Request{Kind: KindText, Items: []string{"a", "b"}}
	}

	k1, err := e.Key(req())
	require.NoError(t, err)
	k2, err := e.Key(req())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	other := req()
	other.Model = "all-mpnet-base-v2"
	k3, err := e.Key(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	batched := req()
	batched.BatchSize = 8
	k4, err := e.Key(batched)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestEngineDefaults(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	text := &Request{Kind: KindText, Items: []string{"x"}}
	_, err := e.Key(text)
	require.NoError(t, err)
	assert.Equal(t, DefaultTextModel, text.Model)
	assert.Equal(t, DefaultTextBatch, text.BatchSize)
	assert.Equal(t, 15, text.Params.NNeighbors)

	image := &Request{Kind: KindImage, Items: []string{"x"}}
	_, err = e.Key(image)
	require.NoError(t, err)
	assert.Equal(t, DefaultImageModel, image.Model)
	assert.Equal(t, DefaultImageBatch, image.BatchSize)
}

func TestEngineComputesAndCaches(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	req := &Request{Kind: KindText, Items: []string{"one", "two", "three"}, Params: reduction.Params{NNeighbors: 2}}
	p1, err := e.Project(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, p1.Points, 3)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// Second call serves from cache, producer untouched
	p2, err := e.Project(context.Background(), &Request{
		Kind: KindText, Items: []string{"one", "two", "three"},
		Params: reduction.Params{NNeighbors: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, p1.Points, p2.Points)
	assert.Equal(t, p1.KNNIndices, p2.KNNIndices)
}

func TestEngineSingleFlight(t *testing.T) {
	var calls int64
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	producer := func(_ context.Context, items []string, _ int, _ string) ([][]float32, error) {
		atomic.AddInt64(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		out := make([][]float32, len(items))
		for i := range items {
			out[i] = []float32{float32(i), 1}
		}
		return out, nil
	}
	e := NewEngine(cache, reduction.NewPCAReducer(), producer, nil)

	const concurrency = 8
	results := make([]*Projection, concurrency)
	errs := make([]error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Project(context.Background(), &Request{
				Kind:  KindText,
				Items: []string{"a", "b"},
			})
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "concurrent callers must share one computation")
}

func TestEngineFailureNotCached(t *testing.T) {
	var calls int64
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	producer := func(_ context.Context, items []string, _ int, _ string) ([][]float32, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, fmt.Errorf("encoder offline")
		}
		out := make([][]float32, len(items))
		for i := range items {
			out[i] = []float32{float32(i), 1}
		}
		return out, nil
	}
	e := NewEngine(cache, reduction.NewPCAReducer(), producer, nil)

	req := func() *Request {
		return &Request{Kind: KindText, Items: []string{"a", "b"}}
	}

	_, err = e.Project(context.Background(), req())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmbeddingFailed)

	// Failure cleared the in-flight entry; retry recomputes
	p, err := e.Project(context.Background(), req())
	require.NoError(t, err)
	assert.Len(t, p.Points, 2)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestEngineVectorKind(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	p, err := e.Project(context.Background(), &Request{
		Kind:    KindVector,
		Vectors: [][]float32{{1, 0}, {0, 1}, {1, 1}},
	})
	require.NoError(t, err)
	assert.Len(t, p.Points, 3)
	assert.Zero(t, atomic.LoadInt64(&calls), "vector kind must not touch the text producer")

	_, err = e.Project(context.Background(), &Request{
		Kind:    KindVector,
		Vectors: [][]float32{{1, 0}, {0, 1, 2}},
	})
	assert.ErrorIs(t, err, errors.ErrInconsistentVectorLength)
}

func TestEngineImageWithoutProducer(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	_, err := e.Project(context.Background(), &Request{Kind: KindImage, Items: []string{"img"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmbeddingFailed)
	assert.True(t, errors.IsInvalid(err))
}

func TestEngineUnknownKind(t *testing.T) {
	var calls int64
	e := newTestEngine(t, &calls)

	_, err := e.Project(context.Background(), &Request{Kind: "audio", Items: []string{"x"}})
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}
