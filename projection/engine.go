package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/embedatlas/embedding"
	"github.com/c360/embedatlas/errors"
	"github.com/c360/embedatlas/metric"
	"github.com/c360/embedatlas/pkg/hashkey"
	"github.com/c360/embedatlas/reduction"
)

// FormatVersion participates in every cache key. Bump it when the
// computation pipeline changes in a way that invalidates old entries.
const FormatVersion = 1

// Kind selects the embedding path for a projection request.
type Kind string

const (
	KindText   Kind = "text"
	KindVector Kind = "vector"
	KindImage  Kind = "image"
)

// Per-kind defaults applied when the request leaves model or batch size
// unset.
const (
	DefaultTextModel  = "all-MiniLM-L6-v2"
	DefaultTextBatch  = 32
	DefaultImageModel = "google/vit-base-patch16-384"
	DefaultImageBatch = 16
)

// Request describes one projection computation. Items carries the raw
// inputs for text and image kinds; Vectors carries pre-embedded rows for
// the vector kind.
type Request struct {
	Kind      Kind
	Items     []string
	Vectors   [][]float32
	Model     string
	BatchSize int
	Params    reduction.Params
}

type inflight struct {
	done chan struct{}
	proj *Projection
	err  error
}

// Engine computes projections on demand, backed by the cache. Concurrent
// requests for the same key share a single computation.
type Engine struct {
	cache         *FSCache
	reducer       reduction.Reducer
	textProducer  embedding.Producer
	imageProducer embedding.Producer
	logger        *slog.Logger
	metrics       *metric.Metrics

	mu       sync.Mutex
	inflight map[string]*inflight
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithImageProducer installs a producer for image items. Without one,
// image requests fail.
func WithImageProducer(p embedding.Producer) EngineOption {
	return func(e *Engine) { e.imageProducer = p }
}

// WithEngineMetrics records cache and computation metrics.
func WithEngineMetrics(m *metric.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the given cache, reducer, and text
// producer.
func NewEngine(cache *FSCache, reducer reduction.Reducer, textProducer embedding.Producer, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cache:        cache,
		reducer:      reducer,
		textProducer: textProducer,
		logger:       logger,
		inflight:     make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key computes the cache key for a request after defaults are applied.
func (e *Engine) Key(req *Request) (string, error) {
	applyDefaults(req)

	input := map[string]any{
		"version":    FormatVersion,
		"kind":       string(req.Kind),
		"model":      req.Model,
		"batch_size": req.BatchSize,
		"umap_args": map[string]any{
			"n_neighbors": req.Params.NNeighbors,
			"metric":      req.Params.Metric,
			"min_dist":    req.Params.MinDist,
		},
	}
	if req.Kind == KindVector {
		input["items"] = req.Vectors
	} else {
		input["items"] = req.Items
	}

	key, err := hashkey.Digest(input)
	if err != nil {
		return "", errors.WrapInvalid(err, "Engine", "Key", "hash projection request")
	}
	return key, nil
}

// Project returns the projection for req, computing and caching it on a
// miss. Concurrent callers with the same key wait for the first
// computation; a failed computation is not cached and the next caller
// retries.
func (e *Engine) Project(ctx context.Context, req *Request) (*Projection, error) {
	key, err := e.Key(req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if fl, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-fl.done:
			return fl.proj, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	e.inflight[key] = fl
	e.mu.Unlock()

	fl.proj, fl.err = e.loadOrCompute(ctx, key, req)

	// Failures are not cached: clearing the entry before signalling
	// completion lets the next caller start a fresh computation.
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(fl.done)

	return fl.proj, fl.err
}

func (e *Engine) loadOrCompute(ctx context.Context, key string, req *Request) (*Projection, error) {
	if p, err := e.cache.Load(key); err == nil {
		if e.metrics != nil {
			e.metrics.ProjectionCacheHits.Inc()
		}
		e.logger.Debug("projection cache hit", "key", key)
		return p, nil
	} else if !errors.IsNotFound(err) {
		e.logger.Warn("projection cache entry unreadable, recomputing",
			"key", key, "error", err)
	}
	if e.metrics != nil {
		e.metrics.ProjectionCacheMisses.Inc()
	}

	start := time.Now()
	p, err := e.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ProjectionsComputed.Inc()
		e.metrics.ProjectionDuration.Observe(time.Since(start).Seconds())
	}

	if err := e.cache.Save(key, p); err != nil {
		// A save failure costs a recomputation later, not correctness.
		e.logger.Warn("projection cache save failed", "key", key, "error", err)
	}
	e.logger.Info("projection computed",
		"key", key, "kind", req.Kind, "rows", len(p.Points),
		"duration", time.Since(start))
	return p, nil
}

func (e *Engine) compute(ctx context.Context, req *Request) (*Projection, error) {
	vectors, err := e.embed(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := e.reducer.Reduce(ctx, vectors, req.Params)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrReductionFailed, err),
			"Engine", "Project", "dimensionality reduction failed")
	}

	p := &Projection{
		Points:       result.Points,
		KNNIndices:   result.KNNIndices,
		KNNDistances: result.KNNDistances,
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "Engine", "Project", "reducer produced misaligned output")
	}
	return p, nil
}

func (e *Engine) embed(ctx context.Context, req *Request) ([][]float32, error) {
	switch req.Kind {
	case KindVector:
		vectors, err := embedding.StackVectors(req.Vectors)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Engine", "Project", "stack input vectors")
		}
		return vectors, nil

	case KindText:
		if e.textProducer == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("no text producer configured: %w", errors.ErrEmbeddingFailed),
				"Engine", "Project", "text embedding unavailable")
		}
		vectors, err := e.textProducer(ctx, req.Items, req.BatchSize, req.Model)
		if err != nil {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrEmbeddingFailed, err),
				"Engine", "Project", "text embedding failed")
		}
		return vectors, nil

	case KindImage:
		if e.imageProducer == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("no image producer configured: %w", errors.ErrEmbeddingFailed),
				"Engine", "Project", "image embedding unavailable")
		}
		vectors, err := e.imageProducer(ctx, req.Items, req.BatchSize, req.Model)
		if err != nil {
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %w", errors.ErrEmbeddingFailed, err),
				"Engine", "Project", "image embedding failed")
		}
		return vectors, nil

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("kind %q: %w", req.Kind, errors.ErrInvalidData),
			"Engine", "Project", "unknown projection kind")
	}
}

func applyDefaults(req *Request) {
	switch req.Kind {
	case KindText:
		if req.Model == "" {
			req.Model = DefaultTextModel
		}
		if req.BatchSize <= 0 {
			req.BatchSize = DefaultTextBatch
		}
	case KindImage:
		if req.Model == "" {
			req.Model = DefaultImageModel
		}
		if req.BatchSize <= 0 {
			req.BatchSize = DefaultImageBatch
		}
	}
	req.Params = req.Params.WithDefaults()
}
