// Package reduction projects high-dimensional vectors down to 2-D and
// computes their nearest-neighbor graphs.
//
// The Reducer interface is the seam for swapping algorithms; the default
// implementation combines exact k-nearest-neighbor search with a
// deterministic principal-component layout. UMAP or other neighbor
// embedding methods plug in behind the same interface.
package reduction

import (
	"context"
	"fmt"

	"github.com/c360/embedatlas/errors"
)

// Supported distance metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// Defaults applied by Params.WithDefaults.
const (
	DefaultNNeighbors = 15
	DefaultMetric     = MetricCosine
	DefaultMinDist    = 0.1
)

// Params controls a reduction run. MinDist only affects neighbor
// embedding reducers; the principal-component reducer ignores it but it
// still participates in cache keys.
type Params struct {
	NNeighbors int     `json:"n_neighbors"`
	Metric     string  `json:"metric"`
	MinDist    float64 `json:"min_dist"`
}

// WithDefaults fills unset fields and returns the completed params.
func (p Params) WithDefaults() Params {
	if p.NNeighbors <= 0 {
		p.NNeighbors = DefaultNNeighbors
	}
	if p.Metric == "" {
		p.Metric = DefaultMetric
	}
	if p.MinDist <= 0 {
		p.MinDist = DefaultMinDist
	}
	return p
}

// Validate rejects unknown metrics.
func (p Params) Validate() error {
	switch p.Metric {
	case MetricCosine, MetricEuclidean:
		return nil
	default:
		return errors.WrapInvalid(
			fmt.Errorf("metric %q: %w", p.Metric, errors.ErrInvalidData),
			"Params", "Validate", "unsupported distance metric")
	}
}

// Result is a completed reduction: 2-D coordinates plus the neighbor
// graph, row-aligned with the input vectors. Each row's neighbor list
// starts with the row itself at distance zero.
type Result struct {
	Points       [][2]float32
	KNNIndices   [][]int32
	KNNDistances [][]float32
}

// Reducer turns vectors into a 2-D layout with a neighbor graph.
type Reducer interface {
	Reduce(ctx context.Context, vectors [][]float32, params Params) (*Result, error)
}
