package reduction

import (
	"context"
	"fmt"
	"math"

	"github.com/c360/embedatlas/errors"
)

// PCAReducer is the default reducer: exact kNN plus a deterministic
// two-component principal-component layout via power iteration. It has
// no randomness, so identical inputs always produce identical layouts
// and cache entries stay byte-stable.
type PCAReducer struct {
	// Iterations bounds the power iteration (default 100).
	Iterations int
}

// NewPCAReducer creates the default reducer.
func NewPCAReducer() *PCAReducer {
	return &PCAReducer{Iterations: 100}
}

// Reduce computes the neighbor graph and the 2-D layout.
func (r *PCAReducer) Reduce(ctx context.Context, vectors [][]float32, params Params) (*Result, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return &Result{
			Points:       [][2]float32{},
			KNNIndices:   [][]int32{},
			KNNDistances: [][]float32{},
		}, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, errors.WrapInvalid(
				fmt.Errorf("row %d has %d dimensions, row 0 has %d: %w",
					i, len(v), dim, errors.ErrInconsistentVectorLength),
				"PCAReducer", "Reduce", "ragged input vectors")
		}
	}

	indices, distances, err := kNearest(ctx, vectors, params.NNeighbors, params.Metric)
	if err != nil {
		return nil, err
	}

	points, err := r.layout(ctx, vectors, dim)
	if err != nil {
		return nil, err
	}

	return &Result{
		Points:       points,
		KNNIndices:   indices,
		KNNDistances: distances,
	}, nil
}

// layout projects the centered data onto its top two principal
// components, then rescales each axis to unit standard deviation so the
// frontend gets a roughly isotropic point cloud.
func (r *PCAReducer) layout(ctx context.Context, vectors [][]float32, dim int) ([][2]float32, error) {
	n := len(vectors)

	mean := make([]float64, dim)
	for _, v := range vectors {
		for j, x := range v {
			mean[j] += float64(x)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	centered := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, dim)
		for j, x := range v {
			row[j] = float64(x) - mean[j]
		}
		centered[i] = row
	}

	iters := r.Iterations
	if iters <= 0 {
		iters = 100
	}

	c1, err := r.powerIterate(ctx, centered, dim, nil, iters)
	if err != nil {
		return nil, err
	}
	c2, err := r.powerIterate(ctx, centered, dim, c1, iters)
	if err != nil {
		return nil, err
	}

	points := make([][2]float32, n)
	var sumX2, sumY2 float64
	for i, row := range centered {
		x := dotF64(row, c1)
		y := dotF64(row, c2)
		points[i] = [2]float32{float32(x), float32(y)}
		sumX2 += x * x
		sumY2 += y * y
	}

	scaleAxis := func(axis int, sum2 float64) {
		std := math.Sqrt(sum2 / float64(n))
		if std == 0 {
			return
		}
		for i := range points {
			points[i][axis] = float32(float64(points[i][axis]) / std)
		}
	}
	scaleAxis(0, sumX2)
	scaleAxis(1, sumY2)

	return points, nil
}

// powerIterate finds the dominant eigenvector of the data covariance,
// orthogonalized against exclude when deflating to the second component.
// The starting vector is a fixed deterministic sequence, not random.
func (r *PCAReducer) powerIterate(ctx context.Context, centered [][]float64, dim int, exclude []float64, iters int) ([]float64, error) {
	v := make([]float64, dim)
	for j := range v {
		v[j] = math.Sin(float64(j) + 1)
	}
	orthogonalize(v, exclude)
	if normalize(v) == 0 {
		// Degenerate start; fall back to a unit basis vector.
		v[0] = 1
		orthogonalize(v, exclude)
		normalize(v)
	}

	next := make([]float64, dim)
	proj := make([]float64, len(centered))

	for it := 0; it < iters; it++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// next = Cᵀ C v without materializing the covariance matrix
		for i, row := range centered {
			proj[i] = dotF64(row, v)
		}
		for j := range next {
			next[j] = 0
		}
		for i, row := range centered {
			p := proj[i]
			for j, x := range row {
				next[j] += p * x
			}
		}

		orthogonalize(next, exclude)
		if normalize(next) == 0 {
			// No variance along any remaining direction
			break
		}
		copy(v, next)
	}
	return v, nil
}

func orthogonalize(v, against []float64) {
	if against == nil {
		return
	}
	p := dotF64(v, against)
	for j := range v {
		v[j] -= p * against[j]
	}
}

func normalize(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	norm := math.Sqrt(s)
	if norm == 0 {
		return 0
	}
	for j := range v {
		v[j] /= norm
	}
	return norm
}

func dotF64(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
