package reduction

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// kNearest computes the exact k-nearest-neighbor graph with the given
// metric. Each row's list starts with the row itself at distance zero; k
// counts the row, so k=15 yields 14 true neighbors. k is clamped to the
// row count.
func kNearest(ctx context.Context, vectors [][]float32, k int, metric string) ([][]int32, [][]float32, error) {
	n := len(vectors)
	if k > n {
		k = n
	}

	mags := make([]float64, n)
	if metric == MetricCosine {
		for i, v := range vectors {
			mags[i] = magnitude(v)
		}
	}

	type scored struct {
		idx  int32
		dist float32
	}

	indices := make([][]int32, n)
	distances := make([][]float32, n)
	scratch := make([]scored, n)

	for i := 0; i < n; i++ {
		if i%64 == 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
			}
		}

		for j := 0; j < n; j++ {
			var d float64
			switch metric {
			case MetricCosine:
				d = cosineDistance(vectors[i], vectors[j], mags[i], mags[j])
			case MetricEuclidean:
				d = euclideanDistance(vectors[i], vectors[j])
			default:
				return nil, nil, fmt.Errorf("unsupported metric %q", metric)
			}
			scratch[j] = scored{idx: int32(j), dist: float32(d)}
		}
		// The row itself sorts first at distance zero; ties broken by
		// index for determinism.
		scratch[i].dist = 0
		sort.Slice(scratch, func(a, b int) bool {
			if scratch[a].dist != scratch[b].dist {
				return scratch[a].dist < scratch[b].dist
			}
			return scratch[a].idx < scratch[b].idx
		})

		rowIdx := make([]int32, k)
		rowDist := make([]float32, k)
		for m := 0; m < k; m++ {
			rowIdx[m] = scratch[m].idx
			rowDist[m] = scratch[m].dist
		}
		indices[i] = rowIdx
		distances[i] = rowDist
	}
	return indices, distances, nil
}

// cosineDistance is 1 - cosine similarity. Zero-magnitude vectors are
// maximally distant from everything, including themselves.
func cosineDistance(a, b []float32, magA, magB float64) float64 {
	if magA == 0 || magB == 0 {
		return 1
	}
	s := dot(a, b) / (magA * magB)
	if math.IsNaN(s) {
		return 1
	}
	// Clamp against floating point drift past [-1, 1]
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return 1 - s
}

func euclideanDistance(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 { return math.Sqrt(dot(v, v)) }
