// Package projection holds computed 2-D projections of embedded datasets
// and their nearest-neighbor graphs, plus the content-addressed filesystem
// cache and the engine that computes entries on demand.
package projection

import (
	"fmt"

	"github.com/c360/embedatlas/errors"
)

// Projection is the result of embedding a collection and reducing it to
// two dimensions. All three slices are row-aligned with the input
// collection; neighbor indices reference positions in that collection.
type Projection struct {
	Points       [][2]float32 `json:"projection"`
	KNNIndices   [][]int32    `json:"knn_indices"`
	KNNDistances [][]float32  `json:"knn_distances"`
}

// Validate checks row alignment and that the neighbor lists form a
// rectangular matrix, which the cache encoding requires.
func (p *Projection) Validate() error {
	n := len(p.Points)
	if len(p.KNNIndices) != n || len(p.KNNDistances) != n {
		return errors.WrapInvalid(
			fmt.Errorf("points=%d indices=%d distances=%d",
				n, len(p.KNNIndices), len(p.KNNDistances)),
			"Projection", "Validate", "row counts misaligned")
	}

	k := -1
	for i := range p.KNNIndices {
		if len(p.KNNIndices[i]) != len(p.KNNDistances[i]) {
			return errors.WrapInvalid(
				fmt.Errorf("row %d: indices=%d distances=%d",
					i, len(p.KNNIndices[i]), len(p.KNNDistances[i])),
				"Projection", "Validate", "neighbor lists misaligned")
		}
		if k == -1 {
			k = len(p.KNNIndices[i])
		} else if len(p.KNNIndices[i]) != k {
			return errors.WrapInvalid(
				fmt.Errorf("row %d has %d neighbors, row 0 has %d",
					i, len(p.KNNIndices[i]), k),
				"Projection", "Validate", "ragged neighbor matrix")
		}
	}
	return nil
}

// neighborCount returns k for a validated projection, 0 when empty.
func (p *Projection) neighborCount() int {
	if len(p.KNNIndices) == 0 {
		return 0
	}
	return len(p.KNNIndices[0])
}
