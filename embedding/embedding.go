// Package embedding turns raw dataset items into vectors for the
// projection engine.
//
// A Producer is the unit of pluggability: the engine calls one per
// request kind. SentenceEncoder targets local OpenAI-compatible encoder
// services (TEI and similar); RemoteAPI targets cloud embedding APIs with
// transient retry; StackVectors passes through rows that arrive already
// embedded.
package embedding

import (
	"context"
	"fmt"

	"github.com/c360/embedatlas/errors"
)

// Producer generates one vector per item. Implementations batch the
// items themselves; batchSize is a hint, not a contract.
type Producer func(ctx context.Context, items []string, batchSize int, model string) ([][]float32, error)

// StackVectors validates pre-embedded rows as a rectangular matrix and
// returns them unchanged. Ragged input fails with
// errors.ErrInconsistentVectorLength.
func StackVectors(vectors [][]float32) ([][]float32, error) {
	if len(vectors) == 0 {
		return vectors, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("row %d has %d dimensions, row 0 has %d: %w",
				i, len(v), dim, errors.ErrInconsistentVectorLength)
		}
	}
	return vectors, nil
}

// batches splits items into chunks of at most size. A non-positive size
// yields a single batch.
func batches(items []string, size int) [][]string {
	if size <= 0 || size >= len(items) {
		if len(items) == 0 {
			return nil
		}
		return [][]string{items}
	}
	out := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
