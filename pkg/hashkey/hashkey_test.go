package hashkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/embedatlas/errors"
)

func TestDigestDeterministic(t *testing.T) {
	value := map[string]any{
		"version":    1,
		"texts":      []string{"alpha", "beta"},
		"model":      "all-MiniLM-L6-v2",
		"batch_size": 32,
		"umap_args":  map[string]any{"n_neighbors": 15, "metric": "cosine"},
	}

	d1, err := Digest(value)
	require.NoError(t, err)
	d2, err := Digest(value)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64) // sha256 hex
}

func TestDigestMapOrderInsensitive(t *testing.T) {
	// Go maps randomize iteration, so exercise the sorting with many keys
	// and with nested maps built in different literal orders.
	a := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	b := map[string]any{"e": 5, "d": 4, "c": 3, "b": 2, "a": 1}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDigestSequenceOrderSensitive(t *testing.T) {
	d1, err := Digest([]string{"a", "b"})
	require.NoError(t, err)
	d2, err := Digest([]string{"b", "a"})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestDigestTypeTagsPreventCollisions(t *testing.T) {
	dString, err := Digest("1")
	require.NoError(t, err)
	dInt, err := Digest(1)
	require.NoError(t, err)
	dFloat, err := Digest(1.0)
	require.NoError(t, err)

	assert.NotEqual(t, dString, dInt)
	assert.NotEqual(t, dInt, dFloat)

	// Empty composites must not collide either
	dSeq, err := Digest([]any{})
	require.NoError(t, err)
	dMap, err := Digest(map[string]any{})
	require.NoError(t, err)
	assert.NotEqual(t, dSeq, dMap)
}

func TestDigestFloatExactBits(t *testing.T) {
	d1, err := Digest(0.1)
	require.NoError(t, err)
	d2, err := Digest(0.1 + 1e-17) // representable difference collapses
	require.NoError(t, err)
	d3, err := Digest(0.2)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)

	// float32 widening is stable
	f1, err := Digest(float32(0.5))
	require.NoError(t, err)
	f2, err := Digest(0.5)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
}

func TestDigestBytesAsRawContent(t *testing.T) {
	d1, err := Digest([]byte{0x01, 0x02})
	require.NoError(t, err)
	d2, err := Digest([]byte{0x01, 0x02})
	require.NoError(t, err)
	d3, err := Digest([]byte{0x02, 0x01})
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
}

func TestDigestNestedStructures(t *testing.T) {
	v := map[string]any{
		"vectors": [][]float32{{1, 2}, {3, 4}},
		"images":  [][]byte{{0xff}, {0x00}},
		"nil":     nil,
		"flag":    true,
	}
	d, err := Digest(v)
	require.NoError(t, err)
	assert.NotEmpty(t, d)
}

func TestDigestUnhashable(t *testing.T) {
	_, err := Digest(make(chan int))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnhashable)

	_, err = Digest(map[string]any{"fn": func() {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnhashable)
}
