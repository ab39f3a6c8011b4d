package datasource

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/embedatlas/errors"
)

func sampleDataset() *Dataset {
	return &Dataset{
		Columns: []Column{
			{Name: "id", Type: TypeInteger},
			{Name: "text", Type: TypeText},
			{Name: "score", Type: TypeReal},
		},
		Rows: [][]any{
			{int64(1), "alpha", 0.5},
			{int64(2), "beta", 0.75},
			{int64(3), nil, 1.0},
		},
	}
}

func newTestSource(t *testing.T) *DataSource {
	t.Helper()
	s, err := New("test-data", sampleDataset(), map[string]any{"title": "Test"}, t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := New("", sampleDataset(), nil, dir)
	assert.Error(t, err)

	_, err = New("../escape", sampleDataset(), nil, dir)
	assert.Error(t, err)

	bad := sampleDataset()
	bad.Rows[0] = []any{int64(1)}
	_, err = New("ok", bad, nil, dir)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestCacheSetGet(t *testing.T) {
	s := newTestSource(t)

	doc := json.RawMessage(`{"view":"scatter","zoom":2}`)
	require.NoError(t, s.CacheSet("view-state.json", doc))

	got, ok, err := s.CacheGet("view-state.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(doc), string(got))

	_, ok, err = s.CacheGet("missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheNameValidation(t *testing.T) {
	s := newTestSource(t)

	for _, name := range []string{"", "../evil", "a/b", `a\b`, "..", "dir/.."} {
		assert.Error(t, s.CacheSet(name, json.RawMessage(`{}`)), "name %q", name)
		_, _, err := s.CacheGet(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestMetadataMerge(t *testing.T) {
	s := newTestSource(t)

	m := s.Metadata(nil)
	assert.Equal(t, "Test", m["title"])

	m = s.Metadata(map[string]any{"database": map[string]any{"type": "rest"}})
	assert.Equal(t, "Test", m["title"])
	db := m["database"].(map[string]any)
	assert.Equal(t, "rest", db["type"])
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"a": 1,
		"nested": map[string]any{
			"keep":    "yes",
			"replace": "old",
		},
	}
	overrides := map[string]any{
		"b": 2,
		"nested": map[string]any{
			"replace": "new",
			"added":   true,
		},
	}

	out := DeepMerge(base, overrides)
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, 2, out["b"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "yes", nested["keep"])
	assert.Equal(t, "new", nested["replace"])
	assert.Equal(t, true, nested["added"])

	// Base untouched
	assert.Equal(t, "old", base["nested"].(map[string]any)["replace"])
}

func TestParquetBytesMemoized(t *testing.T) {
	s := newTestSource(t)

	data1, err := s.ParquetBytes()
	require.NoError(t, err)
	assert.NotEmpty(t, data1)
	// Parquet magic at both ends
	assert.Equal(t, []byte("PAR1"), data1[:4])
	assert.Equal(t, []byte("PAR1"), data1[len(data1)-4:])

	data2, err := s.ParquetBytes()
	require.NoError(t, err)
	assert.Equal(t, &data1[0], &data2[0], "second call must return the memoized buffer")
}

func TestParquetBytesEmptyDataset(t *testing.T) {
	s, err := New("empty", &Dataset{Columns: []Column{{Name: "x", Type: TypeText}}}, nil, t.TempDir())
	require.NoError(t, err)

	data, err := s.ParquetBytes()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestArchiveLayout(t *testing.T) {
	s := newTestSource(t)
	require.NoError(t, s.CacheSet("saved.json", json.RawMessage(`{"a":1}`)))

	staticDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staticDir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "assets", "app.js"), []byte("js"), 0o644))

	data, err := s.Archive(staticDir, nil)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["data/metadata.json"])
	assert.True(t, names["data/dataset.parquet"])
	assert.True(t, names["index.html"])
	assert.True(t, names["assets/app.js"])
	assert.True(t, names["data/cache/saved.json"])

	// Archived metadata is switched to standalone mode
	for _, f := range zr.File {
		if f.Name != "data/metadata.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.NewDecoder(rc).Decode(&m))
		_ = rc.Close()
		assert.Equal(t, true, m["isStatic"])
		assert.Equal(t, "wasm", m["database"].(map[string]any)["type"])
		assert.Equal(t, "Test", m["title"])
	}
}

func TestExportToFolder(t *testing.T) {
	s := newTestSource(t)
	require.NoError(t, s.CacheSet("saved.json", json.RawMessage(`{"a":1}`)))

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>"), 0o644))

	out := filepath.Join(t.TempDir(), "site")
	require.NoError(t, s.ExportToFolder(staticDir, out, map[string]any{"title": "Exported"}))

	assert.FileExists(t, filepath.Join(out, "index.html"))
	assert.FileExists(t, filepath.Join(out, "data", "dataset.parquet"))
	assert.FileExists(t, filepath.Join(out, "data", "cache", "saved.json"))

	metaBytes, err := os.ReadFile(filepath.Join(out, "data", "metadata.json"))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(metaBytes, &m))
	assert.Equal(t, "Exported", m["title"])
	assert.Equal(t, true, m["isStatic"])
}

func TestLoadTableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	content := `[
		{"id": 1, "text": "alpha", "score": 0.5, "flag": true},
		{"id": 2, "text": "beta", "score": 1.5},
		{"id": 3, "score": 2.0, "flag": false}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := LoadTableJSON(path)
	require.NoError(t, err)

	// Columns sorted by name
	assert.Equal(t, []string{"flag", "id", "score", "text"}, d.ColumnNames())

	types := map[string]ColumnType{}
	for _, c := range d.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, TypeBoolean, types["flag"])
	assert.Equal(t, TypeInteger, types["id"])
	assert.Equal(t, TypeReal, types["score"])
	assert.Equal(t, TypeText, types["text"])

	require.Len(t, d.Rows, 3)
	// Row 2 has no text or flag
	assert.Nil(t, d.Rows[2][0])
	assert.Equal(t, int64(3), d.Rows[2][1])
}

func TestLoadTableJSONErrors(t *testing.T) {
	_, err := LoadTableJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"array"}`), 0o644))
	_, err = LoadTableJSON(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
