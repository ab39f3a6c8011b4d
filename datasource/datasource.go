// Package datasource bundles the served dataset with its presentation
// metadata, a per-dataset scratch cache, and the export paths (parquet
// bytes, archive zip, static folder export).
package datasource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/embedatlas/errors"
)

// DataSource is one served dataset: the table, its presentation metadata,
// and a scratch directory namespaced by identifier where the frontend
// persists derived state (saved views, annotations).
type DataSource struct {
	Identifier string
	Dataset    *Dataset

	metadata  map[string]any
	cacheDir  string
	parquetMu parquetMemo
}

// New creates a data source and its scratch directory under cacheRoot.
func New(identifier string, dataset *Dataset, metadata map[string]any, cacheRoot string) (*DataSource, error) {
	if identifier == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"DataSource", "New", "identifier is required")
	}
	if err := validateName(identifier); err != nil {
		return nil, err
	}
	if dataset == nil {
		dataset = &Dataset{}
	}
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	cacheDir := filepath.Join(cacheRoot, "cache", identifier)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "DataSource", "New", "create scratch directory")
	}

	return &DataSource{
		Identifier: identifier,
		Dataset:    dataset,
		metadata:   metadata,
		cacheDir:   cacheDir,
	}, nil
}

// Metadata returns the presentation metadata merged with overrides.
func (s *DataSource) Metadata(overrides map[string]any) map[string]any {
	return DeepMerge(s.metadata, overrides)
}

// CacheSet stores a named JSON document in the scratch cache. Names must
// be plain file names; anything resembling a path is rejected.
func (s *DataSource) CacheSet(name string, data json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}
	path := filepath.Join(s.cacheDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapTransient(err, "DataSource", "CacheSet", "write cache document")
	}
	return nil
}

// CacheGet loads a named JSON document from the scratch cache. The
// second return is false when the document does not exist.
func (s *DataSource) CacheGet(name string) (json.RawMessage, bool, error) {
	if err := validateName(name); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(filepath.Join(s.cacheDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "DataSource", "CacheGet", "read cache document")
	}
	return data, true, nil
}

// validateName rejects empty names and anything that could escape the
// scratch directory.
func validateName(name string) error {
	if name == "" ||
		strings.ContainsAny(name, "/\\") ||
		strings.Contains(name, "..") ||
		name != filepath.Base(name) {
		return errors.WrapInvalid(
			fmt.Errorf("name %q: %w", name, errors.ErrInvalidData),
			"DataSource", "validateName", "cache names must be plain file names")
	}
	return nil
}

// staticMetadata is what exports embed: the live metadata plus flags
// telling the exported frontend to run standalone off local files.
func (s *DataSource) staticMetadata(overrides map[string]any) map[string]any {
	base := DeepMerge(s.metadata, map[string]any{
		"isStatic": true,
		"database": map[string]any{"type": "wasm", "load": true},
	})
	return DeepMerge(base, overrides)
}

// DeepMerge returns base with overrides applied; nested maps merge
// recursively, everything else is replaced. Inputs are not modified.
func DeepMerge(base, overrides map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overrides {
		if existing, ok := result[k].(map[string]any); ok {
			if overlay, ok := v.(map[string]any); ok {
				result[k] = DeepMerge(existing, overlay)
				continue
			}
		}
		result[k] = v
	}
	return result
}
