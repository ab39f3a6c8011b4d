package datasource

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/c360/embedatlas/errors"
)

// Archive packages the dataset as a self-contained static site zip:
// data/metadata.json, data/dataset.parquet, the frontend bundle at the
// archive root, and the scratch cache under data/cache/. The embedded
// metadata switches the frontend to its local (wasm) database so the
// archive works without a server.
func (s *DataSource) Archive(staticPath string, overrides map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	metadata, err := json.Marshal(s.staticMetadata(overrides))
	if err != nil {
		return nil, errors.WrapInvalid(err, "DataSource", "Archive", "marshal metadata")
	}
	if err := writeZipEntry(zw, "data/metadata.json", metadata); err != nil {
		return nil, err
	}

	parquetData, err := s.ParquetBytes()
	if err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "data/dataset.parquet", parquetData); err != nil {
		return nil, err
	}

	if staticPath != "" {
		if err := zipTree(zw, staticPath, ""); err != nil {
			return nil, err
		}
	}
	if err := zipTree(zw, s.cacheDir, "data/cache"); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, errors.WrapTransient(err, "DataSource", "Archive", "finalize zip")
	}
	return buf.Bytes(), nil
}

// ExportToFolder writes the same layout as Archive into a directory.
func (s *DataSource) ExportToFolder(staticPath, folder string, overrides map[string]any) error {
	dataDir := filepath.Join(folder, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.WrapTransient(err, "DataSource", "ExportToFolder", "create export directory")
	}

	metadata, err := json.Marshal(s.staticMetadata(overrides))
	if err != nil {
		return errors.WrapInvalid(err, "DataSource", "ExportToFolder", "marshal metadata")
	}
	if err := os.WriteFile(filepath.Join(dataDir, "metadata.json"), metadata, 0o644); err != nil {
		return errors.WrapTransient(err, "DataSource", "ExportToFolder", "write metadata")
	}

	parquetData, err := s.ParquetBytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dataDir, "dataset.parquet"), parquetData, 0o644); err != nil {
		return errors.WrapTransient(err, "DataSource", "ExportToFolder", "write parquet")
	}

	if staticPath != "" {
		if err := copyTree(staticPath, folder); err != nil {
			return err
		}
	}
	return copyTree(s.cacheDir, filepath.Join(dataDir, "cache"))
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.WrapTransient(err, "DataSource", "Archive", "create zip entry")
	}
	if _, err := w.Write(data); err != nil {
		return errors.WrapTransient(err, "DataSource", "Archive", "write zip entry")
	}
	return nil
}

// zipTree adds every regular file under root to the archive, rooted at
// prefix.
func zipTree(zw *zip.Writer, root, prefix string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = prefix + "/" + name
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "DataSource", "Archive", "add files to zip")
	}
	return nil
}

func copyTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		return errors.WrapTransient(err, "DataSource", "ExportToFolder", "copy files")
	}
	return nil
}
