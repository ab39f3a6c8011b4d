package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/c360/embedatlas/errors"
)

// Format is a selection export encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Exporter writes dataset selections to download files.
//
// The predicate is interpolated into the WHERE clause verbatim. The
// frontend is the only caller and already has full read access to the
// dataset through the query gateway, so the predicate is trusted the
// same way arbitrary SQL on /data/query is.
type Exporter struct {
	db     *DB
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter writing temp files under dir (the OS
// temp directory when empty).
func NewExporter(db *DB, dir string, logger *slog.Logger) *Exporter {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{db: db, dir: dir, logger: logger}
}

// Export runs the selection and returns the encoded file content. The
// result is staged through a uniquely named temp file which is removed
// unconditionally afterwards; removal errors are ignored.
func (e *Exporter) Export(ctx context.Context, predicate *string, format Format) (*Result, error) {
	switch format {
	case FormatJSON, FormatJSONL, FormatCSV, FormatParquet:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("format %q: %w", format, errors.ErrUnknownFormat),
			"Exporter", "Export", "unknown selection format")
	}

	sqlText := "SELECT * FROM dataset"
	if predicate != nil {
		sqlText += " WHERE " + *predicate
	}

	gateway := NewGateway(e.db, e.logger, nil)
	cols, values, err := gateway.collectRows(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	filename := filepath.Join(e.dir, ".selection-"+uuid.NewString()+".tmp")
	defer func() { _ = os.Remove(filename) }()

	if err := e.writeFile(filename, format, cols, values); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WrapTransient(err, "Exporter", "Export", "read selection file")
	}

	e.logger.Debug("selection exported",
		"format", format, "rows", len(values), "bytes", len(data))
	return &Result{Bytes: data, MediaType: "application/octet-stream"}, nil
}

func (e *Exporter) writeFile(path string, format Format, cols []string, values [][]any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapTransient(err, "Exporter", "Export", "create selection file")
	}
	defer f.Close()

	switch format {
	case FormatJSON:
		records := toRecords(cols, values)
		if err := json.NewEncoder(f).Encode(records); err != nil {
			return errors.WrapInvalid(err, "Exporter", "Export", "encode json")
		}

	case FormatJSONL:
		enc := json.NewEncoder(f)
		for _, row := range values {
			rec := make(map[string]any, len(cols))
			for j, col := range cols {
				rec[col] = jsonValue(row[j])
			}
			if err := enc.Encode(rec); err != nil {
				return errors.WrapInvalid(err, "Exporter", "Export", "encode jsonl")
			}
		}

	case FormatCSV:
		w := csv.NewWriter(f)
		if err := w.Write(cols); err != nil {
			return errors.WrapInvalid(err, "Exporter", "Export", "write csv header")
		}
		record := make([]string, len(cols))
		for _, row := range values {
			for j, v := range row {
				if v == nil {
					record[j] = ""
				} else {
					record[j] = stringify(v)
				}
			}
			if err := w.Write(record); err != nil {
				return errors.WrapInvalid(err, "Exporter", "Export", "write csv row")
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.WrapInvalid(err, "Exporter", "Export", "flush csv")
		}

	case FormatParquet:
		rec, err := rowsToRecord(cols, values)
		if err != nil {
			return errors.WrapInvalid(err, "Exporter", "Export", "build parquet record")
		}
		defer rec.Release()

		table := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
		defer table.Release()

		chunkSize := int64(len(values))
		if chunkSize == 0 {
			chunkSize = 1
		}
		err = pqarrow.WriteTable(table, f, chunkSize,
			parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
			pqarrow.DefaultWriterProps())
		if err != nil {
			return errors.WrapInvalid(err, "Exporter", "Export", "write parquet")
		}
	}
	return nil
}

func toRecords(cols []string, values [][]any) []map[string]any {
	records := make([]map[string]any, len(values))
	for i, row := range values {
		rec := make(map[string]any, len(cols))
		for j, col := range cols {
			rec[col] = jsonValue(row[j])
		}
		records[i] = rec
	}
	return records
}
