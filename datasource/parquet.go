package datasource

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/c360/embedatlas/errors"
)

type parquetMemo struct {
	once sync.Once
	data []byte
	err  error
}

// ParquetBytes encodes the dataset as a parquet file. The encoding runs
// once; later calls return the memoized bytes. The dataset is immutable
// after construction, so the memo never goes stale.
func (s *DataSource) ParquetBytes() ([]byte, error) {
	s.parquetMu.once.Do(func() {
		s.parquetMu.data, s.parquetMu.err = datasetToParquet(s.Dataset)
	})
	return s.parquetMu.data, s.parquetMu.err
}

func datasetToParquet(d *Dataset) ([]byte, error) {
	rec, err := datasetToRecord(d)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	table := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer table.Release()

	chunkSize := int64(len(d.Rows))
	if chunkSize == 0 {
		chunkSize = 1
	}

	var buf bytes.Buffer
	err = pqarrow.WriteTable(table, &buf, chunkSize,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, errors.WrapTransient(err, "DataSource", "ParquetBytes", "write parquet")
	}
	return buf.Bytes(), nil
}

func arrowType(t ColumnType) (arrow.DataType, error) {
	switch t {
	case TypeText:
		return arrow.BinaryTypes.String, nil
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64, nil
	case TypeReal:
		return arrow.PrimitiveTypes.Float64, nil
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, fmt.Errorf("column type %q has no arrow mapping", t)
	}
}

func datasetToRecord(d *Dataset) (arrow.Record, error) {
	fields := make([]arrow.Field, len(d.Columns))
	for i, c := range d.Columns {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, errors.WrapInvalid(err, "DataSource", "ParquetBytes", "map column type")
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for rowIdx, row := range d.Rows {
		for colIdx, v := range row {
			if v == nil {
				builder.Field(colIdx).AppendNull()
				continue
			}
			if err := appendValue(builder.Field(colIdx), d.Columns[colIdx].Type, v); err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("row %d column %s: %w", rowIdx, d.Columns[colIdx].Name, err),
					"DataSource", "ParquetBytes", "append value")
			}
		}
	}
	return builder.NewRecord(), nil
}

func appendValue(b array.Builder, t ColumnType, v any) error {
	switch t {
	case TypeText:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		b.(*array.StringBuilder).Append(s)
	case TypeInteger:
		switch x := v.(type) {
		case int64:
			b.(*array.Int64Builder).Append(x)
		case int:
			b.(*array.Int64Builder).Append(int64(x))
		case float64:
			b.(*array.Int64Builder).Append(int64(x))
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeReal:
		switch x := v.(type) {
		case float64:
			b.(*array.Float64Builder).Append(x)
		case int64:
			b.(*array.Float64Builder).Append(float64(x))
		default:
			return fmt.Errorf("expected real, got %T", v)
		}
	case TypeBoolean:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		b.(*array.BooleanBuilder).Append(x)
	default:
		return fmt.Errorf("unknown column type %q", t)
	}
	return nil
}
