package query

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column kinds inferred from driver values. SQLite is dynamically typed
// per cell, so the schema comes from what the result actually holds.
type colKind int

const (
	kindNull colKind = iota
	kindInt
	kindFloat
	kindString
	kindBool
)

// rowsToRecord builds a single record batch from materialized rows.
// The caller releases the record.
func rowsToRecord(cols []string, values [][]any) (arrow.Record, error) {
	kinds := inferKinds(cols, values)

	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: col, Type: kinds[i].arrowType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, row := range values {
		for j, v := range row {
			if err := appendDriverValue(builder.Field(j), kinds[j], v); err != nil {
				return nil, fmt.Errorf("column %s: %w", cols[j], err)
			}
		}
	}
	return builder.NewRecord(), nil
}

// rowsToArrowStream encodes materialized rows as an Arrow IPC stream
// with one record batch.
func rowsToArrowStream(cols []string, values [][]any) ([]byte, error) {
	rec, err := rowsToRecord(cols, values)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (k colKind) arrowType() arrow.DataType {
	switch k {
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// inferKinds picks one kind per column: any text forces string, mixed
// int and float widens to float, all-null columns encode as string.
func inferKinds(cols []string, values [][]any) []colKind {
	kinds := make([]colKind, len(cols))
	for j := range cols {
		kind := kindNull
		for _, row := range values {
			switch row[j].(type) {
			case nil:
				continue
			case int64:
				if kind == kindNull {
					kind = kindInt
				}
			case float64:
				if kind == kindNull || kind == kindInt {
					kind = kindFloat
				}
			case bool:
				if kind == kindNull {
					kind = kindBool
				} else if kind != kindBool {
					kind = kindString
				}
			default:
				kind = kindString
			}
			if kind == kindString {
				break
			}
		}
		if kind == kindNull {
			kind = kindString
		}
		kinds[j] = kind
	}
	return kinds
}

func appendDriverValue(b array.Builder, kind colKind, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch kind {
	case kindInt:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		b.(*array.Int64Builder).Append(x)
	case kindFloat:
		switch x := v.(type) {
		case float64:
			b.(*array.Float64Builder).Append(x)
		case int64:
			b.(*array.Float64Builder).Append(float64(x))
		default:
			return fmt.Errorf("expected numeric, got %T", v)
		}
	case kindBool:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		b.(*array.BooleanBuilder).Append(x)
	default:
		b.(*array.StringBuilder).Append(stringify(v))
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
