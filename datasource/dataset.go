package datasource

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/c360/embedatlas/errors"
)

// ColumnType is the logical type of a dataset column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeBoolean ColumnType = "boolean"
)

// Column describes one dataset column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Dataset is a row-oriented table. Row values are nil, string, int64,
// float64, or bool according to the column type.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

// Validate checks that every row has one value per column.
func (d *Dataset) Validate() error {
	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return errors.WrapInvalid(
				fmt.Errorf("row %d has %d values, %d columns: %w",
					i, len(row), len(d.Columns), errors.ErrInvalidData),
				"Dataset", "Validate", "row width mismatch")
		}
	}
	return nil
}

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// LoadTableJSON reads a dataset from a JSON file holding an array of
// row objects. Columns are the union of keys across rows, sorted; types
// are inferred per column (integer when every numeric value is integral,
// text when values mix incompatibly).
func LoadTableJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Dataset", "LoadTableJSON", "read dataset file")
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WrapInvalid(err, "Dataset", "LoadTableJSON", "parse dataset file")
	}

	keySet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]Column, len(keys))
	for i, k := range keys {
		columns[i] = Column{Name: k, Type: inferColumnType(records, k)}
	}

	rows := make([][]any, len(records))
	for r, rec := range records {
		row := make([]any, len(keys))
		for c, k := range keys {
			v, ok := rec[k]
			if !ok || v == nil {
				row[c] = nil
				continue
			}
			row[c], err = coerceValue(v, columns[c].Type)
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("row %d column %s: %w", r, k, err),
					"Dataset", "LoadTableJSON", "coerce value")
			}
		}
		rows[r] = row
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}

func inferColumnType(records []map[string]any, key string) ColumnType {
	sawNumber := false
	allIntegral := true
	for _, rec := range records {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case bool:
			return TypeBoolean
		case string:
			return TypeText
		case float64:
			sawNumber = true
			if x != float64(int64(x)) {
				allIntegral = false
			}
		default:
			return TypeText
		}
	}
	if sawNumber {
		if allIntegral {
			return TypeInteger
		}
		return TypeReal
	}
	return TypeText
}

func coerceValue(v any, t ColumnType) (any, error) {
	switch t {
	case TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case TypeInteger:
		if f, ok := v.(float64); ok {
			return int64(f), nil
		}
	case TypeReal:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit column type %s", v, v, t)
}
