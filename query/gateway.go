package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/embedatlas/errors"
	"github.com/c360/embedatlas/metric"
)

// Mode selects the result encoding of a gateway query.
type Mode string

const (
	ModeExec  Mode = "exec"
	ModeArrow Mode = "arrow"
	ModeJSON  Mode = "json"
)

// Result is an encoded query or export result ready for the HTTP layer.
type Result struct {
	Bytes     []byte
	MediaType string
}

// Gateway executes frontend SQL against the dataset database.
type Gateway struct {
	db      *DB
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewGateway creates a gateway. metrics may be nil.
func NewGateway(db *DB, logger *slog.Logger, metrics *metric.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{db: db, logger: logger, metrics: metrics}
}

// Execute runs sqlText in the given mode. exec returns an empty JSON
// object; json returns an array of row objects; arrow returns an Arrow
// IPC stream. Unknown modes fail with ErrUnknownMode.
func (g *Gateway) Execute(ctx context.Context, sqlText string, mode Mode) (*Result, error) {
	start := time.Now()
	res, err := g.execute(ctx, sqlText, mode)

	if g.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.QueriesTotal.WithLabelValues(string(mode), status).Inc()
		g.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.logger.Warn("query failed", "mode", mode, "error", err)
		return nil, err
	}
	g.logger.Debug("query executed", "mode", mode, "duration", time.Since(start))
	return res, nil
}

func (g *Gateway) execute(ctx context.Context, sqlText string, mode Mode) (*Result, error) {
	switch mode {
	case ModeExec:
		if _, err := g.db.sql.ExecContext(ctx, sqlText); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "Execute", "execute statement")
		}
		return &Result{Bytes: []byte("{}"), MediaType: "application/json"}, nil

	case ModeJSON:
		cols, values, err := g.collectRows(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(toRecords(cols, values))
		if err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "Execute", "encode rows as json")
		}
		return &Result{Bytes: data, MediaType: "application/json"}, nil

	case ModeArrow:
		cols, values, err := g.collectRows(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		data, err := rowsToArrowStream(cols, values)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "Execute", "encode rows as arrow")
		}
		return &Result{Bytes: data, MediaType: "application/octet-stream"}, nil

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("mode %q: %w", mode, errors.ErrUnknownMode),
			"Gateway", "Execute", "unknown query mode")
	}
}

// collectRows runs a query and materializes all rows. Driver values are
// int64, float64, string, []byte, or nil.
func (g *Gateway) collectRows(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	rows, err := g.db.sql.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, errors.WrapInvalid(err, "Gateway", "Execute", "run query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.WrapInvalid(err, "Gateway", "Execute", "read result columns")
	}

	var values [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.WrapInvalid(err, "Gateway", "Execute", "scan result row")
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.WrapInvalid(err, "Gateway", "Execute", "iterate result rows")
	}
	return cols, values, nil
}

func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
