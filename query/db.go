// Package query runs SQL against the served dataset: an in-memory SQLite
// database loaded once at startup, a gateway executing frontend queries
// in exec/arrow/json modes, and a selection exporter producing download
// files.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/c360/embedatlas/datasource"
	"github.com/c360/embedatlas/errors"
)

// DB wraps the dataset database. A pinned connection keeps the shared
// in-memory database alive for the lifetime of the process; the pool
// opens further connections against the same shared cache.
type DB struct {
	sql *sql.DB
	pin *sql.Conn
}

// Open creates a fresh in-memory database, loads the dataset as table
// "dataset", and locks the configuration down. The database name is
// unique per Open so independent instances never share state.
func Open(ctx context.Context, d *datasource.Dataset) (*DB, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf(
		"file:embedatlas-%s?mode=memory&cache=shared&_pragma=trusted_schema(0)",
		uuid.NewString())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "DB", "Open", "open sqlite database")
	}

	pin, err := sqlDB.Conn(ctx)
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.WrapFatal(err, "DB", "Open", "pin database connection")
	}

	db := &DB{sql: sqlDB, pin: pin}
	if err := db.loadDataset(ctx, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the pinned connection and the pool, discarding the
// in-memory database.
func (db *DB) Close() error {
	if db.pin != nil {
		_ = db.pin.Close()
		db.pin = nil
	}
	return db.sql.Close()
}

func (db *DB) loadDataset(ctx context.Context, d *datasource.Dataset) error {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), sqliteType(c.Type))
	}
	create := fmt.Sprintf("CREATE TABLE dataset (%s)", strings.Join(cols, ", "))
	if _, err := db.sql.ExecContext(ctx, create); err != nil {
		return errors.WrapFatal(err, "DB", "Open", "create dataset table")
	}

	if len(d.Rows) == 0 {
		return nil
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapFatal(err, "DB", "Open", "begin load transaction")
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(d.Columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO dataset VALUES (%s)", placeholders)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return errors.WrapFatal(err, "DB", "Open", "prepare dataset insert")
	}
	defer stmt.Close()

	for i, row := range d.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return errors.WrapFatal(
				fmt.Errorf("row %d: %w", i, err),
				"DB", "Open", "insert dataset row")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapFatal(err, "DB", "Open", "commit dataset load")
	}
	return nil
}

func sqliteType(t datasource.ColumnType) string {
	switch t {
	case datasource.TypeInteger, datasource.TypeBoolean:
		return "INTEGER"
	case datasource.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
