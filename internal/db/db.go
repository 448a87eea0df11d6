// Package db opens the relational store used by the catalog, profile, score
// and distance repositories, and applies the embedded schema.
//
// Three drivers are supported:
//   - "sqlite": modernc.org/sqlite, the default for development
//   - "postgres": github.com/lib/pq
//   - "pgx": github.com/jackc/pgx/v5/stdlib
//
// Repositories write queries with "?" placeholders and pass them through
// Rebind, so the same SQL runs on every dialect.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/onnwee/nestscout/internal/tracing"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	// DialectSQLite is SQLite through modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres is PostgreSQL through lib/pq or pgx.
	DialectPostgres Dialect = "postgres"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// DB wraps *sql.DB with the dialect it speaks.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var dialect Dialect
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		dialect = DialectSQLite
		dsn = withSQLiteTimeFormat(dsn)
	case DriverPostgres, DriverPGX:
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if dialect == DialectSQLite {
		// One connection keeps :memory: databases coherent and serialises
		// writers the way SQLite would anyway.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if dialect == DialectSQLite {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return &DB{DB: sqlDB, dialect: dialect}, nil
}

// Dialect returns the SQL dialect of the connection.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// System returns the OpenTelemetry db.system value for the connection.
func (d *DB) System() string {
	if d.dialect == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// Rebind rewrites "?" placeholders into the dialect's native form.
func (d *DB) Rebind(query string) string {
	return Rebind(d.dialect, query)
}

// StartSpan opens a client span for a statement against table.
func (d *DB) StartSpan(ctx context.Context, table string, op tracing.DBOperation) (context.Context, func(error)) {
	return tracing.StartDBSpan(ctx, d.System(), table, op)
}

// Rebind rewrites "?" placeholders into $1, $2, ... for PostgreSQL.
// Question marks inside single-quoted literals are left untouched.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// withSQLiteTimeFormat makes modernc write timestamps in a sortable layout so
// computed_at comparisons in SQL order correctly.
func withSQLiteTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_time_format=sqlite"
	}
	return dsn + "?_time_format=sqlite"
}

// NullFloat converts an optional float into a driver value.
func NullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// FloatPtr converts a scanned nullable float back into an optional value.
func FloatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// NullInt converts an optional int into a driver value.
func NullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// IntPtr converts a scanned nullable integer back into an optional int.
func IntPtr(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

// NullInt64 maps the zero id to NULL.
func NullInt64(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
