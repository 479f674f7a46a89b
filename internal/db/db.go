// Package db reads datasets from SQL databases.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"qualitygate/internal/dataset"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	DSN    string
}

// Open opens the database. For sqlite the DSN is a file path or a file: URI.
func Open(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite source needs a database path")
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres source needs a DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q (want sqlite or postgres)", cfg.Driver)
	}
	return sql.Open(cfg.Driver, dsn)
}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteTable validates a table name, optionally schema-qualified, and quotes each part.
func QuoteTable(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	for i, p := range parts {
		if !identPart.MatchString(p) {
			return "", fmt.Errorf("invalid table name %q", name)
		}
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, "."), nil
}

// LoadTable reads every row of a table.
func LoadTable(ctx context.Context, conn *sql.DB, table string) (*dataset.Dataset, error) {
	quoted, err := QuoteTable(table)
	if err != nil {
		return nil, err
	}
	return LoadQuery(ctx, conn, "SELECT * FROM "+quoted)
}

// LoadQuery runs a read query and converts the result set into a dataset.
func LoadQuery(ctx context.Context, conn *sql.DB, query string, args ...any) (*dataset.Dataset, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	defer rows.Close()
	ds, err := dataset.ReadSQL(rows)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return ds, nil
}
