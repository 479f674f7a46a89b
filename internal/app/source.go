package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"qualitygate/internal/dataset"
	"qualitygate/internal/db"
)

// Source describes where a dataset comes from.
type Source struct {
	// Format is csv, json, sqlite or postgres; file formats default from the extension.
	Format string
	Path   string
	// SchemaPath points at a YAML or JSON list of {name, type} columns.
	SchemaPath string
	DSN        string
	Table      string
	Query      string
}

func (s Source) isSQL() bool {
	return s.Format == db.DriverSQLite || s.Format == db.DriverPostgres
}

// Describe is a short human label for logs.
func (s Source) Describe() string {
	switch {
	case s.isSQL() && s.Table != "":
		return s.Format + " table " + s.Table
	case s.isSQL():
		return s.Format + " query"
	}
	return s.Path
}

// LoadDataset reads the dataset described by src.
func LoadDataset(ctx context.Context, src Source) (*dataset.Dataset, error) {
	if src.isSQL() {
		return loadSQL(ctx, src)
	}
	if src.Path == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	schema, err := LoadSchema(src.SchemaPath)
	if err != nil {
		return nil, err
	}
	return dataset.LoadFile(src.Path, dataset.Format(src.Format), schema)
}

func loadSQL(ctx context.Context, src Source) (*dataset.Dataset, error) {
	if (src.Table == "") == (src.Query == "") {
		return nil, fmt.Errorf("%s source needs exactly one of table or query", src.Format)
	}
	dsn := src.DSN
	if dsn == "" && src.Format == db.DriverSQLite {
		dsn = src.Path
	}
	conn, err := db.Open(db.Config{Driver: src.Format, DSN: dsn})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if src.Table != "" {
		return db.LoadTable(ctx, conn, src.Table)
	}
	return db.LoadQuery(ctx, conn, src.Query)
}

// LoadSchema reads an optional column schema file; an empty path yields nil.
func LoadSchema(path string) ([]dataset.Column, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	cols := make([]dataset.Column, 0, len(raw))
	for _, c := range raw {
		typ, err := dataset.ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("schema %s column %s: %w", path, c.Name, err)
		}
		cols = append(cols, dataset.Column{Name: c.Name, Type: typ})
	}
	return cols, nil
}
