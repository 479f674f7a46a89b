// Package dataset holds the tabular input the quality monitors consume.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ColumnType string

const (
	ColumnNumeric   ColumnType = "numeric"
	ColumnString    ColumnType = "string"
	ColumnTimestamp ColumnType = "timestamp"
)

func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "number", "float", "int", "integer":
		return ColumnNumeric, nil
	case "string", "text":
		return ColumnString, nil
	case "timestamp", "time", "datetime", "date":
		return ColumnTimestamp, nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

func (t ColumnType) kind() Kind {
	switch t {
	case ColumnNumeric:
		return KindNumber
	case ColumnString:
		return KindString
	case ColumnTimestamp:
		return KindTime
	}
	return KindNull
}

type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type" enum:"numeric,string,timestamp"`
}

type Row map[string]Value

// Dataset is an ordered, typed table. It is read-only once built.
type Dataset struct {
	columns []Column
	index   map[string]int
	rows    []Row
}

var ErrInvalid = errors.New("invalid dataset")

// New validates the schema and every cell against it. Rows are copied.
func New(columns []Column, rows []Row) (*Dataset, error) {
	ds := &Dataset{
		columns: append([]Column(nil), columns...),
		index:   make(map[string]int, len(columns)),
		rows:    make([]Row, 0, len(rows)),
	}
	for i, c := range columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrInvalid, i)
		}
		if c.Type.kind() == KindNull {
			return nil, fmt.Errorf("%w: column %s has unknown type %q", ErrInvalid, c.Name, c.Type)
		}
		if _, dup := ds.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %s", ErrInvalid, c.Name)
		}
		ds.index[c.Name] = i
	}
	for i, r := range rows {
		cp := make(Row, len(r))
		for name, v := range r {
			idx, ok := ds.index[name]
			if !ok {
				return nil, fmt.Errorf("%w: row %d has unknown column %s", ErrInvalid, i, name)
			}
			if !v.IsNull() && v.Kind() != columns[idx].Type.kind() {
				return nil, fmt.Errorf("%w: row %d column %s holds %s, want %s", ErrInvalid, i, name, v.Kind(), columns[idx].Type)
			}
			cp[name] = v
		}
		ds.rows = append(ds.rows, cp)
	}
	return ds, nil
}

// MustNew is New for fixtures; it panics on invalid input.
func MustNew(columns []Column, rows []Row) *Dataset {
	ds, err := New(columns, rows)
	if err != nil {
		panic(err)
	}
	return ds
}

// FromRecords coerces loosely typed records into a dataset with the given schema.
// Without columns the schema is inferred from the records.
func FromRecords(columns []Column, records []map[string]any) (*Dataset, error) {
	if len(columns) == 0 {
		columns = inferColumns(recordKeys(records), records)
	}
	types := make(map[string]ColumnType, len(columns))
	for _, c := range columns {
		types[c.Name] = c.Type
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		row := make(Row, len(rec))
		for name, raw := range rec {
			typ, ok := types[name]
			if !ok {
				return nil, fmt.Errorf("%w: record %d has unknown column %s", ErrInvalid, i, name)
			}
			v, err := Coerce(raw, typ)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d column %s: %v", ErrInvalid, i, name, err)
			}
			row[name] = v
		}
		rows = append(rows, row)
	}
	return New(columns, rows)
}

func (d *Dataset) Columns() []Column {
	return append([]Column(nil), d.columns...)
}

func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

func (d *Dataset) Column(name string) (Column, bool) {
	idx, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[idx], true
}

func (d *Dataset) Len() int { return len(d.rows) }

// Value returns the cell at row i; cells never set are null.
func (d *Dataset) Value(i int, column string) Value {
	return d.rows[i][column]
}

// Values returns a column's cells in row order, including nulls.
func (d *Dataset) Values(column string) []Value {
	out := make([]Value, len(d.rows))
	for i, r := range d.rows {
		out[i] = r[column]
	}
	return out
}

// Numbers returns the non-null numeric cells of a column in row order.
func (d *Dataset) Numbers(column string) []float64 {
	var out []float64
	for _, r := range d.rows {
		if f, ok := r[column].Float(); ok {
			out = append(out, f)
		}
	}
	return out
}

// Fingerprint identifies the dataset version: sha256 over schema and cells in order.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	for _, c := range d.columns {
		fmt.Fprintf(h, "%s\x1f%s\x1e", c.Name, c.Type)
	}
	h.Write([]byte{0x1d})
	for _, r := range d.rows {
		for _, c := range d.columns {
			h.Write([]byte(r[c.Name].Key()))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type jsonDataset struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (d *Dataset) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDataset{Columns: d.columns, Rows: d.rows})
}
