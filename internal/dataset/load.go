package dataset

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Format names a file encoding understood by Load.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot infer dataset format from %s; pass --format", path)
}

// LoadFile reads a dataset file. schema may be nil, in which case column types are inferred.
func LoadFile(path string, format Format, schema []Column) (*Dataset, error) {
	if format == "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch format {
	case FormatCSV:
		comma := ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			comma = '\t'
		}
		return ReadCSV(f, comma, schema)
	case FormatJSON:
		return ReadJSON(f, schema)
	}
	return nil, fmt.Errorf("unsupported dataset format %q", format)
}

// ReadCSV reads a header row followed by records. Empty cells are null.
func ReadCSV(r io.Reader, comma rune, schema []Column) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: csv has no header row", ErrInvalid)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	raw := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(rec) || isNullToken(rec[i]) {
				m[name] = nil
				continue
			}
			m[name] = rec[i]
		}
		raw = append(raw, m)
	}
	columns := schema
	if len(columns) == 0 {
		columns = inferColumns(header, raw)
	}
	return FromRecords(columns, raw)
}

// ReadJSON accepts either {"columns": [...], "rows": [...]} or an array of objects.
func ReadJSON(r io.Reader, schema []Column) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	var records []map[string]any
	columns := schema
	if len(data) > 0 && data[0] == '{' {
		var doc struct {
			Columns []Column         `json:"columns"`
			Rows    []map[string]any `json:"rows"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		records = doc.Rows
		if len(columns) == 0 {
			columns = doc.Columns
		}
	} else if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromRecords(columns, records)
}

// ReadSQL drains rows into a dataset. Declared column types are used when recognised,
// otherwise types are inferred from the scanned values.
func ReadSQL(rows *sql.Rows) (*Dataset, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(colTypes))
	declared := make([]ColumnType, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		declared[i] = sqlColumnType(ct.DatabaseTypeName())
	}
	var records []map[string]any
	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(names))
		for i, name := range names {
			if b, ok := cells[i].([]byte); ok {
				cells[i] = string(b)
			}
			rec[name] = cells[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	inferred := inferColumns(names, records)
	columns := make([]Column, len(names))
	for i, name := range names {
		typ := declared[i]
		if typ == "" {
			typ = inferred[i].Type
		}
		columns[i] = Column{Name: name, Type: typ}
	}
	return FromRecords(columns, records)
}

func sqlColumnType(dbType string) ColumnType {
	t := strings.ToUpper(dbType)
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "INT"), strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return ColumnNumeric
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return ColumnTimestamp
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"), t == "UUID":
		return ColumnString
	}
	return ""
}

func recordKeys(records []map[string]any) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func inferColumns(names []string, records []map[string]any) []Column {
	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Type: inferType(name, records)}
	}
	return columns
}

// inferType prefers numeric, then timestamp, then string. All-null columns are strings.
func inferType(name string, records []map[string]any) ColumnType {
	numeric, timestamp, seen := true, true, false
	for _, rec := range records {
		v := rec[name]
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && isNullToken(s) {
			continue
		}
		seen = true
		switch x := v.(type) {
		case string:
			if _, err := cast.ToFloat64E(strings.TrimSpace(x)); err != nil {
				numeric = false
			}
			if _, err := cast.ToTimeE(strings.TrimSpace(x)); err != nil {
				timestamp = false
			}
		case time.Time:
			numeric = false
		case bool:
			timestamp = false
			numeric = false
		default:
			if _, err := cast.ToFloat64E(x); err != nil {
				numeric = false
			}
			timestamp = false
		}
		if !numeric && !timestamp {
			return ColumnString
		}
	}
	switch {
	case !seen:
		return ColumnString
	case numeric:
		return ColumnNumeric
	case timestamp:
		return ColumnTimestamp
	}
	return ColumnString
}
