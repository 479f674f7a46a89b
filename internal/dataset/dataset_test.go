package dataset

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsKindMismatch(t *testing.T) {
	_, err := New([]Column{{Name: "price", Type: ColumnNumeric}}, []Row{{"price": String("ten")}})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = New([]Column{{Name: "a", Type: ColumnNumeric}, {Name: "a", Type: ColumnString}}, nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = New([]Column{{Name: "a", Type: ColumnNumeric}}, []Row{{"b": Number(1)}})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNumbersSkipsNulls(t *testing.T) {
	ds := MustNew([]Column{{Name: "x", Type: ColumnNumeric}}, []Row{
		{"x": Number(1)}, {"x": Null()}, {}, {"x": Number(3)},
	})
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, []float64{1, 3}, ds.Numbers("x"))
	assert.True(t, ds.Value(2, "x").IsNull())
}

func TestFingerprintStable(t *testing.T) {
	cols := []Column{{Name: "id", Type: ColumnNumeric}, {Name: "name", Type: ColumnString}}
	a := MustNew(cols, []Row{{"id": Number(1), "name": String("a")}})
	b := MustNew(cols, []Row{{"id": Number(1), "name": String("a")}})
	c := MustNew(cols, []Row{{"id": Number(1), "name": String("b")}})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestCompare(t *testing.T) {
	c, err := Compare(Number(2), Number(1))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err = Compare(Time(early), Time(early.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = Compare(Number(1), String("1"))
	assert.Error(t, err)
	_, err = Compare(Null(), Number(1))
	assert.Error(t, err)
}

func TestNegativeZeroKeysLikeZero(t *testing.T) {
	neg := Number(math.Copysign(0, -1))
	c, err := Compare(neg, Number(0))
	require.NoError(t, err)
	assert.Equal(t, 0, c)
	assert.Equal(t, Number(0).Key(), neg.Key())

	v, err := Coerce("-0", ColumnNumeric)
	require.NoError(t, err)
	assert.Equal(t, "n:0", v.Key())
}

func TestReadCSVInfersTypes(t *testing.T) {
	in := "order_id,price,ordered_at,note\n" +
		"1,9.5,2024-01-02T00:00:00Z,first\n" +
		"2,,2024-01-03T00:00:00Z,NA\n" +
		"3,11,2024-01-04T00:00:00Z,third\n"
	ds, err := ReadCSV(strings.NewReader(in), ',', nil)
	require.NoError(t, err)

	assert.Equal(t, []Column{
		{Name: "order_id", Type: ColumnNumeric},
		{Name: "price", Type: ColumnNumeric},
		{Name: "ordered_at", Type: ColumnTimestamp},
		{Name: "note", Type: ColumnString},
	}, ds.Columns())
	assert.Equal(t, 3, ds.Len())
	assert.True(t, ds.Value(1, "price").IsNull())
	assert.True(t, ds.Value(1, "note").IsNull())
	ts, ok := ds.Value(0, "ordered_at").Timestamp()
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}

func TestReadCSVWithSchema(t *testing.T) {
	in := "price\nten\n"
	_, err := ReadCSV(strings.NewReader(in), ',', []Column{{Name: "price", Type: ColumnNumeric}})
	require.ErrorIs(t, err, ErrInvalid)

	ds, err := ReadCSV(strings.NewReader(in), ',', []Column{{Name: "price", Type: ColumnString}})
	require.NoError(t, err)
	s, _ := ds.Value(0, "price").Str()
	assert.Equal(t, "ten", s)
}

func TestReadJSONShapes(t *testing.T) {
	ds, err := ReadJSON(strings.NewReader(`[{"b":"x","a":1},{"a":null,"b":"y"}]`), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.ColumnNames())
	assert.Equal(t, []float64{1}, ds.Numbers("a"))

	ds, err = ReadJSON(strings.NewReader(`{"columns":[{"name":"price","type":"string"}],"rows":[{"price":"12"}]}`), nil)
	require.NoError(t, err)
	col, ok := ds.Column("price")
	require.True(t, ok)
	assert.Equal(t, ColumnString, col.Type)
}

func TestDatasetJSONRoundTrip(t *testing.T) {
	ds := MustNew([]Column{{Name: "v", Type: ColumnNumeric}}, []Row{{"v": Number(2)}, {"v": Null()}})
	b, err := json.Marshal(ds)
	require.NoError(t, err)
	back, err := ReadJSON(strings.NewReader(string(b)), nil)
	require.NoError(t, err)
	assert.Equal(t, ds.Fingerprint(), back.Fingerprint())
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\tx\n"), 0o644))
	ds, err := LoadFile(path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.ColumnNames())

	_, err = LoadFile(filepath.Join(dir, "data.parquet"), "", nil)
	assert.Error(t, err)
}

func TestFromRecordsInfersSchema(t *testing.T) {
	ds, err := FromRecords(nil, []map[string]any{
		{"id": float64(1), "at": "2024-05-01T10:00:00Z", "name": "a"},
		{"id": float64(2), "at": nil, "name": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "at", Type: ColumnTimestamp},
		{Name: "id", Type: ColumnNumeric},
		{Name: "name", Type: ColumnString},
	}, ds.Columns())
	ts, ok := ds.Value(0, "at").Timestamp()
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}
