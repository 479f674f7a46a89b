package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualitygate/internal/dataset"
)

func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.db")
	conn, err := sql.Open(DriverSQLite, path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Exec(`CREATE TABLE orders(order_id INTEGER, price REAL, sku TEXT, note)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO orders VALUES (1, 9.5, 'a', 'x'), (2, NULL, 'b', 3), (2, 11, NULL, NULL)`)
	require.NoError(t, err)
	return path
}

func TestLoadTable(t *testing.T) {
	conn, err := Open(Config{Driver: DriverSQLite, DSN: seed(t)})
	require.NoError(t, err)
	defer conn.Close()

	ds, err := LoadTable(context.Background(), conn, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []dataset.Column{
		{Name: "order_id", Type: dataset.ColumnNumeric},
		{Name: "price", Type: dataset.ColumnNumeric},
		{Name: "sku", Type: dataset.ColumnString},
		{Name: "note", Type: dataset.ColumnString},
	}, ds.Columns())
	assert.True(t, ds.Value(1, "price").IsNull())
	assert.Equal(t, []float64{9.5, 11}, ds.Numbers("price"))
}

func TestLoadQuery(t *testing.T) {
	conn, err := Open(Config{Driver: DriverSQLite, DSN: seed(t)})
	require.NoError(t, err)
	defer conn.Close()

	ds, err := LoadQuery(context.Background(), conn, `SELECT order_id FROM orders WHERE order_id = ?`, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestQuoteTable(t *testing.T) {
	q, err := QuoteTable("sales.orders")
	require.NoError(t, err)
	assert.Equal(t, `"sales"."orders"`, q)
	for _, bad := range []string{"", "orders; DROP TABLE x", "a.b.c", `o"rders`} {
		_, err := QuoteTable(bad)
		assert.Error(t, err, bad)
	}
	_, err = Open(Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}
