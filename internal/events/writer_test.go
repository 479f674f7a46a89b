package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendOverrideIsWarn(t *testing.T) {
	var buf bytes.Buffer
	w := Writer{
		Logger: slog.New(slog.NewJSONHandler(&buf, nil)),
		Now:    func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) },
	}
	w.Append(context.Background(), GateOverride, "run-1", EventPayload{"reason": "forced", "failing": []string{"outlier"}})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, GateOverride, rec["event"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "2024-02-03T04:05:06Z", rec["ts"])
	assert.Equal(t, "forced", rec["reason"])
	assert.Equal(t, []any{"outlier"}, rec["failing"])
}
