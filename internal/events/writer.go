// Package events records auditable gate and report events as structured log records.
package events

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Event types.
const (
	GateAdmitted  = "gate.admitted"
	GateDenied    = "gate.denied"
	GateOverride  = "gate.override"
	ReportSaved   = "report.saved"
	ReportFailed  = "report.persist_failed"
	CheckFinished = "check.finished"
)

type Writer struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type EventPayload map[string]any

// Append emits one event. Overrides and failures are logged at warn level so they
// stand out in audit trails.
func (w Writer) Append(ctx context.Context, evtType, runID string, payload EventPayload) {
	if w.Now == nil {
		w.Now = time.Now
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("event", evtType),
		slog.String("run_id", runID),
		slog.String("ts", w.Now().UTC().Format(time.RFC3339)),
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, payload[k]))
	}
	level := slog.LevelInfo
	switch evtType {
	case GateOverride, GateDenied, ReportFailed:
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "event", attrs...)
}
