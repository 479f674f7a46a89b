package server

import (
	"time"

	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
	"qualitygate/internal/gate"
)

// Request payloads

type CheckRequest struct {
	Columns []dataset.Column `json:"columns,omitempty" doc:"Column schema; inferred from the rows when omitted"`
	Rows    []map[string]any `json:"rows"`
	Force   bool             `json:"force,omitempty" doc:"Admit a failing dataset and record the override"`
	Save    *bool            `json:"save,omitempty" doc:"Write the report artifact (default true)"`
}

type GateRequest struct {
	Force bool `json:"force,omitempty"`
}

// Response payloads

type CheckResponse struct {
	Report       domain.DataQualityReport `json:"report"`
	Decision     gate.Decision            `json:"decision"`
	ReportPath   string                   `json:"report_path,omitempty"`
	PersistError string                   `json:"persist_error,omitempty"`
}

type ReportSummary struct {
	RunID              string          `json:"run_id"`
	Timestamp          time.Time       `json:"timestamp"`
	DatasetFingerprint string          `json:"dataset_fingerprint"`
	OverallPassed      bool            `json:"overall_passed"`
	MaxSeverity        domain.Severity `json:"max_severity"`
	FailingMonitors    []string        `json:"failing_monitors"`
	Path               string          `json:"path"`
}

type ReportList struct {
	Items []ReportSummary `json:"items"`
}

type ReportResponse struct {
	Path   string                   `json:"path"`
	Report domain.DataQualityReport `json:"report"`
}

type GateResponse struct {
	RunID    string        `json:"run_id"`
	Path     string        `json:"path"`
	Decision gate.Decision `json:"decision"`
}

func summarize(path string, r domain.DataQualityReport) ReportSummary {
	failing := r.FailingMonitors()
	if failing == nil {
		failing = []string{}
	}
	return ReportSummary{
		RunID:              r.RunID,
		Timestamp:          r.Timestamp,
		DatasetFingerprint: r.DatasetFingerprint,
		OverallPassed:      r.OverallPassed,
		MaxSeverity:        r.MaxSeverity,
		FailingMonitors:    failing,
		Path:               path,
	}
}
