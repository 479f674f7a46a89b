package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity orders findings; the zero value means "unset".
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

// ParseSeverity maps a case-insensitive name to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q (want info, warning, error or critical)", s)
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Alert is a single flagged finding produced by a monitor.
type Alert struct {
	MonitorName     string    `json:"monitor_name"`
	Severity        Severity  `json:"severity"`
	Message         string    `json:"message"`
	AffectedColumns []string  `json:"affected_columns"`
	MetricValue     *float64  `json:"metric_value"`
	Timestamp       time.Time `json:"timestamp"`
}

type MonitorResult struct {
	MonitorName string             `json:"monitor_name"`
	Passed      bool               `json:"passed"`
	Metrics     map[string]float64 `json:"metrics"`
	Alerts      []Alert            `json:"alerts"`
	// Error is set only when the monitor could not execute.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the monitor raised instead of producing findings.
func (r MonitorResult) Failed() bool {
	return r.Error != ""
}

// MaxSeverity returns the highest alert severity, or 0 when there are no alerts.
func (r MonitorResult) MaxSeverity() Severity {
	var max Severity
	for _, a := range r.Alerts {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}

type DataQualityReport struct {
	RunID              string                   `json:"run_id"`
	Timestamp          time.Time                `json:"timestamp"`
	DatasetFingerprint string                   `json:"dataset_fingerprint"`
	MonitorResults     map[string]MonitorResult `json:"monitor_results"`
	OverallPassed      bool                     `json:"overall_passed"`
	MaxSeverity        Severity                 `json:"max_severity"`
}

// MonitorNames returns the executed monitor names in sorted order.
func (r DataQualityReport) MonitorNames() []string {
	names := make([]string, 0, len(r.MonitorResults))
	for name := range r.MonitorResults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Alerts flattens every monitor's alerts, grouped by monitor name.
func (r DataQualityReport) Alerts() []Alert {
	var out []Alert
	for _, name := range r.MonitorNames() {
		out = append(out, r.MonitorResults[name].Alerts...)
	}
	return out
}

// FailingMonitors returns the names of monitors that did not pass.
func (r DataQualityReport) FailingMonitors() []string {
	var out []string
	for _, name := range r.MonitorNames() {
		if !r.MonitorResults[name].Passed {
			out = append(out, name)
		}
	}
	return out
}
