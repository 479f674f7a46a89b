// Package monitor implements the quality rules run against a dataset.
//
// A Monitor is built once from its config and may be run any number of times; each
// Run returns a fresh result computed only from the dataset and that config.
package monitor

import (
	"fmt"
	"sort"
	"sync"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
)

type Monitor interface {
	Name() string
	Kind() string
	// Run evaluates the dataset. A returned error is a *ComputationError.
	Run(ds *dataset.Dataset) (domain.MonitorResult, error)
	// Alerts returns the alerts of the most recent Run.
	Alerts() []domain.Alert
}

// ComputationError reports a monitor that could not evaluate the dataset.
type ComputationError struct {
	Monitor string
	Err     error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("monitor %s: %v", e.Monitor, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// base carries the identity and alert policy shared by the built-in monitors.
type base struct {
	name     string
	kind     string
	severity domain.Severity
	failOn   domain.Severity
	last     *alertLog
}

// alertLog holds the alerts of the most recent run.
type alertLog struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (l *alertLog) set(alerts []domain.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append([]domain.Alert(nil), alerts...)
}

func (l *alertLog) get() []domain.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Alert(nil), l.alerts...)
}

func newBase(name string, mc config.MonitorConfig) base {
	return base{
		name:     name,
		kind:     mc.Kind(name),
		severity: mc.EffectiveSeverity(),
		failOn:   mc.EffectiveFailOn(),
		last:     &alertLog{},
	}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() string { return b.kind }

func (b *base) Alerts() []domain.Alert { return b.last.get() }

func (b *base) errorf(format string, args ...any) error {
	b.last.set(nil)
	return &ComputationError{Monitor: b.name, Err: fmt.Errorf(format, args...)}
}

func (b *base) alert(message string, columns []string, value *float64) domain.Alert {
	return domain.Alert{
		MonitorName:     b.name,
		Severity:        b.severity,
		Message:         message,
		AffectedColumns: sortedUnique(columns),
		MetricValue:     value,
	}
}

// finish records the alerts and derives passed from the fail_on severity.
func (b *base) finish(metrics map[string]float64, alerts []domain.Alert) domain.MonitorResult {
	passed := true
	for _, a := range alerts {
		if a.Severity >= b.failOn {
			passed = false
		}
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	b.last.set(alerts)
	return domain.MonitorResult{
		MonitorName: b.name,
		Passed:      passed,
		Metrics:     metrics,
		Alerts:      alerts,
	}
}

func sortedUnique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func ptr(f float64) *float64 { return &f }
