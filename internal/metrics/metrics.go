// Package metrics exposes Prometheus collectors for quality runs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	MonitorRuns     *prometheus.CounterVec
	MonitorDuration *prometheus.HistogramVec
	GateDecisions   *prometheus.CounterVec
	PersistFailures prometheus.Counter
	ReportsSaved    prometheus.Counter
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MonitorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qualitygate",
			Name:      "monitor_runs_total",
			Help:      "Monitor executions by outcome (passed, failed, error).",
		}, []string{"monitor", "outcome"}),
		MonitorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qualitygate",
			Name:      "monitor_duration_seconds",
			Help:      "Wall time of a single monitor run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"monitor"}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qualitygate",
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by admission and override.",
		}, []string{"admitted", "override"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qualitygate",
			Name:      "report_persist_failures_total",
			Help:      "Reports that could not be written.",
		}),
		ReportsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qualitygate",
			Name:      "reports_saved_total",
			Help:      "Reports written to the output directory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.MonitorRuns, m.MonitorDuration, m.GateDecisions, m.PersistFailures, m.ReportsSaved)
	}
	return m
}

func (m *Metrics) ObserveMonitor(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.MonitorRuns.WithLabelValues(name, outcome).Inc()
	m.MonitorDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ObserveGate(admitted, override bool) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(strconv.FormatBool(admitted), strconv.FormatBool(override)).Inc()
}

func (m *Metrics) ObservePersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.ReportsSaved.Inc()
}
