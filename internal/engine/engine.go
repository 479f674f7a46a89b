package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
	"qualitygate/internal/metrics"
	"qualitygate/internal/monitor"
	"qualitygate/internal/repo"
)

// Engine runs the configured monitors over a dataset and aggregates their results.
// Engines share no mutable state; each run produces a fresh report.
type Engine struct {
	Config   *config.Config
	Monitors []monitor.Monitor
	Repo     repo.Repo
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string

	mu   sync.Mutex
	last *domain.DataQualityReport
}

// New validates cfg and resolves every monitor through the built-in registry.
func New(cfg *config.Config) (*Engine, error) {
	return NewWithRegistry(cfg, monitor.DefaultRegistry())
}

// NewWithRegistry is New with a caller-supplied registry.
func NewWithRegistry(cfg *config.Config, reg *monitor.Registry) (*Engine, error) {
	if cfg == nil {
		return nil, config.Invalid("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	monitors, err := reg.Build(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Config:   cfg,
		Monitors: monitors,
		Repo:     repo.Repo{Dir: cfg.OutputDir},
		Now:      time.Now,
		NewID:    uuid.NewString,
	}, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

type outcome struct {
	name     string
	result   domain.MonitorResult
	err      error
	duration time.Duration
}

// RunMonitors runs every monitor concurrently. A monitor that returns an error, panics,
// or has not finished when ctx is done is recorded as failed with one critical alert;
// the other monitors' results are kept and the report is still returned.
func (e *Engine) RunMonitors(ctx context.Context, ds *dataset.Dataset) (domain.DataQualityReport, error) {
	if ds == nil {
		return domain.DataQualityReport{}, errors.New("dataset is required")
	}
	started := e.now().UTC()
	report := domain.DataQualityReport{
		RunID:              e.newID(),
		Timestamp:          started,
		DatasetFingerprint: ds.Fingerprint(),
		MonitorResults:     make(map[string]domain.MonitorResult, len(e.Monitors)),
	}

	ch := make(chan outcome, len(e.Monitors))
	pending := make(map[string]bool, len(e.Monitors))
	for _, m := range e.Monitors {
		pending[m.Name()] = true
		go runOne(m, ds, ch)
	}

collect:
	for len(pending) > 0 {
		select {
		case o := <-ch:
			delete(pending, o.name)
			report.MonitorResults[o.name] = e.record(o, started)
		case <-ctx.Done():
			for name := range pending {
				o := outcome{name: name, err: fmt.Errorf("deadline exceeded: %w", ctx.Err())}
				report.MonitorResults[name] = e.record(o, started)
			}
			break collect
		}
	}

	report.OverallPassed = true
	report.MaxSeverity = domain.SeverityInfo
	for _, res := range report.MonitorResults {
		if !res.Passed || res.Failed() {
			report.OverallPassed = false
		}
		if s := res.MaxSeverity(); s > report.MaxSeverity {
			report.MaxSeverity = s
		}
	}

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()

	e.logger().Info("quality run finished",
		"run_id", report.RunID,
		"monitors", len(report.MonitorResults),
		"passed", report.OverallPassed,
		"max_severity", report.MaxSeverity.String(),
		"failing", report.FailingMonitors())
	return report, nil
}

func runOne(m monitor.Monitor, ds *dataset.Dataset, ch chan<- outcome) {
	start := time.Now()
	o := outcome{name: m.Name()}
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("panic: %v", r)
		}
		o.duration = time.Since(start)
		ch <- o
	}()
	o.result, o.err = m.Run(ds)
}

// record normalises one monitor outcome and stamps its alerts with the run time.
func (e *Engine) record(o outcome, ts time.Time) domain.MonitorResult {
	if o.err != nil {
		e.logger().Error("monitor failed", "monitor", o.name, "error", o.err)
		e.Metrics.ObserveMonitor(o.name, "error", o.duration)
		return domain.MonitorResult{
			MonitorName: o.name,
			Passed:      false,
			Metrics:     map[string]float64{},
			Alerts: []domain.Alert{{
				MonitorName:     o.name,
				Severity:        domain.SeverityCritical,
				Message:         "monitor failed to execute: " + o.err.Error(),
				AffectedColumns: []string{},
				Timestamp:       ts,
			}},
			Error: o.err.Error(),
		}
	}
	res := o.result
	res.MonitorName = o.name
	if res.Metrics == nil {
		res.Metrics = map[string]float64{}
	}
	alerts := make([]domain.Alert, len(res.Alerts))
	for i, a := range res.Alerts {
		a.MonitorName = o.name
		a.Timestamp = ts
		if a.AffectedColumns == nil {
			a.AffectedColumns = []string{}
		}
		alerts[i] = a
	}
	res.Alerts = alerts
	outcomeLabel := "passed"
	if !res.Passed {
		outcomeLabel = "failed"
	}
	e.Metrics.ObserveMonitor(o.name, outcomeLabel, o.duration)
	e.logger().Debug("monitor finished", "monitor", o.name, "passed", res.Passed, "alerts", len(res.Alerts), "duration", o.duration)
	return res
}

// Alerts returns the alerts of the most recent run, grouped by monitor name in sorted
// order and in emission order within a monitor.
func (e *Engine) Alerts() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	return e.last.Alerts()
}

// LastReport returns the report of the most recent run.
func (e *Engine) LastReport() (domain.DataQualityReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return domain.DataQualityReport{}, false
	}
	return *e.last, true
}

// SaveResults writes the report under outputDir, or the configured output_dir when
// outputDir is empty. Failures are *repo.PersistError.
func (e *Engine) SaveResults(report domain.DataQualityReport, outputDir string) (string, error) {
	r := e.Repo
	if outputDir != "" {
		r = repo.Repo{Dir: outputDir, Logger: e.Repo.Logger}
	}
	path, err := r.Save(report)
	e.Metrics.ObservePersist(err)
	if err != nil {
		e.logger().Error("report not saved", "run_id", report.RunID, "error", err)
		return "", err
	}
	e.logger().Info("report saved", "run_id", report.RunID, "path", path)
	return path, nil
}
