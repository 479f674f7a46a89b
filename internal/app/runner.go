// Package app wires the engine, gate, report store and notifications into one check flow
// shared by the CLI, the scheduler and the HTTP server.
package app

import (
	"context"
	"errors"
	"log/slog"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
	"qualitygate/internal/engine"
	"qualitygate/internal/events"
	"qualitygate/internal/gate"
	"qualitygate/internal/metrics"
	"qualitygate/internal/notify"
	"qualitygate/internal/repo"
)

type Runner struct {
	Engine   *engine.Engine
	Notifier *notify.Dispatcher
	Metrics  *metrics.Metrics
	Events   events.Writer
	Logger   *slog.Logger
}

// NewRunner builds the engine for cfg. m and logger may be nil.
func NewRunner(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Runner, error) {
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	eng.Metrics = m
	eng.Logger = logger
	eng.Repo.Logger = logger
	n := notify.New(cfg.Notify.Webhooks)
	n.Logger = logger
	return &Runner{
		Engine:   eng,
		Notifier: n,
		Metrics:  m,
		Events:   events.Writer{Logger: logger},
		Logger:   logger,
	}, nil
}

type CheckOptions struct {
	Force bool
	Save  bool
	// OutputDir overrides the configured output_dir when set.
	OutputDir string
}

type CheckResult struct {
	Report     domain.DataQualityReport `json:"report"`
	Decision   gate.Decision            `json:"decision"`
	ReportPath string                   `json:"report_path,omitempty"`
}

// Check runs the monitors, gates the report, optionally saves it and notifies webhooks.
// A *repo.PersistError is returned together with a complete result: the quality
// verdict stands even when the artifact could not be written.
func (r *Runner) Check(ctx context.Context, ds *dataset.Dataset, opts CheckOptions) (CheckResult, error) {
	runCtx := ctx
	if timeout := r.Engine.Config.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	report, err := r.Engine.RunMonitors(runCtx, ds)
	if err != nil {
		return CheckResult{}, err
	}
	res := CheckResult{Report: report}
	res.Decision = r.Gate(ctx, report, opts.Force)
	r.Events.Append(ctx, events.CheckFinished, report.RunID, events.EventPayload{
		"dataset_fingerprint": report.DatasetFingerprint,
		"overall_passed":      report.OverallPassed,
		"max_severity":        report.MaxSeverity.String(),
	})

	var persistErr error
	if opts.Save {
		path, err := r.Engine.SaveResults(report, opts.OutputDir)
		if err != nil {
			persistErr = err
			r.Events.Append(ctx, events.ReportFailed, report.RunID, events.EventPayload{"error": err.Error()})
		} else {
			res.ReportPath = path
			r.Events.Append(ctx, events.ReportSaved, report.RunID, events.EventPayload{"path": path})
		}
	}
	r.Notifier.Notify(ctx, report, res.Decision, res.ReportPath)
	return res, persistErr
}

// Gate evaluates a report and records the decision. Overrides are always recorded.
func (r *Runner) Gate(ctx context.Context, report domain.DataQualityReport, force bool) gate.Decision {
	d := gate.Evaluate(report, force)
	r.Metrics.ObserveGate(d.Admitted, d.Override)
	evt := events.GateAdmitted
	switch {
	case d.Override:
		evt = events.GateOverride
	case !d.Admitted:
		evt = events.GateDenied
	}
	r.Events.Append(ctx, evt, report.RunID, events.EventPayload{
		"reason":           d.Reason,
		"failing_monitors": report.FailingMonitors(),
	})
	return d
}

// GateStored gates a saved report; an empty runID selects the latest one.
func (r *Runner) GateStored(ctx context.Context, runID string, force bool) (repo.Stored, gate.Decision, error) {
	store := r.Engine.Repo
	var (
		stored repo.Stored
		err    error
	)
	if runID == "" {
		stored, err = store.Latest()
	} else {
		stored, err = store.Get(runID)
	}
	if err != nil {
		return repo.Stored{}, gate.Decision{}, err
	}
	return stored, r.Gate(ctx, stored.Report, force), nil
}

// IsPersistError reports whether err came from writing a report artifact.
func IsPersistError(err error) bool {
	var perr *repo.PersistError
	return errors.As(err, &perr)
}
