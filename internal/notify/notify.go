// Package notify posts run outcomes to configured webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"qualitygate/internal/config"
	"qualitygate/internal/domain"
	"qualitygate/internal/gate"
)

const defaultTimeout = 5 * time.Second

// Event types sent in X-Qualitygate-Event.
const (
	EventPassed   = config.EventCheckPassed
	EventDenied   = config.EventCheckDenied
	EventOverride = config.EventCheckOverride
)

type Dispatcher struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Logger *slog.Logger
}

func New(hooks []config.WebhookConfig) *Dispatcher {
	return &Dispatcher{Hooks: hooks, Client: &http.Client{Timeout: defaultTimeout}}
}

// Payload is the JSON body posted to each webhook.
type Payload struct {
	Type               string          `json:"type"`
	RunID              string          `json:"run_id"`
	Timestamp          time.Time       `json:"timestamp"`
	DatasetFingerprint string          `json:"dataset_fingerprint"`
	OverallPassed      bool            `json:"overall_passed"`
	MaxSeverity        domain.Severity `json:"max_severity"`
	FailingMonitors    []string        `json:"failing_monitors"`
	Alerts             []domain.Alert  `json:"alerts"`
	Decision           gate.Decision   `json:"decision"`
	ReportPath         string          `json:"report_path,omitempty"`
}

// EventType classifies a decision.
func EventType(d gate.Decision) string {
	switch {
	case d.Override:
		return EventOverride
	case d.Admitted:
		return EventPassed
	default:
		return EventDenied
	}
}

// Notify delivers to every matching hook and returns how many accepted the event.
// Delivery failures are logged and never change the outcome of a run.
func (d *Dispatcher) Notify(ctx context.Context, report domain.DataQualityReport, decision gate.Decision, reportPath string) int {
	if d == nil || len(d.Hooks) == 0 {
		return 0
	}
	failing := report.FailingMonitors()
	if failing == nil {
		failing = []string{}
	}
	alerts := report.Alerts()
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	body := Payload{
		Type:               EventType(decision),
		RunID:              report.RunID,
		Timestamp:          report.Timestamp,
		DatasetFingerprint: report.DatasetFingerprint,
		OverallPassed:      report.OverallPassed,
		MaxSeverity:        report.MaxSeverity,
		FailingMonitors:    failing,
		Alerts:             alerts,
		Decision:           decision,
		ReportPath:         reportPath,
	}
	data, err := json.Marshal(body)
	if err != nil {
		d.logger().Error("webhook: marshal payload failed", "error", err)
		return 0
	}
	delivered := 0
	for _, hook := range d.Hooks {
		if !d.wants(hook, report, body.Type) {
			continue
		}
		if err := d.post(ctx, hook, body, data); err != nil {
			d.logger().Warn("webhook: delivery failed", "url", hook.URL, "run_id", report.RunID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) wants(hook config.WebhookConfig, report domain.DataQualityReport, event string) bool {
	if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
		return false
	}
	if hook.OnlyOnFailure && report.OverallPassed {
		return false
	}
	if hook.MinSeverity != 0 && report.MaxSeverity < hook.MinSeverity {
		return false
	}
	return newEventFilter(hook.Events).match(event)
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, body Payload, data []byte) error {
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Qualitygate-Event", body.Type)
	req.Header.Set("X-Qualitygate-Delivery", body.RunID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Qualitygate-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
