package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"qualitygate/internal/app"
	"qualitygate/internal/domain"
	"qualitygate/internal/gate"
	"qualitygate/internal/repo"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderCheck(w io.Writer, res app.CheckResult) {
	renderReport(w, res.Report)
	if res.ReportPath != "" {
		fmt.Fprintf(w, "Report: %s\n", res.ReportPath)
	}
	renderDecision(w, res.Decision)
}

// renderReport prints one row per monitor followed by every alert.
func renderReport(w io.Writer, r domain.DataQualityReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Monitor", "Passed", "Alerts", "Metrics"})
	for _, name := range r.MonitorNames() {
		res := r.MonitorResults[name]
		passed := fmt.Sprint(res.Passed)
		if res.Failed() {
			passed = "error"
		}
		tw.AppendRow(table.Row{name, passed, len(res.Alerts), formatMetrics(res.Metrics)})
	}
	tw.AppendFooter(table.Row{"overall", r.OverallPassed, len(r.Alerts()), "max severity " + r.MaxSeverity.String()})
	tw.Render()

	alerts := r.Alerts()
	if len(alerts) == 0 {
		return
	}
	at := table.NewWriter()
	at.SetOutputMirror(w)
	at.AppendHeader(table.Row{"Monitor", "Severity", "Columns", "Message"})
	for _, a := range alerts {
		at.AppendRow(table.Row{a.MonitorName, a.Severity.String(), strings.Join(a.AffectedColumns, ","), a.Message})
	}
	at.Render()
}

func renderDecision(w io.Writer, d gate.Decision) {
	verdict := "DENIED"
	switch {
	case d.Override:
		verdict = "ADMITTED (override)"
	case d.Admitted:
		verdict = "ADMITTED"
	}
	fmt.Fprintf(w, "Gate: %s - %s\n", verdict, d.Reason)
}

func renderReportList(w io.Writer, stored []repo.Stored) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Run ID", "Timestamp", "Passed", "Max Severity", "Failing"})
	for _, s := range stored {
		r := s.Report
		tw.AppendRow(table.Row{r.RunID, r.Timestamp.Format("2006-01-02 15:04:05Z"), r.OverallPassed, r.MaxSeverity.String(), strings.Join(r.FailingMonitors(), ",")})
	}
	tw.Render()
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, m[k]))
	}
	return strings.Join(parts, " ")
}
