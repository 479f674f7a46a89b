// Package gate turns a quality report into an admit or deny decision.
package gate

import (
	"fmt"
	"strings"

	"qualitygate/internal/domain"
)

const (
	ReasonPassed   = "quality checks passed"
	overridePrefix = "admitted under override; "
)

// Decision is derived from a report on every call and never stored with it.
type Decision struct {
	Admitted  bool   `json:"admitted"`
	Reason    string `json:"reason"`
	ReportRef string `json:"report_ref"`
	Override  bool   `json:"override"`
}

// Evaluate admits a passing report. A failing report is denied unless force is set,
// in which case it is admitted and the decision records the override. The report is
// not modified.
func Evaluate(report domain.DataQualityReport, force bool) Decision {
	d := Decision{ReportRef: report.RunID}
	if report.OverallPassed {
		d.Admitted = true
		d.Reason = ReasonPassed
		return d
	}
	summary := Summarize(report)
	if force {
		d.Admitted = true
		d.Override = true
		d.Reason = overridePrefix + summary
		return d
	}
	d.Reason = summary
	return d
}

// Summarize explains why a report failed: the highest-severity failing monitors first,
// then the remaining failing monitors and any monitors that could not execute.
func Summarize(report domain.DataQualityReport) string {
	failing := report.FailingMonitors()
	if len(failing) == 0 {
		return "quality checks failed: report is marked as failed"
	}
	var top domain.Severity
	for _, name := range failing {
		if s := report.MonitorResults[name].MaxSeverity(); s > top {
			top = s
		}
	}
	var worst, others, broken []string
	for _, name := range failing {
		res := report.MonitorResults[name]
		sev := res.MaxSeverity()
		if sev == top {
			worst = append(worst, name)
		} else {
			others = append(others, fmt.Sprintf("%s (%s)", name, severityLabel(sev)))
		}
		if res.Failed() {
			broken = append(broken, name)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "quality checks failed: %s severity in %s", severityLabel(top), strings.Join(worst, ", "))
	if len(others) > 0 {
		fmt.Fprintf(&b, "; also failing: %s", strings.Join(others, ", "))
	}
	if len(broken) > 0 {
		fmt.Fprintf(&b, "; could not execute: %s", strings.Join(broken, ", "))
	}
	return b.String()
}

func severityLabel(s domain.Severity) string {
	if !s.Valid() {
		return "unrated"
	}
	return s.String()
}
