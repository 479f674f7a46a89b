package gate

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"qualitygate/internal/domain"
)

func failingReport() domain.DataQualityReport {
	return domain.DataQualityReport{
		RunID: "run-9",
		MonitorResults: map[string]domain.MonitorResult{
			"completeness": {MonitorName: "completeness", Passed: false, Alerts: []domain.Alert{{Severity: domain.SeverityWarning}}},
			"outlier": {MonitorName: "outlier", Passed: false, Error: "column price is string",
				Alerts: []domain.Alert{{Severity: domain.SeverityCritical}}},
			"consistency": {MonitorName: "consistency", Passed: true},
		},
		OverallPassed: false,
		MaxSeverity:   domain.SeverityCritical,
	}
}

func TestPassedIsAdmitted(t *testing.T) {
	d := Evaluate(domain.DataQualityReport{RunID: "r", OverallPassed: true}, false)
	assert.Equal(t, Decision{Admitted: true, Reason: ReasonPassed, ReportRef: "r"}, d)
}

func TestDeniedReasonNamesWorstMonitors(t *testing.T) {
	d := Evaluate(failingReport(), false)
	assert.False(t, d.Admitted)
	assert.False(t, d.Override)
	assert.Equal(t, "run-9", d.ReportRef)
	assert.Equal(t,
		"quality checks failed: critical severity in outlier; also failing: completeness (warning); could not execute: outlier",
		d.Reason)
}

func TestOverrideAdmitsAndRecords(t *testing.T) {
	r := failingReport()
	d := Evaluate(r, true)
	assert.True(t, d.Admitted)
	assert.True(t, d.Override)
	assert.True(t, strings.HasPrefix(d.Reason, "admitted under override; quality checks failed"))
	assert.Equal(t, failingReport(), r, "report is left untouched")

	passed := Evaluate(domain.DataQualityReport{OverallPassed: true}, true)
	assert.False(t, passed.Override)
}

func TestGateCorrectnessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	names := []string{"a", "b", "c", "d"}
	for i := 0; i < 200; i++ {
		r := domain.DataQualityReport{MonitorResults: map[string]domain.MonitorResult{}}
		r.OverallPassed = true
		for _, n := range names[:rng.Intn(len(names))+1] {
			res := domain.MonitorResult{MonitorName: n, Passed: rng.Intn(3) > 0}
			if !res.Passed {
				res.Alerts = []domain.Alert{{Severity: domain.Severity(rng.Intn(4) + 1)}}
				r.OverallPassed = false
			}
			r.MonitorResults[n] = res
		}
		denied := Evaluate(r, false)
		assert.Equal(t, r.OverallPassed, denied.Admitted)
		assert.NotEmpty(t, denied.Reason)
		assert.True(t, Evaluate(r, true).Admitted)
	}
}
