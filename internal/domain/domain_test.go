package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, SeverityInfo, SeverityWarning)
	assert.Less(t, SeverityWarning, SeverityError)
	assert.Less(t, SeverityError, SeverityCritical)
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{
		"info":     SeverityInfo,
		"WARNING":  SeverityWarning,
		"warn":     SeverityWarning,
		" error ":  SeverityError,
		"Critical": SeverityCritical,
	} {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestSeverityTextEncoding(t *testing.T) {
	b, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityCritical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"critical"}`, string(b))

	var decoded struct {
		S Severity `yaml:"s"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("s: warning\n"), &decoded))
	assert.Equal(t, SeverityWarning, decoded.S)

	_, err = json.Marshal(Severity(0))
	assert.Error(t, err)
}

func TestReportHelpers(t *testing.T) {
	r := DataQualityReport{
		MonitorResults: map[string]MonitorResult{
			"outlier": {MonitorName: "outlier", Passed: false, Alerts: []Alert{
				{MonitorName: "outlier", Severity: SeverityError, Message: "b"},
			}},
			"completeness": {MonitorName: "completeness", Passed: true, Alerts: []Alert{
				{MonitorName: "completeness", Severity: SeverityInfo, Message: "a"},
			}},
		},
	}
	assert.Equal(t, []string{"completeness", "outlier"}, r.MonitorNames())
	assert.Equal(t, []string{"outlier"}, r.FailingMonitors())
	alerts := r.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "a", alerts[0].Message)
	assert.Equal(t, "b", alerts[1].Message)
	assert.Equal(t, SeverityError, r.MonitorResults["outlier"].MaxSeverity())
}
