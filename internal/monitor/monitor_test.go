package monitor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
)

func f64(v float64) *float64 { return &v }

func numericColumn(name string, values ...float64) *dataset.Dataset {
	rows := make([]dataset.Row, len(values))
	for i, v := range values {
		rows[i] = dataset.Row{name: dataset.Number(v)}
	}
	return dataset.MustNew([]dataset.Column{{Name: name, Type: dataset.ColumnNumeric}}, rows)
}

func mustBuild(t *testing.T, ctor Constructor, name string, mc config.MonitorConfig) Monitor {
	t.Helper()
	m, err := ctor(name, mc)
	require.NoError(t, err)
	return m
}

func TestCompletenessBelowThresholdFails(t *testing.T) {
	rows := make([]dataset.Row, 100)
	for i := range rows {
		rows[i] = dataset.Row{"id": dataset.Number(float64(i))}
		if i%10 != 0 {
			rows[i]["price"] = dataset.Number(9.99)
		}
	}
	ds := dataset.MustNew([]dataset.Column{
		{Name: "id", Type: dataset.ColumnNumeric},
		{Name: "price", Type: dataset.ColumnNumeric},
	}, rows)
	m := mustBuild(t, NewCompleteness, "completeness", config.MonitorConfig{
		Severity:     domain.SeverityWarning,
		FailOn:       domain.SeverityWarning,
		Completeness: &config.CompletenessConfig{Threshold: f64(0.95), Columns: []string{"price"}},
	})

	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.InDelta(t, 0.90, res.Metrics["price"], 1e-9)
	assert.InDelta(t, 0.90, res.Metrics["overall_completeness"], 1e-9)
	require.Len(t, res.Alerts, 1)
	a := res.Alerts[0]
	assert.Equal(t, domain.SeverityWarning, a.Severity)
	assert.Equal(t, []string{"price"}, a.AffectedColumns)
	require.NotNil(t, a.MetricValue)
	assert.InDelta(t, 0.90, *a.MetricValue, 1e-9)
	assert.Equal(t, res.Alerts, m.Alerts())
}

func TestCompletenessWarningPassesUnderDefaultFailOn(t *testing.T) {
	ds := dataset.MustNew([]dataset.Column{{Name: "x", Type: dataset.ColumnNumeric}}, []dataset.Row{{"x": dataset.Number(1)}, {}})
	m := mustBuild(t, NewCompleteness, "c", config.MonitorConfig{
		Severity:     domain.SeverityWarning,
		Completeness: &config.CompletenessConfig{Threshold: f64(0.9)},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 1)
	assert.True(t, res.Passed)
}

func TestCompletenessMissingColumnAndEmpty(t *testing.T) {
	ds := numericColumn("x", 1, 2)
	m := mustBuild(t, NewCompleteness, "c", config.MonitorConfig{
		Completeness: &config.CompletenessConfig{Threshold: f64(0.01), Columns: []string{"x", "ghost"}},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["ghost"])
	assert.Equal(t, 1.0, res.Metrics["x"])
	assert.Equal(t, 0.5, res.Metrics["overall_completeness"])
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, []string{"ghost"}, res.Alerts[0].AffectedColumns)
	assert.False(t, res.Passed)

	empty := dataset.MustNew([]dataset.Column{{Name: "x", Type: dataset.ColumnNumeric}}, nil)
	lenient := mustBuild(t, NewCompleteness, "c", config.MonitorConfig{
		Severity:     domain.SeverityInfo,
		Completeness: &config.CompletenessConfig{Threshold: f64(0.5)},
	})
	res, err = lenient.Run(empty)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "empty dataset", res.Alerts[0].Message)
	assert.Equal(t, domain.SeverityInfo, res.Alerts[0].Severity)
}

func TestCompletenessRatioBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(30) + 1
		rows := make([]dataset.Row, n)
		for i := range rows {
			rows[i] = dataset.Row{}
			if rng.Intn(3) > 0 {
				rows[i]["v"] = dataset.Number(rng.Float64())
			}
		}
		ds := dataset.MustNew([]dataset.Column{{Name: "v", Type: dataset.ColumnNumeric}}, rows)
		m := mustBuild(t, NewCompleteness, "c", config.MonitorConfig{
			Completeness: &config.CompletenessConfig{Threshold: f64(rng.Float64()*0.99 + 0.01)},
		})
		res, err := m.Run(ds)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Metrics["v"], 0.0)
		assert.LessOrEqual(t, res.Metrics["v"], 1.0)
		if len(ds.Numbers("v")) == 0 {
			assert.Len(t, res.Alerts, 1)
		}
	}
}

func TestOutlierSingleSpike(t *testing.T) {
	ds := numericColumn("amount", 1, 2, 2, 3, 2, 100)
	for _, tc := range []struct {
		method    string
		threshold float64
	}{
		{config.MethodZScore, 2.0},
		{config.MethodMAD, 3.0},
		{config.MethodIQR, 1.5},
	} {
		t.Run(tc.method, func(t *testing.T) {
			m := mustBuild(t, NewOutlier, "outlier", config.MonitorConfig{
				Outlier: &config.OutlierConfig{Method: tc.method, Threshold: f64(tc.threshold), MaxOutlierRatio: f64(0.05)},
			})
			res, err := m.Run(ds)
			require.NoError(t, err)
			assert.InDelta(t, 1.0/6.0, res.Metrics["amount"], 1e-9)
			require.Len(t, res.Alerts, 1)
			assert.Contains(t, res.Alerts[0].Message, tc.method)
			assert.False(t, res.Passed)
		})
	}
}

func TestOutlierZScoreAtThreeFlagsNothingForSixValues(t *testing.T) {
	// With six values the population z-score of a single extreme point is at most sqrt(5).
	ds := numericColumn("amount", 1, 2, 2, 3, 2, 100)
	m := mustBuild(t, NewOutlier, "outlier", config.MonitorConfig{
		Outlier: &config.OutlierConfig{Method: config.MethodZScore, Threshold: f64(3.0), MaxOutlierRatio: f64(0.05)},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["amount"])
	assert.True(t, res.Passed)
}

func TestOutlierPercentile(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	m := mustBuild(t, NewOutlier, "p", config.MonitorConfig{
		Outlier: &config.OutlierConfig{
			Method:          config.MethodPercentile,
			LowerPercentile: f64(5),
			UpperPercentile: f64(95),
			MaxOutlierRatio: f64(0.2),
		},
	})
	res, err := m.Run(numericColumn("v", values...))
	require.NoError(t, err)
	// P5 = 5.95 and P95 = 95.05 flag 1..5 and 96..100.
	assert.InDelta(t, 0.10, res.Metrics["v"], 1e-9)
	assert.Empty(t, res.Alerts)
}

func TestOutlierNonFinite(t *testing.T) {
	ds, err := dataset.FromRecords(
		[]dataset.Column{{Name: "v", Type: dataset.ColumnNumeric}},
		[]map[string]any{{"v": 1}, {"v": 2}, {"v": 3}, {"v": 4}, {"v": 5}, {"v": "inf"}, {"v": "-Infinity"}},
	)
	require.NoError(t, err)

	configs := map[string]*config.OutlierConfig{
		config.MethodZScore: {Method: config.MethodZScore, Threshold: f64(2), MaxOutlierRatio: f64(0.05)},
		config.MethodIQR:    {Method: config.MethodIQR, Threshold: f64(1.5), MaxOutlierRatio: f64(0.05)},
		config.MethodMAD:    {Method: config.MethodMAD, Threshold: f64(3), MaxOutlierRatio: f64(0.05)},
		config.MethodPercentile: {
			Method:          config.MethodPercentile,
			LowerPercentile: f64(0),
			UpperPercentile: f64(100),
			MaxOutlierRatio: f64(0.05),
		},
	}
	for method, oc := range configs {
		t.Run(method, func(t *testing.T) {
			m := mustBuild(t, NewOutlier, "o", config.MonitorConfig{Outlier: oc})
			res, err := m.Run(ds)
			require.NoError(t, err)
			// Only the two infinite cells are anomalous; 1..5 is unremarkable under every method.
			assert.InDelta(t, 2.0/7.0, res.Metrics["v"], 1e-9)
			assert.False(t, math.IsNaN(res.Metrics["v"]))
			require.Len(t, res.Alerts, 1)
			assert.False(t, res.Passed)
		})
	}
}

func TestOutlierInfiniteCellDoesNotHideSpike(t *testing.T) {
	m := mustBuild(t, NewOutlier, "o", config.MonitorConfig{
		Outlier: &config.OutlierConfig{Method: config.MethodZScore, Threshold: f64(2), MaxOutlierRatio: f64(0.5)},
	})
	res, err := m.Run(numericColumn("v", 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100, math.Inf(1)))
	require.NoError(t, err)
	// The spike at 100 sits above z=3 among the finite values; the infinite cell adds one more.
	assert.InDelta(t, 2.0/12.0, res.Metrics["v"], 1e-9)
	assert.True(t, res.Passed)
}

func TestOutlierDegenerateColumn(t *testing.T) {
	m := mustBuild(t, NewOutlier, "o", config.MonitorConfig{
		Outlier: &config.OutlierConfig{Method: config.MethodZScore, Threshold: f64(0.1), MaxOutlierRatio: f64(0.01)},
	})
	res, err := m.Run(numericColumn("v", 4, 4, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["v"])
	assert.True(t, res.Passed)
}

func TestOutlierColumnSelection(t *testing.T) {
	ds := dataset.MustNew([]dataset.Column{
		{Name: "price", Type: dataset.ColumnString},
		{Name: "qty", Type: dataset.ColumnNumeric},
	}, []dataset.Row{
		{"price": dataset.String("12"), "qty": dataset.Number(1)},
		{"price": dataset.String("13"), "qty": dataset.Number(2)},
	})
	auto := mustBuild(t, NewOutlier, "o", config.MonitorConfig{
		Outlier: &config.OutlierConfig{Method: config.MethodIQR, Threshold: f64(1.5), MaxOutlierRatio: f64(0.5)},
	})
	res, err := auto.Run(ds)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"qty": 0}, res.Metrics)

	explicit := mustBuild(t, NewOutlier, "o", config.MonitorConfig{
		Outlier: &config.OutlierConfig{Method: config.MethodIQR, Threshold: f64(1.5), MaxOutlierRatio: f64(0.5), Columns: []string{"price"}},
	})
	_, err = explicit.Run(ds)
	var cerr *ComputationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "o", cerr.Monitor)
	assert.Empty(t, explicit.Alerts())
}

func TestOutlierMonotonicInThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 200)
	for i := range values {
		values[i] = rng.NormFloat64()*10 + 50
		if i%17 == 0 {
			values[i] *= 4
		}
	}
	ds := numericColumn("v", values...)
	for _, method := range []string{config.MethodZScore, config.MethodIQR, config.MethodMAD} {
		prev := 2.0
		for _, threshold := range []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 8} {
			m := mustBuild(t, NewOutlier, "o", config.MonitorConfig{
				Outlier: &config.OutlierConfig{Method: method, Threshold: f64(threshold), MaxOutlierRatio: f64(1)},
			})
			res, err := m.Run(ds)
			require.NoError(t, err)
			ratio := res.Metrics["v"]
			assert.LessOrEqual(t, ratio, prev, "%s at %g", method, threshold)
			prev = ratio
		}
	}
}

func TestConsistencyUniqueColumn(t *testing.T) {
	ds := dataset.MustNew([]dataset.Column{
		{Name: "order_id", Type: dataset.ColumnNumeric},
		{Name: "sku", Type: dataset.ColumnString},
	}, []dataset.Row{
		{"order_id": dataset.Number(7), "sku": dataset.String("a")},
		{"order_id": dataset.Number(8), "sku": dataset.String("b")},
		{"order_id": dataset.Number(7), "sku": dataset.String("c")},
		{"order_id": dataset.Null(), "sku": dataset.String("d")},
		{"sku": dataset.String("e")},
	})
	m := mustBuild(t, NewConsistency, "consistency", config.MonitorConfig{
		Consistency: &config.ConsistencyConfig{UniqueColumns: []string{"order_id"}},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 2.0, res.Metrics["unique_violation_count.order_id"])
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, []string{"order_id"}, res.Alerts[0].AffectedColumns)
	assert.Equal(t, 2.0, *res.Alerts[0].MetricValue)
}

func TestConsistencyComparisonConstraint(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, 50)
	for i := range rows {
		ordered := base.Add(time.Duration(i) * time.Hour)
		delivered := ordered.Add(48 * time.Hour)
		if i < 3 {
			delivered = ordered.Add(-24 * time.Hour)
		}
		rows[i] = dataset.Row{"order_date": dataset.Time(ordered), "delivery_date": dataset.Time(delivered)}
		if i >= 48 {
			rows[i]["delivery_date"] = dataset.Null()
		}
	}
	ds := dataset.MustNew([]dataset.Column{
		{Name: "order_date", Type: dataset.ColumnTimestamp},
		{Name: "delivery_date", Type: dataset.ColumnTimestamp},
	}, rows)
	m := mustBuild(t, NewConsistency, "consistency", config.MonitorConfig{
		Consistency: &config.ConsistencyConfig{Constraints: []config.Constraint{{
			Name: "delivered_after_order", Type: "comparison",
			Columns: []string{"delivery_date", "order_date"}, Operator: ">",
		}}},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Metrics["constraint.delivered_after_order.violation_count"])
	assert.Equal(t, 48.0, res.Metrics["constraint.delivered_after_order.evaluated_count"])
	assert.Equal(t, 2.0, res.Metrics["constraint.delivered_after_order.skipped_count"])
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 3.0, *res.Alerts[0].MetricValue)
	assert.Equal(t, []string{"delivery_date", "order_date"}, res.Alerts[0].AffectedColumns)
	assert.False(t, res.Passed)
}

func TestConsistencyDuplicatesAllChecksRun(t *testing.T) {
	ds := dataset.MustNew([]dataset.Column{
		{Name: "a", Type: dataset.ColumnNumeric},
		{Name: "b", Type: dataset.ColumnString},
	}, []dataset.Row{
		{"a": dataset.Number(1), "b": dataset.String("x")},
		{"a": dataset.Number(1), "b": dataset.String("x")},
		{"a": dataset.Number(1), "b": dataset.String("x")},
		{"a": dataset.Number(2), "b": dataset.String("y")},
		{"a": dataset.Number(2), "b": dataset.String("y")},
		{"a": dataset.Number(3), "b": dataset.Null()},
		{"a": dataset.Number(3), "b": dataset.String("null")},
	})
	m := mustBuild(t, NewConsistency, "dups", config.MonitorConfig{
		Severity: domain.SeverityWarning,
		Consistency: &config.ConsistencyConfig{
			DuplicateColumns: []string{"*"},
			UniqueColumns:    []string{"b"},
			Constraints:      []config.Constraint{{Name: "positive", Columns: []string{"a", "a"}, Operator: ">="}},
		},
	})
	res, err := m.Run(ds)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Metrics["duplicate_count"])
	assert.Equal(t, 2.0, res.Metrics["duplicate_group_count"])
	assert.Equal(t, 5.0, res.Metrics["unique_violation_count.b"])
	assert.Equal(t, 0.0, res.Metrics["constraint.positive.violation_count"])
	require.Len(t, res.Alerts, 3)
	assert.Contains(t, res.Alerts[0].Message, "3 duplicate rows")
	assert.Equal(t, []string{"a", "b"}, res.Alerts[0].AffectedColumns)
	assert.True(t, res.Passed, "warnings stay below the default fail_on")
}

func TestConsistencyComputationErrors(t *testing.T) {
	ds := dataset.MustNew([]dataset.Column{
		{Name: "n", Type: dataset.ColumnNumeric},
		{Name: "s", Type: dataset.ColumnString},
	}, []dataset.Row{{"n": dataset.Number(1), "s": dataset.String("a")}})

	missing := mustBuild(t, NewConsistency, "c", config.MonitorConfig{
		Consistency: &config.ConsistencyConfig{UniqueColumns: []string{"ghost"}},
	})
	_, err := missing.Run(ds)
	var cerr *ComputationError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "ghost")

	mismatch := mustBuild(t, NewConsistency, "c", config.MonitorConfig{
		Consistency: &config.ConsistencyConfig{Constraints: []config.Constraint{{Name: "x", Columns: []string{"n", "s"}, Operator: "<"}}},
	})
	_, err = mismatch.Run(ds)
	require.ErrorAs(t, err, &cerr)
}

func TestRunIsIdempotent(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
output_dir: out
monitors:
  completeness:
    threshold: 0.99
  outlier:
    method: iqr
    threshold: 1.0
    max_outlier_ratio: 0.01
  consistency:
    duplicates: true
    unique_columns: [v]
`))
	require.NoError(t, err)
	monitors, err := DefaultRegistry().Build(cfg)
	require.NoError(t, err)
	require.Len(t, monitors, 3)

	ds := dataset.MustNew([]dataset.Column{{Name: "v", Type: dataset.ColumnNumeric}}, []dataset.Row{
		{"v": dataset.Number(1)}, {"v": dataset.Number(1)}, {}, {"v": dataset.Number(50)}, {"v": dataset.Number(2)},
	})
	for _, m := range monitors {
		first, err := m.Run(ds)
		require.NoError(t, err)
		second, err := m.Run(ds)
		require.NoError(t, err)
		assert.Equal(t, first, second, m.Name())
		assert.Equal(t, second.Alerts, m.Alerts())
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	cfg := &config.Config{OutputDir: "out", Monitors: map[string]config.MonitorConfig{
		"freshness": {},
		"volume":    {Type: "row_count"},
	}}
	_, err := DefaultRegistry().Build(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)
	assert.Equal(t, []string{"completeness", "consistency", "outlier"}, DefaultRegistry().Kinds())
}
