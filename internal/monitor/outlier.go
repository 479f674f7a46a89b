package monitor

import (
	"fmt"
	"math"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
)

// Outlier measures the share of anomalous values per numeric column.
type Outlier struct {
	base
	method    string
	threshold float64
	lower     float64
	upper     float64
	maxRatio  float64
	columns   []string
}

func NewOutlier(name string, mc config.MonitorConfig) (Monitor, error) {
	oc := mc.Outlier
	if oc == nil {
		return nil, fmt.Errorf("method is required")
	}
	o := &Outlier{
		base:    newBase(name, mc),
		method:  oc.Method,
		columns: append([]string(nil), oc.Columns...),
	}
	switch oc.Method {
	case config.MethodZScore, config.MethodIQR, config.MethodMAD:
		if oc.Threshold == nil || *oc.Threshold <= 0 {
			return nil, fmt.Errorf("method %s needs a positive threshold", oc.Method)
		}
		o.threshold = *oc.Threshold
	case config.MethodPercentile:
		if oc.LowerPercentile == nil || oc.UpperPercentile == nil {
			return nil, fmt.Errorf("method percentile needs lower_percentile and upper_percentile")
		}
		o.lower, o.upper = *oc.LowerPercentile, *oc.UpperPercentile
		if o.lower < 0 || o.upper > 100 || o.lower >= o.upper {
			return nil, fmt.Errorf("percentiles must satisfy 0 <= lower < upper <= 100")
		}
	default:
		return nil, fmt.Errorf("unknown method %q", oc.Method)
	}
	if oc.MaxOutlierRatio == nil || *oc.MaxOutlierRatio <= 0 || *oc.MaxOutlierRatio > 1 {
		return nil, fmt.Errorf("max_outlier_ratio must be in (0,1]")
	}
	o.maxRatio = *oc.MaxOutlierRatio
	return o, nil
}

func (o *Outlier) Run(ds *dataset.Dataset) (domain.MonitorResult, error) {
	columns, err := o.selectColumns(ds)
	if err != nil {
		return domain.MonitorResult{}, err
	}
	metrics := map[string]float64{}
	var alerts []domain.Alert
	for _, col := range columns {
		values := ds.Numbers(col)
		if len(values) == 0 {
			metrics[col] = 0
			continue
		}
		ratio := float64(o.flagged(values)) / float64(len(values))
		metrics[col] = ratio
		if ratio > o.maxRatio {
			alerts = append(alerts, o.alert(
				fmt.Sprintf("column %s outlier ratio %.4f exceeds %.4f (method %s)", col, ratio, o.maxRatio, o.describe()),
				[]string{col}, ptr(ratio)))
		}
	}
	return o.finish(metrics, alerts), nil
}

// selectColumns defaults to the numeric columns. Explicitly named columns must exist
// and be numeric.
func (o *Outlier) selectColumns(ds *dataset.Dataset) ([]string, error) {
	if len(o.columns) == 0 {
		var out []string
		for _, c := range ds.Columns() {
			if c.Type == dataset.ColumnNumeric {
				out = append(out, c.Name)
			}
		}
		return out, nil
	}
	for _, name := range o.columns {
		c, ok := ds.Column(name)
		if !ok {
			return nil, o.errorf("column %s not found in dataset", name)
		}
		if c.Type != dataset.ColumnNumeric {
			return nil, o.errorf("column %s is %s, outlier detection needs numeric data", name, c.Type)
		}
	}
	return o.columns, nil
}

// flagged counts infinite values as outliers and runs the method over the finite rest.
func (o *Outlier) flagged(values []float64) int {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	n := len(values) - len(finite)
	if len(finite) > 0 {
		n += o.count(finite)
	}
	return n
}

func (o *Outlier) count(values []float64) int {
	switch o.method {
	case config.MethodZScore:
		return countZScore(values, o.threshold)
	case config.MethodIQR:
		return countIQR(values, o.threshold)
	case config.MethodMAD:
		return countMAD(values, o.threshold)
	default:
		return countPercentile(values, o.lower, o.upper)
	}
}

func (o *Outlier) describe() string {
	if o.method == config.MethodPercentile {
		return fmt.Sprintf("percentile %g-%g", o.lower, o.upper)
	}
	return fmt.Sprintf("%s, threshold %g", o.method, o.threshold)
}
