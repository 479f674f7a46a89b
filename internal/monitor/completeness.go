package monitor

import (
	"fmt"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
)

// Completeness measures the share of non-null cells per column.
type Completeness struct {
	base
	threshold float64
	columns   []string
}

func NewCompleteness(name string, mc config.MonitorConfig) (Monitor, error) {
	cc := mc.Completeness
	if cc == nil || cc.Threshold == nil {
		return nil, fmt.Errorf("threshold is required")
	}
	if *cc.Threshold <= 0 || *cc.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0,1], got %g", *cc.Threshold)
	}
	return &Completeness{
		base:      newBase(name, mc),
		threshold: *cc.Threshold,
		columns:   append([]string(nil), cc.Columns...),
	}, nil
}

func (c *Completeness) Run(ds *dataset.Dataset) (domain.MonitorResult, error) {
	metrics := map[string]float64{}
	if ds.Len() == 0 {
		res := c.finish(metrics, []domain.Alert{c.alert("empty dataset", nil, nil)})
		res.Passed = false
		return res, nil
	}
	columns := c.columns
	if len(columns) == 0 {
		columns = ds.ColumnNames()
	}
	var alerts []domain.Alert
	var sum float64
	for _, col := range columns {
		ratio := 0.0
		if _, ok := ds.Column(col); ok {
			nulls := 0
			for _, v := range ds.Values(col) {
				if v.IsNull() {
					nulls++
				}
			}
			ratio = 1 - float64(nulls)/float64(ds.Len())
		}
		metrics[col] = ratio
		sum += ratio
		if ratio < c.threshold {
			alerts = append(alerts, c.alert(
				fmt.Sprintf("column %s completeness %.4f is below threshold %.4f", col, ratio, c.threshold),
				[]string{col}, ptr(ratio)))
		}
	}
	overall := 1.0
	if len(columns) > 0 {
		overall = sum / float64(len(columns))
	}
	metrics["overall_completeness"] = overall
	return c.finish(metrics, alerts), nil
}
