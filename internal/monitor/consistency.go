package monitor

import (
	"fmt"
	"strings"

	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/domain"
)

// Consistency checks duplicate rows, unique columns and cross-column comparisons.
type Consistency struct {
	base
	duplicates       bool
	duplicateColumns []string
	uniqueColumns    []string
	constraints      []config.Constraint
}

func NewConsistency(name string, mc config.MonitorConfig) (Monitor, error) {
	cc := mc.Consistency
	if cc == nil {
		return nil, fmt.Errorf("no checks configured")
	}
	c := &Consistency{
		base:          newBase(name, mc),
		duplicates:    cc.Duplicates || len(cc.DuplicateColumns) > 0,
		uniqueColumns: append([]string(nil), cc.UniqueColumns...),
		constraints:   append([]config.Constraint(nil), cc.Constraints...),
	}
	if !(len(cc.DuplicateColumns) == 1 && cc.DuplicateColumns[0] == "*") {
		c.duplicateColumns = append([]string(nil), cc.DuplicateColumns...)
	}
	for _, con := range c.constraints {
		if len(con.Columns) != 2 {
			return nil, fmt.Errorf("constraint %s must name two columns", con.Name)
		}
		if _, ok := compareOps[con.Operator]; !ok {
			return nil, fmt.Errorf("constraint %s has unknown operator %q", con.Name, con.Operator)
		}
	}
	return c, nil
}

var compareOps = map[string]func(int) bool{
	">":  func(c int) bool { return c > 0 },
	">=": func(c int) bool { return c >= 0 },
	"<":  func(c int) bool { return c < 0 },
	"<=": func(c int) bool { return c <= 0 },
	"==": func(c int) bool { return c == 0 },
	"!=": func(c int) bool { return c != 0 },
}

func (c *Consistency) Run(ds *dataset.Dataset) (domain.MonitorResult, error) {
	if err := c.checkColumns(ds); err != nil {
		return domain.MonitorResult{}, err
	}
	metrics := map[string]float64{}
	var alerts []domain.Alert
	if c.duplicates {
		alerts = append(alerts, c.checkDuplicates(ds, metrics)...)
	}
	for _, col := range c.uniqueColumns {
		alerts = append(alerts, c.checkUnique(ds, col, metrics)...)
	}
	for _, con := range c.constraints {
		a, err := c.checkConstraint(ds, con, metrics)
		if err != nil {
			return domain.MonitorResult{}, err
		}
		alerts = append(alerts, a...)
	}
	return c.finish(metrics, alerts), nil
}

func (c *Consistency) checkColumns(ds *dataset.Dataset) error {
	var referenced []string
	referenced = append(referenced, c.duplicateColumns...)
	referenced = append(referenced, c.uniqueColumns...)
	for _, con := range c.constraints {
		referenced = append(referenced, con.Columns...)
	}
	var missing []string
	for _, col := range sortedUnique(referenced) {
		if _, ok := ds.Column(col); !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return c.errorf("columns not found in dataset: %s", strings.Join(missing, ", "))
	}
	return nil
}

type rowGroup struct {
	label string
	size  int
}

func (c *Consistency) checkDuplicates(ds *dataset.Dataset, metrics map[string]float64) []domain.Alert {
	keyCols := c.duplicateColumns
	if len(keyCols) == 0 {
		keyCols = ds.ColumnNames()
	}
	index := map[string]int{}
	var groups []rowGroup
	for i := 0; i < ds.Len(); i++ {
		keys := make([]string, len(keyCols))
		for j, col := range keyCols {
			keys[j] = ds.Value(i, col).Key()
		}
		key := strings.Join(keys, "\x1f")
		if g, ok := index[key]; ok {
			groups[g].size++
			continue
		}
		labels := make([]string, len(keyCols))
		for j, col := range keyCols {
			labels[j] = col + "=" + ds.Value(i, col).String()
		}
		index[key] = len(groups)
		groups = append(groups, rowGroup{label: strings.Join(labels, ", "), size: 1})
	}
	var alerts []domain.Alert
	dupCount, groupCount := 0, 0
	for _, g := range groups {
		if g.size < 2 {
			continue
		}
		dupCount += g.size - 1
		groupCount++
		alerts = append(alerts, c.alert(
			fmt.Sprintf("%d duplicate rows share (%s)", g.size, g.label),
			keyCols, ptr(float64(g.size))))
	}
	metrics["duplicate_count"] = float64(dupCount)
	metrics["duplicate_group_count"] = float64(groupCount)
	return alerts
}

func (c *Consistency) checkUnique(ds *dataset.Dataset, col string, metrics map[string]float64) []domain.Alert {
	counts := map[string]int{}
	for _, v := range ds.Values(col) {
		if v.IsNull() {
			continue
		}
		counts[v.Key()]++
	}
	rows, values := 0, 0
	for _, n := range counts {
		if n > 1 {
			rows += n
			values++
		}
	}
	metrics["unique_violation_count."+col] = float64(rows)
	if rows == 0 {
		return nil
	}
	return []domain.Alert{c.alert(
		fmt.Sprintf("column %s must be unique: %d rows share %d repeated values", col, rows, values),
		[]string{col}, ptr(float64(rows)))}
}

func (c *Consistency) checkConstraint(ds *dataset.Dataset, con config.Constraint, metrics map[string]float64) ([]domain.Alert, error) {
	left, right := con.Columns[0], con.Columns[1]
	lc, _ := ds.Column(left)
	rc, _ := ds.Column(right)
	if lc.Type != rc.Type {
		return nil, c.errorf("constraint %s compares %s column %s with %s column %s", con.Name, lc.Type, left, rc.Type, right)
	}
	holds := compareOps[con.Operator]
	violations, evaluated, skipped := 0, 0, 0
	for i := 0; i < ds.Len(); i++ {
		a, b := ds.Value(i, left), ds.Value(i, right)
		if a.IsNull() || b.IsNull() {
			skipped++
			continue
		}
		cmp, err := dataset.Compare(a, b)
		if err != nil {
			return nil, c.errorf("constraint %s row %d: %v", con.Name, i, err)
		}
		evaluated++
		if !holds(cmp) {
			violations++
		}
	}
	prefix := "constraint." + con.Name + "."
	metrics[prefix+"violation_count"] = float64(violations)
	metrics[prefix+"evaluated_count"] = float64(evaluated)
	metrics[prefix+"skipped_count"] = float64(skipped)
	if violations == 0 {
		return nil, nil
	}
	return []domain.Alert{c.alert(
		fmt.Sprintf("constraint %s (%s %s %s) violated by %d of %d evaluable rows", con.Name, left, con.Operator, right, violations, evaluated),
		[]string{left, right}, ptr(float64(violations)))}, nil
}
