package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"qualitygate/internal/domain"
)

// FileName is the config file looked up in a workspace directory.
const FileName = "quality.yml"

// Monitor kinds understood by the built-in registry.
const (
	KindCompleteness = "completeness"
	KindOutlier      = "outlier"
	KindConsistency  = "consistency"
)

// Outlier detection methods.
const (
	MethodZScore     = "zscore"
	MethodIQR        = "iqr"
	MethodPercentile = "percentile"
	MethodMAD        = "mad"
)

// Webhook event types a hook may subscribe to.
const (
	EventCheckPassed   = "check.passed"
	EventCheckDenied   = "check.denied"
	EventCheckOverride = "check.override"
)

var webhookEvents = []string{EventCheckPassed, EventCheckDenied, EventCheckOverride}

var ErrInvalid = errors.New("invalid config")

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Invalid builds a ValidationError from a single problem.
func Invalid(format string, args ...any) error {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// Config models quality.yml.
type Config struct {
	OutputDir  string                   `yaml:"output_dir"`
	RunTimeout time.Duration            `yaml:"run_timeout,omitempty"`
	Monitors   map[string]MonitorConfig `yaml:"monitors"`
	Notify     Notify                   `yaml:"notify,omitempty"`
	Schedule   Schedule                 `yaml:"schedule,omitempty"`
}

// MonitorConfig is one entry under monitors. Type selects the monitor kind and
// defaults to the entry name. Exactly one of the kind sections is set after FromYAML.
type MonitorConfig struct {
	Type     string          `yaml:"type,omitempty"`
	Severity domain.Severity `yaml:"severity,omitempty"`
	FailOn   domain.Severity `yaml:"fail_on,omitempty"`

	Completeness *CompletenessConfig `yaml:"-"`
	Outlier      *OutlierConfig      `yaml:"-"`
	Consistency  *ConsistencyConfig  `yaml:"-"`

	raw *yaml.Node
}

type CompletenessConfig struct {
	Threshold *float64 `yaml:"threshold"`
	Columns   []string `yaml:"columns,omitempty"`
}

type OutlierConfig struct {
	Method          string   `yaml:"method"`
	Threshold       *float64 `yaml:"threshold,omitempty"`
	LowerPercentile *float64 `yaml:"lower_percentile,omitempty"`
	UpperPercentile *float64 `yaml:"upper_percentile,omitempty"`
	MaxOutlierRatio *float64 `yaml:"max_outlier_ratio"`
	Columns         []string `yaml:"columns,omitempty"`
}

type ConsistencyConfig struct {
	// Duplicates checks whole-row duplicates when DuplicateColumns is empty.
	Duplicates       bool         `yaml:"duplicates,omitempty"`
	DuplicateColumns []string     `yaml:"duplicate_columns,omitempty"`
	UniqueColumns    []string     `yaml:"unique_columns,omitempty"`
	Constraints      []Constraint `yaml:"constraints,omitempty"`
}

type Constraint struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type,omitempty"`
	Columns  []string `yaml:"columns"`
	Operator string   `yaml:"operator"`
}

var Operators = []string{">", ">=", "<", "<=", "==", "!="}

type Notify struct {
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string          `yaml:"url"`
	Secret         string          `yaml:"secret,omitempty"`
	MinSeverity    domain.Severity `yaml:"min_severity,omitempty"`
	OnlyOnFailure  bool            `yaml:"only_on_failure,omitempty"`
	Events         []string        `yaml:"events,omitempty"`
	TimeoutSeconds int             `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool           `yaml:"enabled,omitempty"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type Schedule struct {
	Cron     string        `yaml:"cron,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// CronParser accepts six-field specs (with seconds) and descriptors like @hourly.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// UnmarshalYAML decodes the shared keys and keeps the node so the kind section can be
// decoded strictly once the kind is known.
func (m *MonitorConfig) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type     string          `yaml:"type"`
		Severity domain.Severity `yaml:"severity"`
		FailOn   domain.Severity `yaml:"fail_on"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	m.Type = head.Type
	m.Severity = head.Severity
	m.FailOn = head.FailOn
	m.raw = value
	return nil
}

// Kind returns the monitor kind for the entry called name.
func (m MonitorConfig) Kind(name string) string {
	if m.Type != "" {
		return m.Type
	}
	return name
}

// EffectiveSeverity is the severity of the alerts the monitor emits.
func (m MonitorConfig) EffectiveSeverity() domain.Severity {
	if m.Severity == 0 {
		return domain.SeverityError
	}
	return m.Severity
}

// EffectiveFailOn is the lowest alert severity that fails the monitor.
func (m MonitorConfig) EffectiveFailOn() domain.Severity {
	if m.FailOn == 0 {
		return domain.SeverityError
	}
	return m.FailOn
}

// Decode decodes the raw monitor section into out. Monitors registered outside the
// built-in kinds use it to read their own settings.
func (m MonitorConfig) Decode(out any) error {
	if m.raw == nil {
		return nil
	}
	return m.raw.Decode(out)
}

// MonitorNames returns configured monitor names in sorted order.
func (c *Config) MonitorNames() []string {
	names := make([]string, 0, len(c.Monitors))
	for name := range c.Monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks structure and every safety threshold. Unknown monitor kinds are left
// to the registry.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		add("output_dir is required")
	}
	if c.RunTimeout < 0 {
		add("run_timeout must not be negative")
	}
	if len(c.Monitors) == 0 {
		add("monitors must name at least one monitor")
	}
	for _, name := range c.MonitorNames() {
		m := c.Monitors[name]
		prefix := "monitors." + name
		if strings.TrimSpace(name) == "" {
			add("monitors contains an empty name")
		}
		if m.Severity != 0 && !m.Severity.Valid() {
			add("%s.severity is invalid", prefix)
		}
		if m.FailOn != 0 && !m.FailOn.Valid() {
			add("%s.fail_on is invalid", prefix)
		}
		switch m.Kind(name) {
		case KindCompleteness:
			validateCompleteness(prefix, m.Completeness, add)
		case KindOutlier:
			validateOutlier(prefix, m.Outlier, add)
		case KindConsistency:
			validateConsistency(prefix, m.Consistency, add)
		}
	}
	for i, w := range c.Notify.Webhooks {
		prefix := fmt.Sprintf("notify.webhooks[%d]", i)
		u, err := url.Parse(w.URL)
		if w.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("%s.url must be an absolute http(s) URL", prefix)
		}
		if w.MinSeverity != 0 && !w.MinSeverity.Valid() {
			add("%s.min_severity is invalid", prefix)
		}
		if w.TimeoutSeconds < 0 {
			add("%s.timeout_seconds must not be negative", prefix)
		}
		for j, evt := range w.Events {
			if !isWebhookEvent(strings.TrimSpace(evt)) {
				add("%s.events[%d] %q is not one of %s", prefix, j, evt, strings.Join(webhookEvents, ", "))
			}
		}
	}
	if c.Schedule.Cron != "" {
		if _, err := CronParser.Parse(c.Schedule.Cron); err != nil {
			add("schedule.cron: %v", err)
		}
	}
	if c.Schedule.Debounce < 0 {
		add("schedule.debounce must not be negative")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateCompleteness(prefix string, cc *CompletenessConfig, add func(string, ...any)) {
	if cc == nil || cc.Threshold == nil {
		add("%s.threshold is required", prefix)
		return
	}
	if t := *cc.Threshold; t <= 0 || t > 1 {
		add("%s.threshold must be in (0,1], got %g", prefix, t)
	}
	validateColumnList(prefix+".columns", cc.Columns, add)
}

func validateOutlier(prefix string, oc *OutlierConfig, add func(string, ...any)) {
	if oc == nil {
		add("%s.method is required", prefix)
		add("%s.max_outlier_ratio is required", prefix)
		return
	}
	switch oc.Method {
	case MethodZScore, MethodIQR, MethodMAD:
		if oc.Threshold == nil {
			add("%s.threshold is required for method %s", prefix, oc.Method)
		} else if *oc.Threshold <= 0 {
			add("%s.threshold must be positive, got %g", prefix, *oc.Threshold)
		}
	case MethodPercentile:
		lo, hi := oc.LowerPercentile, oc.UpperPercentile
		if lo == nil || hi == nil {
			add("%s.lower_percentile and upper_percentile are required for method percentile", prefix)
		} else if *lo < 0 || *hi > 100 || *lo >= *hi {
			add("%s percentiles must satisfy 0 <= lower < upper <= 100, got %g and %g", prefix, *lo, *hi)
		}
	case "":
		add("%s.method is required", prefix)
	default:
		add("%s.method %q is not one of zscore, iqr, percentile, mad", prefix, oc.Method)
	}
	if oc.MaxOutlierRatio == nil {
		add("%s.max_outlier_ratio is required", prefix)
	} else if r := *oc.MaxOutlierRatio; r <= 0 || r > 1 {
		add("%s.max_outlier_ratio must be in (0,1], got %g", prefix, r)
	}
	validateColumnList(prefix+".columns", oc.Columns, add)
}

func validateConsistency(prefix string, cc *ConsistencyConfig, add func(string, ...any)) {
	if cc == nil || (!cc.Duplicates && len(cc.DuplicateColumns) == 0 && len(cc.UniqueColumns) == 0 && len(cc.Constraints) == 0) {
		add("%s has no checks configured", prefix)
		return
	}
	if !(len(cc.DuplicateColumns) == 1 && cc.DuplicateColumns[0] == "*") {
		validateColumnList(prefix+".duplicate_columns", cc.DuplicateColumns, add)
	}
	validateColumnList(prefix+".unique_columns", cc.UniqueColumns, add)
	seen := map[string]bool{}
	for i, con := range cc.Constraints {
		cp := fmt.Sprintf("%s.constraints[%d]", prefix, i)
		if con.Name == "" {
			add("%s.name is required", cp)
		} else if seen[con.Name] {
			add("%s.name %s is duplicated", cp, con.Name)
		}
		seen[con.Name] = true
		if con.Type != "" && con.Type != "comparison" {
			add("%s.type %q is not supported", cp, con.Type)
		}
		if len(con.Columns) != 2 || con.Columns[0] == "" || con.Columns[1] == "" {
			add("%s.columns must name exactly two columns", cp)
		}
		if !validOperator(con.Operator) {
			add("%s.operator %q is not one of %s", cp, con.Operator, strings.Join(Operators, " "))
		}
	}
}

func validateColumnList(path string, cols []string, add func(string, ...any)) {
	seen := map[string]bool{}
	for _, c := range cols {
		if strings.TrimSpace(c) == "" {
			add("%s contains an empty column name", path)
			continue
		}
		if seen[c] {
			add("%s lists %s twice", path, c)
		}
		seen[c] = true
	}
}

func validOperator(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// resolve decodes each built-in monitor section strictly, rejecting unknown keys.
func (c *Config) resolve() error {
	var problems []string
	for _, name := range c.MonitorNames() {
		m := c.Monitors[name]
		if m.Type == "" {
			m.Type = name
		}
		var err error
		switch m.Type {
		case KindCompleteness:
			m.Completeness, err = decodeKind[CompletenessConfig](m.raw)
		case KindOutlier:
			m.Outlier, err = decodeKind[OutlierConfig](m.raw)
		case KindConsistency:
			m.Consistency, err = decodeKind[ConsistencyConfig](m.raw)
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("monitors.%s: %v", name, err))
		}
		c.Monitors[name] = m
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func decodeKind[T any](node *yaml.Node) (*T, error) {
	var section struct {
		Type     string          `yaml:"type"`
		Severity domain.Severity `yaml:"severity"`
		FailOn   domain.Severity `yaml:"fail_on"`
		Body     T               `yaml:",inline"`
	}
	if node == nil {
		return &section.Body, nil
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&section); err != nil {
		return nil, err
	}
	return &section.Body, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalid, err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with qg config init > %s", path, FileName)
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the starter config YAML.
func GenerateDefault(outputDir string) string {
	return fmt.Sprintf(defaultTemplate, outputDir)
}

// Default returns the parsed starter config.
func Default(outputDir string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(outputDir)))
	if err != nil {
		panic(err)
	}
	return cfg
}

const defaultTemplate = `output_dir: %s

monitors:
  completeness:
    threshold: 0.95
    severity: warning
    fail_on: warning

  outlier:
    method: iqr
    threshold: 1.5
    max_outlier_ratio: 0.05
    severity: warning

  consistency:
    duplicates: true
    severity: error
`

func isWebhookEvent(evt string) bool {
	for _, known := range webhookEvents {
		if evt == known {
			return true
		}
	}
	return false
}
