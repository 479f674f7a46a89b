package monitor

import (
	"fmt"
	"sort"
	"strings"

	"qualitygate/internal/config"
)

// Constructor builds a monitor for the config entry called name.
type Constructor func(name string, mc config.MonitorConfig) (Monitor, error)

// Registry maps monitor kinds to constructors.
type Registry struct {
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: map[string]Constructor{}}
}

// DefaultRegistry knows the built-in completeness, outlier and consistency kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.KindCompleteness, NewCompleteness)
	r.Register(config.KindOutlier, NewOutlier)
	r.Register(config.KindConsistency, NewConsistency)
	return r
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind string, c Constructor) {
	r.ctors[kind] = c
}

func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs every configured monitor in name order. Unknown kinds and
// constructor failures are reported together as a *config.ValidationError.
func (r *Registry) Build(cfg *config.Config) ([]Monitor, error) {
	var problems []string
	monitors := make([]Monitor, 0, len(cfg.Monitors))
	for _, name := range cfg.MonitorNames() {
		mc := cfg.Monitors[name]
		kind := mc.Kind(name)
		ctor, ok := r.ctors[kind]
		if !ok {
			problems = append(problems, fmt.Sprintf("monitors.%s: unknown monitor type %q (known: %s)", name, kind, strings.Join(r.Kinds(), ", ")))
			continue
		}
		m, err := ctor(name, mc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("monitors.%s: %v", name, err))
			continue
		}
		monitors = append(monitors, m)
	}
	if len(problems) > 0 {
		return nil, &config.ValidationError{Problems: problems}
	}
	return monitors, nil
}
