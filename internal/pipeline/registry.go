package pipeline

import (
	"fmt"
	"sort"

	"grafema/internal/logging"
)

// Registry holds registered plugins and computes their execution plan.
// Configuration errors (duplicate names, missing or cyclic
// dependencies, dependencies on later phases) are reported by Plan
// before any plugin executes.
type Registry struct {
	plugins map[string]Plugin
	order   []string // registration order, for deterministic iteration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin, validating its metadata.
func (r *Registry) Register(p Plugin) error {
	meta := p.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if meta.Phase < PhaseDiscovery || meta.Phase > PhaseValidation {
		return fmt.Errorf("plugin %q declares invalid phase %d", meta.Name, int(meta.Phase))
	}
	if _, exists := r.plugins[meta.Name]; exists {
		return fmt.Errorf("plugin %q registered twice", meta.Name)
	}

	r.plugins[meta.Name] = p
	r.order = append(r.order, meta.Name)
	logging.PipelineDebug("Registered plugin %s (phase=%s priority=%d deps=%v)",
		meta.Name, meta.Phase, meta.Priority, meta.Dependencies)
	return nil
}

// Wave is a set of plugins with no dependency relationship among them;
// members of one wave may run concurrently.
type Wave []Plugin

// Plan computes, per phase, the ordered waves of plugins. It fails on
// unknown dependencies, dependencies pointing at a later phase, and
// dependency cycles - all before execution starts.
func (r *Registry) Plan() (map[Phase][]Wave, error) {
	// Validate dependency references and phase ordering first.
	for _, name := range r.order {
		meta := r.plugins[name].Metadata()
		for _, dep := range meta.Dependencies {
			depPlugin, ok := r.plugins[dep]
			if !ok {
				return nil, fmt.Errorf("plugin %q depends on unregistered plugin %q", name, dep)
			}
			if depPlugin.Metadata().Phase > meta.Phase {
				return nil, fmt.Errorf("plugin %q (phase %s) depends on %q scheduled in later phase %s",
					name, meta.Phase, dep, depPlugin.Metadata().Phase)
			}
		}
	}

	if err := r.checkCycles(); err != nil {
		return nil, err
	}

	plan := make(map[Phase][]Wave)
	for _, phase := range Phases() {
		waves, err := r.phaseWaves(phase)
		if err != nil {
			return nil, err
		}
		if len(waves) > 0 {
			plan[phase] = waves
		}
	}
	return plan, nil
}

// phaseWaves levels the plugins of one phase by their same-phase
// dependencies. Cross-phase dependencies are satisfied by phase
// ordering and do not affect leveling.
func (r *Registry) phaseWaves(phase Phase) ([]Wave, error) {
	var names []string
	for _, name := range r.order {
		if r.plugins[name].Metadata().Phase == phase {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	inPhase := make(map[string]bool, len(names))
	for _, n := range names {
		inPhase[n] = true
	}

	levels := make(map[string]int, len(names))
	var level func(name string, trail map[string]bool) (int, error)
	level = func(name string, trail map[string]bool) (int, error) {
		if lv, done := levels[name]; done {
			return lv, nil
		}
		if trail[name] {
			return 0, fmt.Errorf("dependency cycle through plugin %q", name)
		}
		trail[name] = true
		defer delete(trail, name)

		lv := 0
		for _, dep := range r.plugins[name].Metadata().Dependencies {
			if !inPhase[dep] {
				continue
			}
			depLv, err := level(dep, trail)
			if err != nil {
				return 0, err
			}
			if depLv+1 > lv {
				lv = depLv + 1
			}
		}
		levels[name] = lv
		return lv, nil
	}

	maxLevel := 0
	for _, n := range names {
		lv, err := level(n, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if lv > maxLevel {
			maxLevel = lv
		}
	}

	waves := make([]Wave, maxLevel+1)
	for _, n := range names {
		waves[levels[n]] = append(waves[levels[n]], r.plugins[n])
	}
	for _, w := range waves {
		sort.Slice(w, func(i, j int) bool {
			mi, mj := w[i].Metadata(), w[j].Metadata()
			if mi.Priority != mj.Priority {
				return mi.Priority < mj.Priority
			}
			return mi.Name < mj.Name
		})
	}
	return waves, nil
}

// checkCycles runs DFS over the full cross-phase dependency graph.
func (r *Registry) checkCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(r.plugins))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("dependency cycle through plugin %q", name)
		case black:
			return nil
		}
		color[name] = grey
		for _, dep := range r.plugins[name].Metadata().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue // reported by Plan already
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, name := range r.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}
