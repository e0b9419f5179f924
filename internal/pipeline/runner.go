package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"grafema/internal/config"
	"grafema/internal/graph"
	"grafema/internal/logging"
)

// PhaseTiming records how long one phase took.
type PhaseTiming struct {
	Phase    Phase         `json:"phase"`
	Duration time.Duration `json:"duration"`
	Plugins  int           `json:"plugins"`
}

// Summary is the result of a full pipeline run.
type Summary struct {
	RunID     string        `json:"runId"`
	NodeCount int           `json:"nodeCount"`
	EdgeCount int           `json:"edgeCount"`
	PerPhase  []PhaseTiming `json:"perPhase"`
	Issues    []string      `json:"issues,omitempty"`

	// Partial marks a run aborted by a plugin failure. The graph is in
	// a "partial, do not query" state; FailedPlugin and FailedPhase say
	// which plugin aborted it.
	Partial      bool   `json:"partial"`
	FailedPlugin string `json:"failedPlugin,omitempty"`
	FailedPhase  string `json:"failedPhase,omitempty"`
}

// PluginError wraps an unrecoverable plugin failure with its origin.
type PluginError struct {
	Plugin string
	Phase  Phase
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q failed in phase %s: %v", e.Plugin, e.Phase, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Runner executes a registry's plan against a store. Phases run
// strictly sequentially; within a phase, plugins of one wave run
// concurrently while waves respect declared dependencies.
type Runner struct {
	registry *Registry
	store    graph.Store
	cfg      *config.Config
}

// NewRunner builds a runner over the given registry, store and config.
func NewRunner(registry *Registry, store graph.Store, cfg *config.Config) *Runner {
	return &Runner{registry: registry, store: store, cfg: cfg}
}

// Run executes the full pipeline and returns its summary. A plugin
// failure aborts the run; the returned summary has Partial set and the
// error is a *PluginError naming the offender.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	plan, err := r.registry.Plan()
	if err != nil {
		return nil, fmt.Errorf("pipeline configuration: %w", err)
	}

	summary := &Summary{RunID: uuid.NewString()}
	pending := graph.NewPendingLinks()

	logging.Pipeline("Run %s starting (%d plugins)", summary.RunID, len(r.registry.Plugins()))

	for _, phase := range Phases() {
		waves := plan[phase]
		if len(waves) == 0 {
			continue
		}

		timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("phase %s", phase))
		phaseStart := time.Now()
		pluginCount := 0

		for _, wave := range waves {
			pluginCount += len(wave)
			if err := r.runWave(ctx, phase, wave, pending, summary); err != nil {
				timer.Stop()
				summary.Partial = true
				// runWave failures are always *PluginError.
				var perr *PluginError
				if !errors.As(err, &perr) {
					perr = &PluginError{Phase: phase, Err: err}
				}
				summary.FailedPlugin = perr.Plugin
				summary.FailedPhase = phase.String()
				summary.NodeCount = r.store.NodeCount()
				summary.EdgeCount = r.store.EdgeCount()
				logging.Get(logging.CategoryPipeline).Error("Run %s aborted: %v", summary.RunID, perr)
				return summary, perr
			}
		}

		summary.PerPhase = append(summary.PerPhase, PhaseTiming{
			Phase:    phase,
			Duration: time.Since(phaseStart),
			Plugins:  pluginCount,
		})
		timer.Stop()
	}

	if n := pending.Len(); n > 0 {
		logging.Get(logging.CategoryPipeline).Warn(
			"Run %s finished with %d pending links no resolver consumed (kinds: %v)",
			summary.RunID, n, pending.Kinds())
	}

	summary.NodeCount = r.store.NodeCount()
	summary.EdgeCount = r.store.EdgeCount()
	logging.Pipeline("Run %s complete: %d nodes, %d edges, %d issues",
		summary.RunID, summary.NodeCount, summary.EdgeCount, len(summary.Issues))
	return summary, nil
}

// runWave executes one wave of independent plugins concurrently.
func (r *Runner) runWave(ctx context.Context, phase Phase, wave Wave, pending *graph.PendingLinks, summary *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]Result, len(wave))

	for i, plugin := range wave {
		i, plugin := i, plugin
		g.Go(func() error {
			meta := plugin.Metadata()
			pc := &Context{
				Store:   r.store,
				Pending: pending,
				Config:  r.cfg,
				RunID:   summary.RunID,
				Phase:   phase,
			}
			timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("plugin %s", meta.Name))
			res, err := plugin.Execute(gctx, pc)
			timer.Stop()
			if err != nil {
				return &PluginError{Plugin: meta.Name, Phase: phase, Err: err}
			}
			results[i] = res
			logging.PipelineDebug("Plugin %s: %d nodes, %d edges, %d issues",
				meta.Name, res.NodesCreated, res.EdgesCreated, len(res.IssueIDs))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, res := range results {
		summary.Issues = append(summary.Issues, res.IssueIDs...)
	}
	return nil
}
