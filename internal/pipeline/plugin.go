// Package pipeline orchestrates the five-phase plugin pipeline that
// builds the Grafema property graph: DISCOVERY locates entry points,
// INDEXING creates lightweight module nodes, ANALYSIS produces nodes,
// edges and forward-registered references, ENRICHMENT resolves those
// references into edges, VALIDATION runs guarantees.
//
// Plugins are the one extensibility surface: a new language or
// infrastructure tool is a new plugin, zero core changes.
package pipeline

import (
	"context"
	"fmt"

	"grafema/internal/config"
	"grafema/internal/graph"
)

// Phase is one of the five ordered pipeline phases.
type Phase int

const (
	PhaseDiscovery Phase = iota
	PhaseIndexing
	PhaseAnalysis
	PhaseEnrichment
	PhaseValidation
)

// Phases lists all phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseDiscovery, PhaseIndexing, PhaseAnalysis, PhaseEnrichment, PhaseValidation}
}

// String returns the canonical phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDiscovery:
		return "DISCOVERY"
	case PhaseIndexing:
		return "INDEXING"
	case PhaseAnalysis:
		return "ANALYSIS"
	case PhaseEnrichment:
		return "ENRICHMENT"
	case PhaseValidation:
		return "VALIDATION"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// ParsePhase converts a phase name to a Phase, validating at
// registration time rather than trusting strings at runtime.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "DISCOVERY":
		return PhaseDiscovery, nil
	case "INDEXING":
		return PhaseIndexing, nil
	case "ANALYSIS":
		return PhaseAnalysis, nil
	case "ENRICHMENT":
		return PhaseEnrichment, nil
	case "VALIDATION":
		return PhaseValidation, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}

// Metadata is the static declaration every plugin registers with.
type Metadata struct {
	Name  string
	Phase Phase

	// Priority orders plugins within a dependency level; lower runs
	// first.
	Priority int

	// Dependencies names plugins that must have completed before this
	// one runs. A dependency may live in an earlier phase; it may never
	// live in a later one.
	Dependencies []string

	// CreatesNodes / CreatesEdges document (and optionally validate)
	// the types this plugin produces.
	CreatesNodes []string
	CreatesEdges []string
}

// Context is the phase-scoped execution environment handed to each
// plugin. The Store is the only shared mutable resource.
type Context struct {
	Store   graph.Store
	Pending *graph.PendingLinks
	Config  *config.Config
	RunID   string
	Phase   Phase
}

// Result summarizes what a plugin produced.
type Result struct {
	NodesCreated int
	EdgesCreated int
	// IssueIDs lists ISSUE nodes the plugin materialized for
	// resolutions it could not complete.
	IssueIDs []string
}

// Merge accumulates another result into r.
func (r *Result) Merge(other Result) {
	r.NodesCreated += other.NodesCreated
	r.EdgesCreated += other.EdgesCreated
	r.IssueIDs = append(r.IssueIDs, other.IssueIDs...)
}

// Plugin is the contract every analyzer, enricher and validator
// implements.
type Plugin interface {
	Metadata() Metadata
	Execute(ctx context.Context, pc *Context) (Result, error)
}
