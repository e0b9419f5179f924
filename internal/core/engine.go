// Package core wires the pieces into one engine: configuration, the
// persistent graph store, the plugin pipeline, the traversal engine
// and the guarantee engine behind a single facade the CLI talks to.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grafema/internal/config"
	"grafema/internal/enrich"
	"grafema/internal/graph"
	"grafema/internal/guarantee"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
	"grafema/internal/scan"
	"grafema/internal/store"
	"grafema/internal/traverse"
)

// ErrNotReady is returned for queries while the graph is being built
// or after a partial run left it inconsistent.
var ErrNotReady = errors.New("graph is not ready; run analyze first")

// Stats summarizes graph contents for reporting.
type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByType map[string]int `json:"nodesByType"`
	EdgesByType map[string]int `json:"edgesByType"`
}

// Engine is the top-level Grafema facade.
type Engine struct {
	cfg        *config.Config
	store      graph.Store
	db         *store.SQLiteStore // nil when running purely in memory
	registry   *pipeline.Registry
	guarantees *guarantee.Set
	checker    *guarantee.Engine
	traverser  *traverse.Engine

	mu          sync.RWMutex
	ready       bool
	lastSummary *pipeline.Summary
}

// Options tweak engine construction.
type Options struct {
	// InMemory skips SQLite persistence; used by tests and one-shot
	// queries on throwaway graphs.
	InMemory bool
}

// New builds an engine for the configured project: opens the store,
// loads declared guarantees and registers the built-in plugins.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := logging.Initialize(cfg.Project.Root, logging.Config{
		Enabled:    cfg.Logging.Enabled,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		registry:   pipeline.NewRegistry(),
		guarantees: guarantee.NewSet(),
	}

	if opts.InMemory {
		e.store = graph.NewMemoryStore()
	} else {
		db, err := store.Open(cfg.StoreDBPath())
		if err != nil {
			return nil, err
		}
		e.db = db
		e.store = db

		persisted, err := db.LoadGuarantees()
		if err != nil {
			db.Close()
			return nil, err
		}
		for _, g := range persisted {
			if err := e.guarantees.Add(g); err != nil {
				db.Close()
				return nil, err
			}
		}
		// A previous run's graph answers queries until re-analysis.
		e.ready = db.NodeCount() > 0
	}

	for _, path := range cfg.Guarantees.Paths {
		if _, err := guarantee.LoadDir(e.guarantees, path); err != nil {
			e.closeStore()
			return nil, err
		}
	}

	e.checker = guarantee.NewEngine(e.store, e.guarantees)
	e.traverser = traverse.NewEngine(e.store)

	builtin := []pipeline.Plugin{
		scan.Discovery{},
		scan.Indexer{},
		enrich.CallResolver{},
		enrich.RouteResolver{},
		enrich.DeployResolver{},
		&guarantee.Plugin{Engine: e.checker},
	}
	for _, p := range builtin {
		if err := e.registry.Register(p); err != nil {
			e.closeStore()
			return nil, err
		}
	}

	logging.Boot("Engine ready for %s (%d guarantees)", cfg.Project.Root, len(e.guarantees.List()))
	return e, nil
}

// RegisterPlugin adds an external plugin (a language analyzer,
// an infrastructure scanner) before the next run.
func (e *Engine) RegisterPlugin(p pipeline.Plugin) error {
	return e.registry.Register(p)
}

// Store exposes the graph store for read access.
func (e *Engine) Store() graph.Store { return e.store }

// Analyze runs the full pipeline. The graph is unavailable to queries
// while phases execute; a completed run flips it ready, a partial run
// leaves it rejected until a successful re-run.
func (e *Engine) Analyze(ctx context.Context) (*pipeline.Summary, error) {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()

	runner := pipeline.NewRunner(e.registry, e.store, e.cfg)
	summary, err := runner.Run(ctx)

	e.mu.Lock()
	e.lastSummary = summary
	e.ready = summary != nil && !summary.Partial
	e.mu.Unlock()
	return summary, err
}

// LastSummary returns the most recent run's summary, or nil.
func (e *Engine) LastSummary() *pipeline.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSummary
}

// Ready reports whether the graph answers queries.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

func (e *Engine) requireReady() error {
	if !e.Ready() {
		return ErrNotReady
	}
	return nil
}

// Traverse runs a validated BFS query.
func (e *Engine) Traverse(req traverse.Request) (*traverse.Response, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.traverser.Run(req)
}

// GetNode returns a node by ID, nil when absent.
func (e *Engine) GetNode(id string) (*graph.Node, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.store.GetNode(id)
}

// Edges returns a node's edges in the given direction, optionally
// filtered by type.
func (e *Engine) Edges(id string, direction graph.Direction, edgeTypes []string) ([]graph.Edge, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if direction == graph.DirectionIncoming {
		return e.store.IncomingEdges(id, edgeTypes)
	}
	return e.store.OutgoingEdges(id, edgeTypes)
}

// FindByType returns node IDs matching a type pattern.
func (e *Engine) FindByType(pattern string) ([]string, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.store.FindByType(pattern)
}

// Stats reports graph totals and per-type counts.
func (e *Engine) Stats() (*Stats, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	nodesByType, err := e.store.CountNodesByType(nil)
	if err != nil {
		return nil, err
	}
	edgesByType, err := e.store.CountEdgesByType(nil)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Nodes:       e.store.NodeCount(),
		Edges:       e.store.EdgeCount(),
		NodesByType: nodesByType,
		EdgesByType: edgesByType,
	}, nil
}

// ListGuarantees returns every declared guarantee.
func (e *Engine) ListGuarantees() []guarantee.Guarantee {
	return e.guarantees.List()
}

// CheckGuarantees evaluates the named guarantees (all when empty)
// against the current graph.
func (e *Engine) CheckGuarantees(ctx context.Context, names []string) ([]guarantee.Violation, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.checker.Check(ctx, names)
}

// CreateGuarantee validates, registers and (when persistent) stores a
// guarantee declaration.
func (e *Engine) CreateGuarantee(g guarantee.Guarantee) error {
	if err := e.guarantees.Add(g); err != nil {
		return err
	}
	if e.db != nil {
		return e.db.SaveGuarantee(g)
	}
	return nil
}

// DeleteGuarantee removes a guarantee by name.
func (e *Engine) DeleteGuarantee(name string) error {
	if !e.guarantees.Remove(name) {
		return fmt.Errorf("unknown guarantee %q", name)
	}
	if e.db != nil {
		if _, err := e.db.DeleteGuarantee(name); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the store and flushes logs.
func (e *Engine) Close() error {
	err := e.closeStore()
	logging.CloseAll()
	return err
}

func (e *Engine) closeStore() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}
