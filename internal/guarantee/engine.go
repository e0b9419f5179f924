package guarantee

import (
	"context"
	"fmt"

	"grafema/internal/graph"
	"grafema/internal/logging"
)

// Engine evaluates guarantees against a graph store. Each rule
// guarantee gets an isolated Datalog run over a fresh fact store, so
// two rules both deriving violation/2 can never contaminate each
// other and checks can run concurrently with graph reads.
type Engine struct {
	store graph.Store
	set   *Set
}

// NewEngine binds a guarantee set to the store it checks.
func NewEngine(store graph.Store, set *Set) *Engine {
	return &Engine{store: store, set: set}
}

// Set exposes the underlying guarantee collection.
func (e *Engine) Set() *Set { return e.set }

// Check evaluates the named guarantees (all declared ones when names
// is empty) and returns every violation found. Naming a guarantee
// explicitly evaluates it even when its status would normally skip it.
func (e *Engine) Check(ctx context.Context, names []string) ([]Violation, error) {
	selected, err := e.set.Select(names)
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, g := range selected {
		if len(names) == 0 && !g.Enabled() {
			logging.GuaranteeDebug("Skipping %s guarantee %q", g.Status, g.Name)
			continue
		}

		timer := logging.StartTimer(logging.CategoryGuarantee, fmt.Sprintf("check %q", g.Name))
		violations, err := e.checkOne(ctx, g)
		timer.Stop()
		if err != nil {
			return nil, fmt.Errorf("guarantee %q: %w", g.Name, err)
		}

		for i := range violations {
			violations[i].Guarantee = g.Name
			violations[i].Priority = g.Priority
		}
		logging.Guarantee("Guarantee %q: %d violation(s)", g.Name, len(violations))
		out = append(out, violations...)
	}
	return out, nil
}

func (e *Engine) checkOne(ctx context.Context, g Guarantee) ([]Violation, error) {
	switch g.Kind {
	case KindRule:
		run, err := compileRule(g.Rule)
		if err != nil {
			return nil, err
		}
		if err := run.hydrate(e.store); err != nil {
			return nil, err
		}
		return run.evaluate(ctx)
	case KindSchema:
		return e.checkSchema(ctx, *g.Schema)
	default:
		return nil, fmt.Errorf("unknown kind %q", g.Kind)
	}
}

// checkSchema verifies required metadata and edges on every node of
// the schema's type. A schema naming an unrecognized edge type is a
// declaration error, never a silent pass.
func (e *Engine) checkSchema(ctx context.Context, rule SchemaRule) ([]Violation, error) {
	for _, req := range rule.RequiredEdges {
		if !e.store.EdgeTypeKnown(req.Type) {
			return nil, fmt.Errorf("%w: %q", graph.ErrUnknownEdgeType, req.Type)
		}
	}

	ids, err := e.store.FindByType(rule.NodeType)
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := e.store.GetNode(id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}

		for _, key := range rule.RequiredMetadata {
			if _, ok := n.Metadata[key]; !ok {
				out = append(out, Violation{
					NodeID:  id,
					Message: fmt.Sprintf("node %s is missing required metadata %q", id, key),
				})
			}
		}

		for _, req := range rule.RequiredEdges {
			var edges []graph.Edge
			if req.Direction == "incoming" {
				edges, err = e.store.IncomingEdges(id, []string{req.Type})
			} else {
				edges, err = e.store.OutgoingEdges(id, []string{req.Type})
			}
			if err != nil {
				return nil, err
			}
			if len(edges) == 0 {
				out = append(out, Violation{
					NodeID:  id,
					Message: fmt.Sprintf("node %s has no %s %s edge", id, req.Direction, req.Type),
				})
			}
		}
	}
	return out, nil
}
