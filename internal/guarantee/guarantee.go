// Package guarantee evaluates architectural guarantees against the
// graph: Datalog rules deriving violation facts, and schema guarantees
// checking structural expectations per node type. Violations are not
// log lines - they materialize as ISSUE nodes during VALIDATION.
package guarantee

import (
	"fmt"
	"sort"
	"sync"
)

// Guarantee kinds.
const (
	KindRule   = "rule"
	KindSchema = "schema"
)

// Priorities, strongest first. Priority is how much the team cares,
// not how broken the graph is.
const (
	PriorityCritical  = "critical"
	PriorityImportant = "important"
	PriorityObserved  = "observed"
	PriorityTracked   = "tracked"
)

// Lifecycle statuses. Deprecated guarantees are kept for history but
// no longer evaluated.
const (
	StatusActive     = "active"
	StatusChanging   = "changing"
	StatusDeprecated = "deprecated"
)

// EdgeRequirement is one structural expectation of a schema guarantee.
type EdgeRequirement struct {
	Type      string `yaml:"type" json:"type"`
	Direction string `yaml:"direction" json:"direction"` // outgoing | incoming
}

// SchemaRule describes the shape every node of a type must have.
type SchemaRule struct {
	// NodeType selects the nodes to check; trailing '*' wildcards apply.
	NodeType string `yaml:"node_type" json:"node_type"`

	// RequiredMetadata lists metadata keys every matching node must carry.
	RequiredMetadata []string `yaml:"required_metadata" json:"required_metadata"`

	// RequiredEdges lists edges every matching node must participate in.
	RequiredEdges []EdgeRequirement `yaml:"required_edges" json:"required_edges"`
}

// Guarantee is one declared invariant over the graph.
type Guarantee struct {
	Name        string `yaml:"name" json:"name"`
	Kind        string `yaml:"kind" json:"kind"`
	Priority    string `yaml:"priority" json:"priority"`
	Status      string `yaml:"status" json:"status"`
	Description string `yaml:"description" json:"description"`

	// Rule is the Datalog source for kind "rule". It must define
	// violation(Id, Message) over the base predicates node/2, edge/3
	// and node_attr/3.
	Rule string `yaml:"rule" json:"rule,omitempty"`

	// Schema is the structural expectation for kind "schema".
	Schema *SchemaRule `yaml:"schema" json:"schema,omitempty"`

	// Source records where the guarantee was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Validate checks the declaration before it is accepted.
func (g Guarantee) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("guarantee has no name")
	}
	switch g.Kind {
	case KindRule:
		if g.Rule == "" {
			return fmt.Errorf("guarantee %q: kind rule requires a rule body", g.Name)
		}
	case KindSchema:
		if g.Schema == nil || g.Schema.NodeType == "" {
			return fmt.Errorf("guarantee %q: kind schema requires schema.node_type", g.Name)
		}
		for _, req := range g.Schema.RequiredEdges {
			if req.Direction != "outgoing" && req.Direction != "incoming" {
				return fmt.Errorf("guarantee %q: edge direction %q must be outgoing or incoming", g.Name, req.Direction)
			}
		}
	default:
		return fmt.Errorf("guarantee %q: unknown kind %q", g.Name, g.Kind)
	}
	switch g.Priority {
	case PriorityCritical, PriorityImportant, PriorityObserved, PriorityTracked:
	case "":
		return fmt.Errorf("guarantee %q: missing priority", g.Name)
	default:
		return fmt.Errorf("guarantee %q: unknown priority %q", g.Name, g.Priority)
	}
	switch g.Status {
	case StatusActive, StatusChanging, StatusDeprecated:
	case "":
		return fmt.Errorf("guarantee %q: missing status", g.Name)
	default:
		return fmt.Errorf("guarantee %q: unknown status %q", g.Name, g.Status)
	}
	return nil
}

// Enabled reports whether the guarantee should be evaluated.
func (g Guarantee) Enabled() bool {
	return g.Status == StatusActive || g.Status == StatusChanging
}

// Violation is one failed guarantee instance, tied to the node that
// breaks it.
type Violation struct {
	Guarantee string `json:"guarantee"`
	Priority  string `json:"priority"`
	NodeID    string `json:"nodeId"`
	Message   string `json:"message"`
}

// Set is the named collection of declared guarantees. It is safe for
// concurrent use; evaluation happens in Engine.
type Set struct {
	mu     sync.RWMutex
	byName map[string]Guarantee
}

// NewSet returns an empty guarantee set.
func NewSet() *Set {
	return &Set{byName: make(map[string]Guarantee)}
}

// Add validates and registers a guarantee. Re-adding a name replaces
// the previous declaration.
func (s *Set) Add(g Guarantee) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[g.Name] = g
	return nil
}

// Remove drops a guarantee by name, reporting whether it existed.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return false
	}
	delete(s.byName, name)
	return true
}

// Get returns a guarantee by name.
func (s *Set) Get(name string) (Guarantee, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.byName[name]
	return g, ok
}

// List returns all guarantees sorted by name.
func (s *Set) List() []Guarantee {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Guarantee, 0, len(s.byName))
	for _, g := range s.byName {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select resolves a name filter to concrete guarantees. An empty
// filter selects everything; an unknown name is an error rather than
// a silent no-op.
func (s *Set) Select(names []string) ([]Guarantee, error) {
	if len(names) == 0 {
		return s.List(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Guarantee, 0, len(names))
	for _, name := range names {
		g, ok := s.byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown guarantee %q", name)
		}
		out = append(out, g)
	}
	return out, nil
}
