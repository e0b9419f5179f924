package graph

import "sync"

// PendingLink is a forward-registered reference: something an
// ANALYSIS-phase plugin saw but could not resolve yet. ENRICHMENT
// resolvers consume links by kind and turn them into concrete edges,
// instead of re-scanning the node set for loose metadata.
type PendingLink struct {
	// Kind routes the link to its resolver: "call", "http-request",
	// "deployment", ...
	Kind string

	// SourceID is the node the unresolved reference hangs off.
	SourceID string

	// TargetHint is what the source knows about the target: a callee
	// name, an URL path, a service name from an annotation.
	TargetHint string

	// Metadata carries kind-specific detail (argIndex, http method,
	// annotation key).
	Metadata map[string]interface{}
}

// PendingLinks is the two-stage arena between ANALYSIS and ENRICHMENT:
// writers register during ANALYSIS, resolvers take (and thereby clear)
// entries for their kind during ENRICHMENT. Resolvers iterate only over
// these small candidate sets, never the whole graph.
type PendingLinks struct {
	mu      sync.Mutex
	byKind  map[string][]PendingLink
	total   int
	drained map[string]bool
}

// NewPendingLinks returns an empty arena.
func NewPendingLinks() *PendingLinks {
	return &PendingLinks{
		byKind:  make(map[string][]PendingLink),
		drained: make(map[string]bool),
	}
}

// Register records an unresolved reference for later resolution.
func (p *PendingLinks) Register(link PendingLink) {
	if link.Kind == "" || link.SourceID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKind[link.Kind] = append(p.byKind[link.Kind], link)
	p.total++
}

// Take removes and returns all links of a kind. A second Take of the
// same kind returns nil: resolution is consume-once.
func (p *PendingLinks) Take(kind string) []PendingLink {
	p.mu.Lock()
	defer p.mu.Unlock()

	links := p.byKind[kind]
	delete(p.byKind, kind)
	p.drained[kind] = true
	p.total -= len(links)
	return links
}

// Len returns the number of links not yet taken.
func (p *PendingLinks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Kinds returns the kinds with untaken links.
func (p *PendingLinks) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds := make([]string, 0, len(p.byKind))
	for k := range p.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}
