// Package enrich implements the ENRICHMENT-phase resolvers: plugins
// that consume forward-registered pending links and turn them into
// concrete edges via a prioritized cascade of strategies.
//
// The cascade order is the contract: explicit user-declared mappings
// always win, structural convention comes second, weak inferred
// signals are only consulted when nothing stronger matched. Zero
// candidates is never silent - it becomes an ISSUE node.
package enrich

import (
	"path/filepath"
	"strings"

	"grafema/internal/graph"
	"grafema/internal/logging"
)

// Confidence levels of the standard cascade tiers.
const (
	ConfidenceExplicit     = 1.0
	ConfidenceConventional = 0.8
	ConfidenceInferred     = 0.5
)

// Reason tags recorded on created edges (linkedBy provenance).
const (
	ReasonExplicit  = "explicit"
	ReasonAmbiguous = "ambiguous"
)

// Candidate is one possible resolution target.
type Candidate struct {
	TargetID   string
	Confidence float64
	Reason     string
}

// Strategy is one tier of the cascade. Find returns target node IDs
// for a pending link; it must consult only pre-built candidate
// indexes, never scan the whole graph per link.
type Strategy struct {
	Name       string
	Confidence float64
	Find       func(link graph.PendingLink) []string
}

// Resolution is the cascade outcome for one pending link.
type Resolution struct {
	// Candidates is empty on failure, length 1 on a clean match, and
	// longer when equally plausible targets remain after tie-breaking
	// (each then tagged ambiguous).
	Candidates []Candidate
	Ambiguous  bool
}

// Failed reports whether no strategy produced a candidate.
func (r Resolution) Failed() bool { return len(r.Candidates) == 0 }

// Cascade resolves pending links through ordered strategies.
type Cascade struct {
	store      graph.Store
	strategies []Strategy
}

// NewCascade builds a cascade over the store. Strategies are tried in
// the given order; pass the explicit tier first.
func NewCascade(store graph.Store, strategies ...Strategy) *Cascade {
	return &Cascade{store: store, strategies: strategies}
}

// ExplicitStrategy builds the confidence-1.0 tier from user-declared
// mappings (target hint -> node ID). A mapping pointing at a missing
// node yields no candidate; the weaker tiers still get their chance.
func ExplicitStrategy(store graph.Store, mappings map[string]string) Strategy {
	return Strategy{
		Name:       ReasonExplicit,
		Confidence: ConfidenceExplicit,
		Find: func(link graph.PendingLink) []string {
			target, ok := mappings[link.TargetHint]
			if !ok {
				return nil
			}
			if n, err := store.GetNode(target); err != nil || n == nil {
				logging.Get(logging.CategoryEnrich).Warn(
					"explicit mapping %q -> %q points at missing node", link.TargetHint, target)
				return nil
			}
			return []string{target}
		},
	}
}

// Resolve runs the cascade for one link. The first strategy producing
// candidates wins; weaker strategies are not consulted after a hit.
// Equal-confidence ties prefer candidates directory-adjacent to the
// source node; surviving ties are all returned, tagged ambiguous.
func (c *Cascade) Resolve(source *graph.Node, link graph.PendingLink) Resolution {
	for _, strategy := range c.strategies {
		ids := dedupe(strategy.Find(link))
		if len(ids) == 0 {
			continue
		}

		if len(ids) > 1 && source != nil {
			if adjacent := c.filterAdjacent(source, ids); len(adjacent) > 0 {
				ids = adjacent
			}
		}

		candidates := make([]Candidate, 0, len(ids))
		reason := strategy.Name
		ambiguous := len(ids) > 1
		if ambiguous {
			reason = ReasonAmbiguous
		}
		for _, id := range ids {
			candidates = append(candidates, Candidate{
				TargetID:   id,
				Confidence: strategy.Confidence,
				Reason:     reason,
			})
		}
		logging.EnrichDebug("Resolved %s link from %s via %s: %d candidate(s)",
			link.Kind, link.SourceID, strategy.Name, len(candidates))
		return Resolution{Candidates: candidates, Ambiguous: ambiguous}
	}

	logging.EnrichDebug("No candidates for %s link from %s (hint %q)",
		link.Kind, link.SourceID, link.TargetHint)
	return Resolution{}
}

// filterAdjacent keeps candidates whose file shares a directory
// (or a parent/child directory) with the source node.
func (c *Cascade) filterAdjacent(source *graph.Node, ids []string) []string {
	srcDir := filepath.Dir(source.File)
	if srcDir == "." && source.File == graph.FileBuiltin {
		return nil
	}

	var adjacent []string
	for _, id := range ids {
		n, err := c.store.GetNode(id)
		if err != nil || n == nil || n.File == graph.FileBuiltin {
			continue
		}
		dir := filepath.Dir(n.File)
		if dir == srcDir || isSubdir(dir, srcDir) || isSubdir(srcDir, dir) {
			adjacent = append(adjacent, id)
		}
	}
	return adjacent
}

func isSubdir(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
