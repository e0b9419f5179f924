package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// LinkKindCall is the pending-link kind the call resolver consumes.
const LinkKindCall = "call"

// CallResolver links call sites registered during ANALYSIS to the
// FUNCTION nodes they invoke, producing CALLS edges.
type CallResolver struct{}

func (CallResolver) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "call-resolver",
		Phase:        pipeline.PhaseEnrichment,
		Priority:     10,
		CreatesNodes: []string{graph.TypeIssue},
		CreatesEdges: []string{graph.EdgeCalls, graph.EdgeAffects},
	}
}

func (CallResolver) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	links := pc.Pending.Take(LinkKindCall)
	if len(links) == 0 {
		return out, nil
	}

	timer := logging.StartTimer(logging.CategoryEnrich, fmt.Sprintf("resolve %d call links", len(links)))
	defer timer.Stop()

	index, err := buildFunctionIndex(pc.Store)
	if err != nil {
		return out, fmt.Errorf("build function index: %w", err)
	}

	cascade := NewCascade(pc.Store,
		ExplicitStrategy(pc.Store, pc.Config.MappingsFor(LinkKindCall)),
		Strategy{
			Name:       "exact-name",
			Confidence: ConfidenceConventional,
			Find:       func(l graph.PendingLink) []string { return index.exact(l.TargetHint) },
		},
		Strategy{
			Name:       "name-suffix",
			Confidence: ConfidenceInferred,
			Find:       func(l graph.PendingLink) []string { return index.suffix(l.TargetHint) },
		},
	)

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := cascade.Resolve(sourceNode(pc.Store, link), link)
		delta, err := applyResolution(pc.Store, link, res, edgeSpec{
			Type:     graph.EdgeCalls,
			LinkedBy: "call-resolver",
		}, index.suggestions(link.TargetHint))
		if err != nil {
			return out, err
		}
		out.Merge(delta)
	}
	return out, nil
}

// functionIndex maps declared names to FUNCTION node IDs, built once
// per run so each link resolves in near-constant time.
type functionIndex struct {
	byName map[string][]string
	names  []string
}

func buildFunctionIndex(store graph.Store) (*functionIndex, error) {
	ids, err := store.FindByType(graph.TypeFunction)
	if err != nil {
		return nil, err
	}

	idx := &functionIndex{byName: make(map[string][]string, len(ids))}
	for _, id := range ids {
		n, err := store.GetNode(id)
		if err != nil || n == nil || n.Name == "" {
			continue
		}
		if _, seen := idx.byName[n.Name]; !seen {
			idx.names = append(idx.names, n.Name)
		}
		idx.byName[n.Name] = append(idx.byName[n.Name], id)
	}
	sort.Strings(idx.names)
	return idx, nil
}

func (idx *functionIndex) exact(hint string) []string {
	return idx.byName[hint]
}

// suffix matches qualified hints like "billing.Charge" against the
// declared short name, and bare hints against qualified declarations.
func (idx *functionIndex) suffix(hint string) []string {
	short := hint
	if i := strings.LastIndexByte(hint, '.'); i >= 0 {
		short = hint[i+1:]
	}
	if short == "" || short == hint {
		var ids []string
		for _, name := range idx.names {
			if strings.HasSuffix(name, "."+hint) {
				ids = append(ids, idx.byName[name]...)
			}
		}
		return ids
	}
	return idx.byName[short]
}

// suggestions collects near-miss names for issue metadata.
func (idx *functionIndex) suggestions(hint string) []string {
	lower := strings.ToLower(hint)
	var out []string
	for _, name := range idx.names {
		if strings.Contains(strings.ToLower(name), lower) || strings.Contains(lower, strings.ToLower(name)) {
			out = append(out, name)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}
