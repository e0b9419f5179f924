package enrich

import (
	"context"
	"fmt"
	"strings"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// LinkKindDeployment is the pending-link kind the deploy resolver
// consumes. SourceID is the infrastructure node (a manifest's
// deployment); TargetHint names the workload it runs.
const LinkKindDeployment = "deployment"

// DeployResolver links infrastructure deployment nodes to the services
// they run, producing SERVICE -[DEPLOYED_TO]-> infra edges so impact
// traversals cross the code/infrastructure boundary.
type DeployResolver struct{}

func (DeployResolver) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "deploy-resolver",
		Phase:        pipeline.PhaseEnrichment,
		Priority:     30,
		CreatesNodes: []string{graph.TypeIssue},
		CreatesEdges: []string{graph.EdgeDeployedTo, graph.EdgeAffects},
	}
}

func (DeployResolver) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	links := pc.Pending.Take(LinkKindDeployment)
	if len(links) == 0 {
		return out, nil
	}

	timer := logging.StartTimer(logging.CategoryEnrich, fmt.Sprintf("resolve %d deployment links", len(links)))
	defer timer.Stop()

	index, err := buildServiceIndex(pc.Store)
	if err != nil {
		return out, fmt.Errorf("build service index: %w", err)
	}

	cascade := NewCascade(pc.Store,
		ExplicitStrategy(pc.Store, pc.Config.MappingsFor(LinkKindDeployment)),
		Strategy{
			Name:       "service-name",
			Confidence: ConfidenceConventional,
			Find:       func(l graph.PendingLink) []string { return index.exact(l.TargetHint) },
		},
		Strategy{
			Name:       "name-fragment",
			Confidence: ConfidenceInferred,
			Find:       func(l graph.PendingLink) []string { return index.fragment(l.TargetHint) },
		},
	)

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := cascade.Resolve(sourceNode(pc.Store, link), link)
		delta, err := applyResolution(pc.Store, link, res, edgeSpec{
			Type:     graph.EdgeDeployedTo,
			Reversed: true,
			LinkedBy: "deploy-resolver",
		}, index.suggestions(link.TargetHint))
		if err != nil {
			return out, err
		}
		out.Merge(delta)
	}
	return out, nil
}

// serviceIndex maps SERVICE nodes by declared name, with image-style
// hints ("registry.io/team/billing:v3") normalized to the last path
// segment.
type serviceIndex struct {
	byName map[string][]string
	names  []string
}

func buildServiceIndex(store graph.Store) (*serviceIndex, error) {
	ids, err := store.FindByType(graph.TypeService)
	if err != nil {
		return nil, err
	}

	idx := &serviceIndex{byName: make(map[string][]string, len(ids))}
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
	return idx, nil
}

// workloadName reduces a deployment hint to a comparable service name:
// drop the registry path and the image tag.
func workloadName(hint string) string {
	name := hint
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	return name
}

func (idx *serviceIndex) exact(hint string) []string {
	if ids := idx.byName[hint]; len(ids) > 0 {
		return ids
	}
	return idx.byName[workloadName(hint)]
}

func (idx *serviceIndex) fragment(hint string) []string {
	want := strings.ToLower(workloadName(hint))
	if want == "" {
		return nil
	}
	var ids []string
	for _, name := range idx.names {
		have := strings.ToLower(name)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			ids = append(ids, idx.byName[name]...)
		}
	}
	return ids
}

func (idx *serviceIndex) suggestions(hint string) []string {
	var out []string
	for _, id := range idx.fragment(hint) {
		out = append(out, id)
		if len(out) == 3 {
			break
		}
	}
	if len(out) == 0 && len(idx.names) > 0 {
		logging.EnrichDebug("No service suggestions for deployment hint %q", hint)
	}
	return out
}
