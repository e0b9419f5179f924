package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// Indexer is the INDEXING-phase plugin: one MODULE node per source
// file, plus CONTAINS edges from the owning service. It runs after
// discovery so modules can attach to their service.
type Indexer struct{}

func (Indexer) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "module-indexer",
		Phase:        pipeline.PhaseIndexing,
		Priority:     10,
		Dependencies: []string{"service-discovery"},
		CreatesNodes: []string{graph.TypeModule},
		CreatesEdges: []string{graph.EdgeContains},
	}
}

func (Indexer) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	timer := logging.StartTimer(logging.CategoryScan, "index modules")
	defer timer.Stop()

	files, err := Walk(pc.Config.Project.Root, pc.Config.Project.Ignore)
	if err != nil {
		return out, err
	}

	services, err := serviceIndex(pc.Store)
	if err != nil {
		return out, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		n := graph.Node{
			ID:   "module:" + f.Path,
			Type: graph.TypeModule,
			Name: f.Path,
			File: f.Path,
			Line: 1,
			Metadata: map[string]interface{}{
				"language": Language(f.Ext),
			},
		}
		if err := pc.Store.AddNode(n); err != nil {
			return out, fmt.Errorf("index %s: %w", f.Path, err)
		}
		out.NodesCreated++

		if serviceID := owningService(services, f.Path); serviceID != "" {
			err := pc.Store.PutEdge(graph.Edge{
				Src:  serviceID,
				Dst:  n.ID,
				Type: graph.EdgeContains,
				Metadata: map[string]interface{}{
					"linkedBy": "module-indexer",
				},
			})
			if err != nil {
				return out, fmt.Errorf("attach %s to %s: %w", n.ID, serviceID, err)
			}
			out.EdgesCreated++
		}
	}

	logging.Scan("Indexed %d modules", out.NodesCreated)
	return out, nil
}

type serviceRoot struct {
	id   string
	root string
}

// serviceIndex lists discovered services by root, longest root first
// so nested services win over the repository root.
func serviceIndex(store graph.Store) ([]serviceRoot, error) {
	ids, err := store.FindByType(graph.TypeService)
	if err != nil {
		return nil, err
	}

	var out []serviceRoot
	for _, id := range ids {
		n, err := store.GetNode(id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		root, _ := n.Metadata["root"].(string)
		out = append(out, serviceRoot{id: id, root: root})
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i].root) > len(out[j].root) })
	return out, nil
}

func owningService(services []serviceRoot, path string) string {
	for _, s := range services {
		if s.root == "." || s.root == "" {
			return s.id
		}
		if path == s.root || strings.HasPrefix(path, s.root+"/") {
			return s.id
		}
	}
	return ""
}
