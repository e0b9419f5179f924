package enrich

import (
	"fmt"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// edgeSpec tells applyResolution how to materialize a resolved link.
type edgeSpec struct {
	// Type of the created edge.
	Type string

	// Reversed flips the edge so it points candidate -> source instead
	// of source -> candidate (deployments point code at infra).
	Reversed bool

	// LinkedBy names the resolver for edge provenance metadata.
	LinkedBy string
}

// applyResolution turns a cascade outcome into graph state: edges for
// each candidate, or an ISSUE node when the cascade failed. Edges go
// through PutEdge so re-running the resolver is idempotent.
func applyResolution(store graph.Store, link graph.PendingLink, res Resolution, spec edgeSpec, suggestions []string) (pipeline.Result, error) {
	var out pipeline.Result

	if res.Failed() {
		msg := fmt.Sprintf("Cannot resolve %s reference %q from %s", link.Kind, link.TargetHint, link.SourceID)
		issue := graph.NewIssueNode(graph.IssueUnresolvedReference, link.SourceID, msg, suggestions)
		if err := store.AddNode(issue); err != nil {
			return out, fmt.Errorf("record unresolved %s link: %w", link.Kind, err)
		}
		if err := store.PutEdge(graph.Edge{
			Src:  issue.ID,
			Dst:  link.SourceID,
			Type: graph.EdgeAffects,
			Metadata: map[string]interface{}{
				"linkedBy": spec.LinkedBy,
			},
		}); err != nil {
			return out, fmt.Errorf("attach issue %s: %w", issue.ID, err)
		}
		out.NodesCreated++
		out.EdgesCreated++
		out.IssueIDs = append(out.IssueIDs, issue.ID)
		logging.Enrich("Unresolved %s reference from %s (hint %q) -> %s",
			link.Kind, link.SourceID, link.TargetHint, issue.ID)
		return out, nil
	}

	for _, cand := range res.Candidates {
		meta := map[string]interface{}{
			"linkedBy":   spec.LinkedBy,
			"confidence": cand.Confidence,
			"reason":     cand.Reason,
		}
		if res.Ambiguous {
			meta["ambiguous"] = true
		}
		for k, v := range link.Metadata {
			if _, taken := meta[k]; !taken {
				meta[k] = v
			}
		}

		e := graph.Edge{Src: link.SourceID, Dst: cand.TargetID, Type: spec.Type, Metadata: meta}
		if spec.Reversed {
			e.Src, e.Dst = cand.TargetID, link.SourceID
		}
		if err := store.PutEdge(e); err != nil {
			return out, fmt.Errorf("link %s -> %s (%s): %w", e.Src, e.Dst, e.Type, err)
		}
		out.EdgesCreated++
	}
	return out, nil
}

// sourceNode loads the link's source for directory tie-breaking. A
// source that vanished between phases resolves without adjacency.
func sourceNode(store graph.Store, link graph.PendingLink) *graph.Node {
	n, err := store.GetNode(link.SourceID)
	if err != nil {
		return nil
	}
	return n
}
