package guarantee

import (
	"context"
	"fmt"

	"grafema/internal/graph"
	"grafema/internal/pipeline"
)

// Plugin runs every enabled guarantee during VALIDATION and
// materializes violations as ISSUE nodes attached to the offending
// node. Violations do not fail the pipeline; an unevaluable guarantee
// does.
type Plugin struct {
	Engine *Engine
}

func (p *Plugin) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "guarantee-checker",
		Phase:        pipeline.PhaseValidation,
		Priority:     10,
		CreatesNodes: []string{graph.TypeIssue},
		CreatesEdges: []string{graph.EdgeAffects},
	}
}

func (p *Plugin) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	violations, err := p.Engine.Check(ctx, nil)
	if err != nil {
		return out, err
	}

	for _, v := range violations {
		subject := fmt.Sprintf("%s:%s", v.Guarantee, v.NodeID)
		issue := graph.NewIssueNode(graph.IssueGuaranteeViolation, subject, v.Message, nil)
		issue.Metadata["guarantee"] = v.Guarantee
		issue.Metadata["priority"] = v.Priority

		if err := pc.Store.AddNode(issue); err != nil {
			return out, fmt.Errorf("record violation of %q: %w", v.Guarantee, err)
		}
		out.NodesCreated++
		out.IssueIDs = append(out.IssueIDs, issue.ID)

		if n, err := pc.Store.GetNode(v.NodeID); err == nil && n != nil {
			if err := pc.Store.PutEdge(graph.Edge{
				Src:  issue.ID,
				Dst:  v.NodeID,
				Type: graph.EdgeAffects,
				Metadata: map[string]interface{}{
					"linkedBy": "guarantee-checker",
				},
			}); err != nil {
				return out, fmt.Errorf("attach violation issue %s: %w", issue.ID, err)
			}
			out.EdgesCreated++
		}
	}
	return out, nil
}
