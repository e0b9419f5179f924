// Package traverse implements the validated BFS query engine exposed
// to external callers (CLI, MCP). Each call is self-contained: no
// persistent traversal state exists between requests.
package traverse

import (
	"errors"
	"fmt"

	"grafema/internal/graph"
	"grafema/internal/logging"
)

// Limits. MaxResults bounds memory on pathological graphs and doubles
// as the implicit timeout substitute: no traversal can run unbounded.
const (
	MaxDepth   = 20
	MaxResults = 10000
)

// ErrStartNodeNotFound marks a start ID that does not exist in the
// store. Checked before any traversal work.
var ErrStartNodeNotFound = errors.New("start node not found")

// ValidationError is a malformed-input error, always raised before any
// backend call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a traversal input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Request describes one traversal.
type Request struct {
	StartNodeIDs []string
	EdgeTypes    []string
	MaxDepth     int
	Direction    graph.Direction // empty defaults to outgoing
}

// NodeResult is one reached node with the depth it was first reached
// at. Type is "UNKNOWN" if the node vanished between traversal and
// enrichment (defensive, non-fatal).
type NodeResult struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// Response is the traversal result.
type Response struct {
	Count     int          `json:"count"`
	Truncated bool         `json:"truncated"`
	Message   string       `json:"message,omitempty"`
	Nodes     []NodeResult `json:"nodes"`
}

// Engine runs traversals against a Store.
type Engine struct {
	store graph.Store
}

// NewEngine returns a traversal engine over the store.
func NewEngine(store graph.Store) *Engine {
	return &Engine{store: store}
}

// Run validates the request, then BFS-walks the graph. The visited set
// is seeded with the deduplicated start IDs, so the result set and the
// cycle guard share identity: a node is never visited twice no matter
// how many paths reach it.
func (e *Engine) Run(req Request) (*Response, error) {
	starts, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	direction := req.Direction
	if direction == "" {
		direction = graph.DirectionOutgoing
	}

	timer := logging.StartTimer(logging.CategoryTraverse, "traverse")
	defer timer.Stop()
	logging.TraverseDebug("BFS from %d starts, depth<=%d, types=%v, direction=%s",
		len(starts), req.MaxDepth, req.EdgeTypes, direction)

	type queueItem struct {
		id    string
		depth int
	}

	visited := make(map[string]struct{}, len(starts))
	var order []queueItem
	var queue []queueItem
	truncated := false
	for _, id := range starts {
		// The cap counts start nodes too: an oversized start list must
		// not sidestep it.
		if len(order) >= MaxResults {
			truncated = true
			break
		}
		visited[id] = struct{}{}
		item := queueItem{id: id, depth: 0}
		order = append(order, item)
		queue = append(queue, item)
	}
bfs:
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= req.MaxDepth {
			continue
		}

		neighbors, err := e.neighbors(current.id, req.EdgeTypes, direction)
		if err != nil {
			return nil, err
		}
		for _, next := range neighbors {
			if _, seen := visited[next]; seen {
				continue
			}
			if len(order) >= MaxResults {
				truncated = true
				break bfs
			}
			visited[next] = struct{}{}
			item := queueItem{id: next, depth: current.depth + 1}
			order = append(order, item)
			queue = append(queue, item)
		}
	}

	resp := &Response{
		Count:     len(order),
		Truncated: truncated,
		Nodes:     make([]NodeResult, 0, len(order)),
	}
	if truncated {
		resp.Message = fmt.Sprintf(
			"result truncated at %d nodes; narrow the edge-type filter or lower maxDepth", MaxResults)
	}

	for _, item := range order {
		nr := NodeResult{ID: item.id, Depth: item.depth, Type: "UNKNOWN"}
		if n, err := e.store.GetNode(item.id); err == nil && n != nil {
			nr.Type = n.Type
			nr.Name = n.Name
			nr.File = n.File
			nr.Line = n.Line
		}
		resp.Nodes = append(resp.Nodes, nr)
	}
	return resp, nil
}

// neighbors fetches the IDs one hop away in the requested direction.
func (e *Engine) neighbors(id string, edgeTypes []string, direction graph.Direction) ([]string, error) {
	var edges []graph.Edge
	var err error
	if direction == graph.DirectionIncoming {
		edges, err = e.store.IncomingEdges(id, edgeTypes)
	} else {
		edges, err = e.store.OutgoingEdges(id, edgeTypes)
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(edges))
	for _, edge := range edges {
		if direction == graph.DirectionIncoming {
			out = append(out, edge.Src)
		} else {
			out = append(out, edge.Dst)
		}
	}
	return out, nil
}

// validate checks every input before any traversal work and returns
// the deduplicated start list.
func (e *Engine) validate(req Request) ([]string, error) {
	if len(req.StartNodeIDs) == 0 {
		return nil, &ValidationError{Field: "startNodeIds", Message: "must not be empty"}
	}
	if len(req.EdgeTypes) == 0 {
		return nil, &ValidationError{Field: "edgeTypes", Message: "must not be empty"}
	}
	for _, et := range req.EdgeTypes {
		if !e.store.EdgeTypeKnown(et) {
			return nil, &ValidationError{
				Field:   "edgeTypes",
				Message: fmt.Sprintf("unrecognized edge type %q", et),
			}
		}
	}
	if req.MaxDepth < 0 || req.MaxDepth > MaxDepth {
		return nil, &ValidationError{
			Field:   "maxDepth",
			Message: fmt.Sprintf("must be between 0 and %d, got %d", MaxDepth, req.MaxDepth),
		}
	}
	switch req.Direction {
	case "", graph.DirectionOutgoing, graph.DirectionIncoming:
	default:
		return nil, &ValidationError{
			Field:   "direction",
			Message: fmt.Sprintf("must be %q or %q", graph.DirectionOutgoing, graph.DirectionIncoming),
		}
	}

	seen := make(map[string]struct{}, len(req.StartNodeIDs))
	var starts []string
	for _, id := range req.StartNodeIDs {
		if id == "" {
			return nil, &ValidationError{Field: "startNodeIds", Message: "contains empty ID"}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		starts = append(starts, id)
	}

	// Every start node must exist before BFS begins.
	for _, id := range starts {
		n, err := e.store.GetNode(id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%w: %q", ErrStartNodeNotFound, id)
		}
	}
	return starts, nil
}
