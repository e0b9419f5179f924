package graph

import (
	"fmt"
	"sync"

	"grafema/internal/logging"
)

// MemoryStore is the in-memory Store the pipeline builds against.
// A single RWMutex guards all maps: analysis work (parsing, heuristic
// matching) dominates wall time over insertion, so one writer lock is
// the simplest correct discipline for concurrent plugins.
type MemoryStore struct {
	mu sync.RWMutex

	nodes    map[string]Node
	outgoing map[string][]Edge
	incoming map[string][]Edge
	edgeKeys map[string]int // EdgeKey -> index into outgoing[src]

	knownEdgeTypes map[string]struct{}
	edgeCount      int
}

// NewMemoryStore returns an empty store seeded with the default edge
// catalog.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		nodes:          make(map[string]Node),
		outgoing:       make(map[string][]Edge),
		incoming:       make(map[string][]Edge),
		edgeKeys:       make(map[string]int),
		knownEdgeTypes: make(map[string]struct{}),
	}
	for _, et := range DefaultEdgeCatalog() {
		s.knownEdgeTypes[et] = struct{}{}
	}
	return s
}

// GetNode returns the node with the given ID, or nil if absent.
func (s *MemoryStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	cp := n
	cp.Metadata = copyMetadata(n.Metadata)
	return &cp, nil
}

// AddNode upserts a node by ID.
func (s *MemoryStore) AddNode(n Node) error {
	if n.ID == "" || n.Type == "" {
		return fmt.Errorf("%w: id and type must be non-empty", ErrInvalidNode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ID]; exists {
		logging.GraphDebug("Upserting existing node %s", n.ID)
	}
	n.Metadata = copyMetadata(n.Metadata)
	s.nodes[n.ID] = n
	return nil
}

// AddEdge inserts an edge, rejecting duplicates and dangling endpoints.
func (s *MemoryStore) AddEdge(e Edge) error {
	return s.insertEdge(e, false)
}

// PutEdge upserts an edge by (src, dst, type). Metadata of an existing
// edge is replaced, so an idempotent enricher re-run converges.
func (s *MemoryStore) PutEdge(e Edge) error {
	return s.insertEdge(e, true)
}

func (s *MemoryStore) insertEdge(e Edge, upsert bool) error {
	if e.Src == "" || e.Dst == "" || e.Type == "" {
		return fmt.Errorf("%w: src, dst and type must be non-empty", ErrInvalidEdge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.Src]; !ok {
		return fmt.Errorf("%w: src %q", ErrDanglingEdge, e.Src)
	}
	if _, ok := s.nodes[e.Dst]; !ok {
		return fmt.Errorf("%w: dst %q", ErrDanglingEdge, e.Dst)
	}

	e.Metadata = copyMetadata(e.Metadata)
	key := EdgeKey(e.Src, e.Dst, e.Type)
	if idx, exists := s.edgeKeys[key]; exists {
		if !upsert {
			return fmt.Errorf("%w: %s -[%s]-> %s", ErrDuplicateEdge, e.Src, e.Type, e.Dst)
		}
		// Replace in both adjacency lists.
		s.outgoing[e.Src][idx] = e
		for i, in := range s.incoming[e.Dst] {
			if in.Src == e.Src && in.Type == e.Type {
				s.incoming[e.Dst][i] = e
				break
			}
		}
		return nil
	}

	s.knownEdgeTypes[e.Type] = struct{}{}
	s.edgeKeys[key] = len(s.outgoing[e.Src])
	s.outgoing[e.Src] = append(s.outgoing[e.Src], e)
	s.incoming[e.Dst] = append(s.incoming[e.Dst], e)
	s.edgeCount++
	return nil
}

// OutgoingEdges returns edges leaving id, optionally filtered by type.
func (s *MemoryStore) OutgoingEdges(id string, edgeTypes []string) ([]Edge, error) {
	if err := ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterEdges(s.outgoing[id], edgeTypes), nil
}

// IncomingEdges returns edges arriving at id, optionally filtered by type.
func (s *MemoryStore) IncomingEdges(id string, edgeTypes []string) ([]Edge, error) {
	if err := ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterEdges(s.incoming[id], edgeTypes), nil
}

// FindByType returns IDs of nodes matching the type pattern.
func (s *MemoryStore) FindByType(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty type pattern", ErrInvalidNode)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, n := range s.nodes {
		if MatchTypePattern(pattern, n.Type) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// BFS walks outgoing edges from the start nodes up to maxDepth.
// The visited set is seeded with the start IDs, so cycles terminate and
// no node appears twice in the result.
func (s *MemoryStore) BFS(startIDs []string, maxDepth int, edgeTypes []string) ([]string, error) {
	if err := ValidateEdgeFilter(s, edgeTypes); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		id    string
		depth int
	}

	visited := make(map[string]struct{}, len(startIDs))
	var result []string
	var queue []queueItem
	for _, id := range startIDs {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		result = append(result, id)
		queue = append(queue, queueItem{id: id, depth: 0})
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}
		for _, e := range filterEdges(s.outgoing[current.id], edgeTypes) {
			if _, seen := visited[e.Dst]; seen {
				continue
			}
			visited[e.Dst] = struct{}{}
			result = append(result, e.Dst)
			queue = append(queue, queueItem{id: e.Dst, depth: current.depth + 1})
		}
	}

	return result, nil
}

// RegisterEdgeType extends the recognized edge-type catalog.
func (s *MemoryStore) RegisterEdgeType(edgeType string) {
	if edgeType == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownEdgeTypes[edgeType] = struct{}{}
}

// EdgeTypeKnown reports whether a type is in the recognized catalog.
func (s *MemoryStore) EdgeTypeKnown(edgeType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.knownEdgeTypes[edgeType]
	return ok
}

// CountNodesByType returns node counts grouped by type.
func (s *MemoryStore) CountNodesByType(types []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, n := range s.nodes {
		if typeMatchesAny(n.Type, types) {
			counts[n.Type]++
		}
	}
	return counts, nil
}

// CountEdgesByType returns edge counts grouped by type.
func (s *MemoryStore) CountEdgesByType(types []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, edges := range s.outgoing {
		for _, e := range edges {
			if typeMatchesAny(e.Type, types) {
				counts[e.Type]++
			}
		}
	}
	return counts, nil
}

// NodeCount returns the number of live nodes.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of live edges.
func (s *MemoryStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgeCount
}

// Clear resets the store to empty. The recognized edge-type catalog is
// reset to the defaults, not emptied.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]Node)
	s.outgoing = make(map[string][]Edge)
	s.incoming = make(map[string][]Edge)
	s.edgeKeys = make(map[string]int)
	s.edgeCount = 0
	s.knownEdgeTypes = make(map[string]struct{})
	for _, et := range DefaultEdgeCatalog() {
		s.knownEdgeTypes[et] = struct{}{}
	}
}

func filterEdges(edges []Edge, edgeTypes []string) []Edge {
	if edgeTypes == nil {
		out := make([]Edge, len(edges))
		copy(out, edges)
		return out
	}
	var out []Edge
	for _, e := range edges {
		for _, et := range edgeTypes {
			if e.Type == et {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func typeMatchesAny(typ string, patterns []string) bool {
	if patterns == nil {
		return true
	}
	for _, p := range patterns {
		if MatchTypePattern(p, typ) {
			return true
		}
	}
	return false
}

// copyMetadata deep-copies a metadata map so stored state never shares
// mutable values with the caller.
func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = copyMetadataValue(v)
	}
	return cp
}

func copyMetadataValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMetadata(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyMetadataValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return t
	}
}
