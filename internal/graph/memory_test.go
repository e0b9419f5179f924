package graph

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func addNodes(t *testing.T, s *MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.AddNode(Node{ID: id, Type: TypeFunction, Name: id, File: "a.go", Line: 1}); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}
}

func TestAddNodeUpsertByID(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A")

	// Re-adding the same ID must not duplicate.
	if err := s.AddNode(Node{ID: "A", Type: TypeFunction, Name: "A2", File: "a.go", Line: 2}); err != nil {
		t.Fatalf("AddNode() upsert error = %v", err)
	}
	if got := s.NodeCount(); got != 1 {
		t.Fatalf("NodeCount() = %d, want 1", got)
	}

	n, err := s.GetNode("A")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if n == nil || n.Name != "A2" || n.Line != 2 {
		t.Fatalf("GetNode() = %+v, want upserted copy", n)
	}
}

func TestStoredMetadataIsolatedFromCaller(t *testing.T) {
	s := NewMemoryStore()
	nested := map[string]interface{}{"retries": 3}
	tags := []string{"billing"}
	node := Node{
		ID:   "A",
		Type: TypeFunction,
		Name: "A",
		File: "a.go",
		Metadata: map[string]interface{}{
			"policy": nested,
			"tags":   tags,
		},
	}
	if err := s.AddNode(node); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	// Mutating the caller's nested values after the add must not leak
	// into stored state.
	nested["retries"] = 99
	tags[0] = "mutated"

	got, err := s.GetNode("A")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	policy, ok := got.Metadata["policy"].(map[string]interface{})
	if !ok || policy["retries"] != 3 {
		t.Fatalf("GetNode() policy = %+v, want retries 3", got.Metadata["policy"])
	}
	gotTags, ok := got.Metadata["tags"].([]string)
	if !ok || gotTags[0] != "billing" {
		t.Fatalf("GetNode() tags = %+v, want [billing]", got.Metadata["tags"])
	}

	// And mutating a returned copy must not write back either.
	policy["retries"] = 7
	again, err := s.GetNode("A")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if again.Metadata["policy"].(map[string]interface{})["retries"] != 3 {
		t.Fatalf("GetNode() after mutation = %+v, stored state changed", again.Metadata["policy"])
	}
}

func TestAddNodeRejectsEmptyID(t *testing.T) {
	s := NewMemoryStore()
	if err := s.AddNode(Node{Type: TypeFunction}); !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("AddNode() error = %v, want ErrInvalidNode", err)
	}
}

func TestGetNodeMissingReturnsNilNotError(t *testing.T) {
	s := NewMemoryStore()
	n, err := s.GetNode("ghost")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if n != nil {
		t.Fatalf("GetNode() = %+v, want nil", n)
	}
}

func TestAddEdgeDuplicateAndDangling(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B")

	if err := s.AddEdge(Edge{Src: "A", Dst: "B", Type: EdgeCalls}); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	if err := s.AddEdge(Edge{Src: "A", Dst: "B", Type: EdgeCalls}); !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("AddEdge() duplicate error = %v, want ErrDuplicateEdge", err)
	}
	if err := s.AddEdge(Edge{Src: "A", Dst: "ghost", Type: EdgeCalls}); !errors.Is(err, ErrDanglingEdge) {
		t.Fatalf("AddEdge() dangling error = %v, want ErrDanglingEdge", err)
	}
}

func TestPutEdgeIdempotent(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B")

	e := Edge{Src: "A", Dst: "B", Type: EdgeCalls, Metadata: map[string]interface{}{"linkedBy": "exact-name"}}
	for i := 0; i < 3; i++ {
		if err := s.PutEdge(e); err != nil {
			t.Fatalf("PutEdge() run %d error = %v", i, err)
		}
	}
	if got := s.EdgeCount(); got != 1 {
		t.Fatalf("EdgeCount() after re-runs = %d, want 1", got)
	}

	// Metadata of the upserted edge replaces the stored copy.
	e.Metadata["linkedBy"] = "explicit"
	if err := s.PutEdge(e); err != nil {
		t.Fatalf("PutEdge() error = %v", err)
	}
	out, err := s.OutgoingEdges("A", []string{EdgeCalls})
	if err != nil {
		t.Fatalf("OutgoingEdges() error = %v", err)
	}
	if len(out) != 1 || out[0].Metadata["linkedBy"] != "explicit" {
		t.Fatalf("OutgoingEdges() = %+v, want single edge with replaced metadata", out)
	}
}

func TestEdgeFilterUnknownTypeFailsFast(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A")

	if _, err := s.OutgoingEdges("A", []string{"NOT_A_TYPE"}); !errors.Is(err, ErrUnknownEdgeType) {
		t.Fatalf("OutgoingEdges() error = %v, want ErrUnknownEdgeType", err)
	}
	if _, err := s.IncomingEdges("A", []string{"NOT_A_TYPE"}); !errors.Is(err, ErrUnknownEdgeType) {
		t.Fatalf("IncomingEdges() error = %v, want ErrUnknownEdgeType", err)
	}
	if _, err := s.BFS([]string{"A"}, 3, []string{"NOT_A_TYPE"}); !errors.Is(err, ErrUnknownEdgeType) {
		t.Fatalf("BFS() error = %v, want ErrUnknownEdgeType", err)
	}

	// Registration makes the type recognized.
	s.RegisterEdgeType("NOT_A_TYPE")
	if _, err := s.OutgoingEdges("A", []string{"NOT_A_TYPE"}); err != nil {
		t.Fatalf("OutgoingEdges() after RegisterEdgeType error = %v", err)
	}
}

func TestIncomingOutgoingFilter(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B", "C")
	mustAddEdge(t, s, Edge{Src: "A", Dst: "B", Type: EdgeCalls})
	mustAddEdge(t, s, Edge{Src: "A", Dst: "C", Type: EdgeContains})
	mustAddEdge(t, s, Edge{Src: "C", Dst: "B", Type: EdgeCalls})

	out, err := s.OutgoingEdges("A", []string{EdgeCalls})
	if err != nil {
		t.Fatalf("OutgoingEdges() error = %v", err)
	}
	if len(out) != 1 || out[0].Dst != "B" {
		t.Fatalf("OutgoingEdges(A, CALLS) = %+v, want one edge to B", out)
	}

	in, err := s.IncomingEdges("B", nil)
	if err != nil {
		t.Fatalf("IncomingEdges() error = %v", err)
	}
	if len(in) != 2 {
		t.Fatalf("IncomingEdges(B, nil) = %d edges, want 2", len(in))
	}
}

func TestBFSCycleTerminates(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B")
	mustAddEdge(t, s, Edge{Src: "A", Dst: "B", Type: EdgeCalls})
	mustAddEdge(t, s, Edge{Src: "B", Dst: "A", Type: EdgeCalls})

	got, err := s.BFS([]string{"A"}, 5, []string{EdgeCalls})
	if err != nil {
		t.Fatalf("BFS() error = %v", err)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"A", "B"}, got); diff != "" {
		t.Fatalf("BFS() mismatch (-want +got):\n%s", diff)
	}
}

func TestBFSDepthZeroReturnsDedupedStarts(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B")
	mustAddEdge(t, s, Edge{Src: "A", Dst: "B", Type: EdgeCalls})

	got, err := s.BFS([]string{"A", "A"}, 0, []string{EdgeCalls})
	if err != nil {
		t.Fatalf("BFS() error = %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, got); diff != "" {
		t.Fatalf("BFS() mismatch (-want +got):\n%s", diff)
	}
}

func TestFindByTypeWildcard(t *testing.T) {
	s := NewMemoryStore()
	if err := s.AddNode(Node{ID: "r1", Type: "http:route", Name: "/users", File: "a.go"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if err := s.AddNode(Node{ID: "q1", Type: "http:request", Name: "GET /users", File: "b.go"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	addNodes(t, s, "f1")

	ids, err := s.FindByType("http:*")
	if err != nil {
		t.Fatalf("FindByType() error = %v", err)
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"q1", "r1"}, ids); diff != "" {
		t.Fatalf("FindByType(http:*) mismatch (-want +got):\n%s", diff)
	}

	exact, err := s.FindByType("http:route")
	if err != nil {
		t.Fatalf("FindByType() error = %v", err)
	}
	if len(exact) != 1 || exact[0] != "r1" {
		t.Fatalf("FindByType(http:route) = %v, want [r1]", exact)
	}
}

func TestCountsByType(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "A", "B")
	if err := s.AddNode(Node{ID: "r1", Type: "http:route", Name: "/users", File: "a.go"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	mustAddEdge(t, s, Edge{Src: "A", Dst: "B", Type: EdgeCalls})

	nodes, err := s.CountNodesByType([]string{"http:*"})
	if err != nil {
		t.Fatalf("CountNodesByType() error = %v", err)
	}
	if nodes["http:route"] != 1 || len(nodes) != 1 {
		t.Fatalf("CountNodesByType(http:*) = %v", nodes)
	}

	edges, err := s.CountEdgesByType(nil)
	if err != nil {
		t.Fatalf("CountEdgesByType() error = %v", err)
	}
	if edges[EdgeCalls] != 1 {
		t.Fatalf("CountEdgesByType() = %v", edges)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := NewMemoryStore()
	addNodes(t, s, "hub")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := string(rune('a'+worker)) + "-" + string(rune('0'+j%10))
				if err := s.AddNode(Node{ID: id, Type: TypeFunction, Name: id, File: "w.go"}); err != nil {
					t.Errorf("AddNode(%s) error = %v", id, err)
					return
				}
				if err := s.PutEdge(Edge{Src: "hub", Dst: id, Type: EdgeCalls}); err != nil {
					t.Errorf("PutEdge(hub->%s) error = %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// 8 workers x 10 distinct IDs each, plus the hub.
	if got := s.NodeCount(); got != 81 {
		t.Fatalf("NodeCount() = %d, want 81", got)
	}
	if got := s.EdgeCount(); got != 80 {
		t.Fatalf("EdgeCount() = %d, want 80", got)
	}
}

func mustAddEdge(t *testing.T, s *MemoryStore, e Edge) {
	t.Helper()
	if err := s.AddEdge(e); err != nil {
		t.Fatalf("AddEdge(%s -[%s]-> %s) error = %v", e.Src, e.Type, e.Dst, err)
	}
}
