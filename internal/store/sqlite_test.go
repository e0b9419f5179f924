package store

import (
	"errors"
	"path/filepath"
	"testing"

	"grafema/internal/graph"
	"grafema/internal/guarantee"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNodeRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	n := graph.Node{
		ID: "fn:billing#charge", Type: graph.TypeFunction, Name: "charge",
		File: "billing/api.go", Line: 42,
		Metadata: map[string]interface{}{"exported": true},
	}
	if err := s.AddNode(n); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	got, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if got == nil || got.Name != "charge" || got.Line != 42 {
		t.Fatalf("GetNode() = %+v", got)
	}
	if got.Metadata["exported"] != true {
		t.Errorf("metadata round trip = %v", got.Metadata)
	}

	// Upsert replaces, never duplicates.
	n.Line = 50
	if err := s.AddNode(n); err != nil {
		t.Fatalf("AddNode(upsert) error = %v", err)
	}
	if s.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1", s.NodeCount())
	}
	got, _ = s.GetNode(n.ID)
	if got.Line != 50 {
		t.Errorf("upsert did not replace: line = %d", got.Line)
	}
}

func TestGetNodeAbsentIsNilNil(t *testing.T) {
	s, _ := openTestStore(t)
	got, err := s.GetNode("ghost")
	if err != nil || got != nil {
		t.Fatalf("GetNode(absent) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestAddEdgeSemantics(t *testing.T) {
	s, _ := openTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.AddNode(graph.Node{ID: id, Type: graph.TypeModule, Name: id}); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}

	e := graph.Edge{Src: "a", Dst: "b", Type: graph.EdgeImports}
	if err := s.AddEdge(e); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	if err := s.AddEdge(e); !errors.Is(err, graph.ErrDuplicateEdge) {
		t.Fatalf("duplicate AddEdge() error = %v, want ErrDuplicateEdge", err)
	}
	if err := s.PutEdge(e); err != nil {
		t.Fatalf("PutEdge() on existing error = %v", err)
	}
	if s.EdgeCount() != 1 {
		t.Errorf("EdgeCount() = %d, want 1", s.EdgeCount())
	}

	dangling := graph.Edge{Src: "a", Dst: "ghost", Type: graph.EdgeImports}
	if err := s.AddEdge(dangling); !errors.Is(err, graph.ErrDanglingEdge) {
		t.Fatalf("dangling AddEdge() error = %v, want ErrDanglingEdge", err)
	}
}

func TestEdgeFilterSemantics(t *testing.T) {
	s, _ := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.AddNode(graph.Node{ID: id, Type: graph.TypeModule, Name: id}); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}
	if err := s.AddEdge(graph.Edge{Src: "a", Dst: "b", Type: graph.EdgeImports}); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	if err := s.AddEdge(graph.Edge{Src: "a", Dst: "c", Type: graph.EdgeCalls}); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}

	edges, err := s.OutgoingEdges("a", []string{graph.EdgeImports})
	if err != nil {
		t.Fatalf("OutgoingEdges() error = %v", err)
	}
	if len(edges) != 1 || edges[0].Dst != "b" {
		t.Fatalf("filtered edges = %+v", edges)
	}

	if _, err := s.OutgoingEdges("a", []string{"IMPORTZ"}); !errors.Is(err, graph.ErrUnknownEdgeType) {
		t.Fatalf("unknown filter error = %v, want ErrUnknownEdgeType", err)
	}

	incoming, err := s.IncomingEdges("c", nil)
	if err != nil {
		t.Fatalf("IncomingEdges() error = %v", err)
	}
	if len(incoming) != 1 || incoming[0].Src != "a" {
		t.Fatalf("incoming edges = %+v", incoming)
	}
}

func TestFindByTypeWildcard(t *testing.T) {
	s, _ := openTestStore(t)
	nodes := []graph.Node{
		{ID: "r1", Type: "http:route", Name: "/users"},
		{ID: "r2", Type: "http:middleware", Name: "auth"},
		{ID: "m1", Type: graph.TypeModule, Name: "api"},
	}
	for _, n := range nodes {
		if err := s.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s) error = %v", n.ID, err)
		}
	}

	ids, err := s.FindByType("http:*")
	if err != nil {
		t.Fatalf("FindByType() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("FindByType(http:*) = %v, want r1 and r2", ids)
	}

	ids, err = s.FindByType(graph.TypeModule)
	if err != nil {
		t.Fatalf("FindByType() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("FindByType(MODULE) = %v", ids)
	}
}

func TestBFSDepthAndCycles(t *testing.T) {
	s, _ := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.AddNode(graph.Node{ID: id, Type: graph.TypeFunction, Name: id}); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}
	chain := []graph.Edge{
		{Src: "a", Dst: "b", Type: graph.EdgeCalls},
		{Src: "b", Dst: "c", Type: graph.EdgeCalls},
		{Src: "c", Dst: "a", Type: graph.EdgeCalls}, // cycle back
	}
	for _, e := range chain {
		if err := s.AddEdge(e); err != nil {
			t.Fatalf("AddEdge() error = %v", err)
		}
	}

	ids, err := s.BFS([]string{"a"}, 10, []string{graph.EdgeCalls})
	if err != nil {
		t.Fatalf("BFS() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("BFS over cycle = %v, want 3 unique nodes", ids)
	}

	ids, err = s.BFS([]string{"a", "a"}, 0, nil)
	if err != nil {
		t.Fatalf("BFS() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("BFS depth 0 with duplicate starts = %v, want [a]", ids)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.AddNode(graph.Node{ID: "a", Type: graph.TypeModule, Name: "a"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if err := s.AddNode(graph.Node{ID: "b", Type: graph.TypeModule, Name: "b"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if err := s.AddEdge(graph.Edge{Src: "a", Dst: "b", Type: "CUSTOM_LINK"}); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if reopened.NodeCount() != 2 || reopened.EdgeCount() != 1 {
		t.Fatalf("reopened counts = (%d, %d), want (2, 1)", reopened.NodeCount(), reopened.EdgeCount())
	}
	// Edge types registered on the fly survive reopen.
	if !reopened.EdgeTypeKnown("CUSTOM_LINK") {
		t.Error("custom edge type lost across reopen")
	}
}

func TestCounts(t *testing.T) {
	s, _ := openTestStore(t)
	nodes := []graph.Node{
		{ID: "f1", Type: graph.TypeFunction, Name: "f1"},
		{ID: "f2", Type: graph.TypeFunction, Name: "f2"},
		{ID: "r1", Type: "http:route", Name: "/x"},
	}
	for _, n := range nodes {
		if err := s.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s) error = %v", n.ID, err)
		}
	}

	counts, err := s.CountNodesByType(nil)
	if err != nil {
		t.Fatalf("CountNodesByType() error = %v", err)
	}
	if counts[graph.TypeFunction] != 2 || counts["http:route"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	counts, err = s.CountNodesByType([]string{"http:*"})
	if err != nil {
		t.Fatalf("CountNodesByType(filter) error = %v", err)
	}
	if len(counts) != 1 || counts["http:route"] != 1 {
		t.Fatalf("filtered counts = %v", counts)
	}
}

func TestClearKeepsCatalogAndGuarantees(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.AddNode(graph.Node{ID: "a", Type: graph.TypeModule, Name: "a"}); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	s.RegisterEdgeType("CUSTOM_LINK")
	if err := s.SaveGuarantee(guarantee.Guarantee{
		Name: "g", Kind: guarantee.KindRule, Rule: "x",
		Priority: guarantee.PriorityTracked, Status: guarantee.StatusActive,
	}); err != nil {
		t.Fatalf("SaveGuarantee() error = %v", err)
	}

	s.Clear()

	if s.NodeCount() != 0 {
		t.Errorf("NodeCount() after Clear = %d", s.NodeCount())
	}
	if !s.EdgeTypeKnown("CUSTOM_LINK") {
		t.Error("Clear dropped the edge-type catalog")
	}
	gs, err := s.LoadGuarantees()
	if err != nil {
		t.Fatalf("LoadGuarantees() error = %v", err)
	}
	if len(gs) != 1 {
		t.Errorf("Clear dropped stored guarantees: %v", gs)
	}
}

func TestGuaranteePersistence(t *testing.T) {
	s, _ := openTestStore(t)

	g := guarantee.Guarantee{
		Name: "no-self-calls", Kind: guarantee.KindRule,
		Priority: guarantee.PriorityImportant, Status: guarantee.StatusActive,
		Rule: `violation(Id, "self call") :- edge(Id, Id, "CALLS").`,
	}
	if err := s.SaveGuarantee(g); err != nil {
		t.Fatalf("SaveGuarantee() error = %v", err)
	}

	gs, err := s.LoadGuarantees()
	if err != nil {
		t.Fatalf("LoadGuarantees() error = %v", err)
	}
	if len(gs) != 1 || gs[0].Name != "no-self-calls" || gs[0].Rule != g.Rule {
		t.Fatalf("LoadGuarantees() = %+v", gs)
	}

	if err := s.SaveGuarantee(guarantee.Guarantee{Name: "bad"}); err == nil {
		t.Fatal("SaveGuarantee() with invalid declaration should fail")
	}

	deleted, err := s.DeleteGuarantee("no-self-calls")
	if err != nil || !deleted {
		t.Fatalf("DeleteGuarantee() = (%v, %v), want (true, nil)", deleted, err)
	}
	deleted, err = s.DeleteGuarantee("no-self-calls")
	if err != nil || deleted {
		t.Fatalf("second DeleteGuarantee() = (%v, %v), want (false, nil)", deleted, err)
	}
}
