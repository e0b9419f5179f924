package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"grafema/internal/config"
	"grafema/internal/graph"
	"grafema/internal/guarantee"
	"grafema/internal/pipeline"
	"grafema/internal/traverse"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"go.mod":          "module app",
		"main.go":         "package main",
		"billing/api.go":  "package billing",
		"billing/rule.go": "package billing",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll error = %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile error = %v", err)
		}
	}

	e, err := New(config.Default(root), Options{InMemory: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestQueriesRejectedBeforeAnalyze(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.GetNode("anything"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("GetNode() before analyze error = %v, want ErrNotReady", err)
	}
	if _, err := e.Stats(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Stats() before analyze error = %v, want ErrNotReady", err)
	}
	if _, err := e.Traverse(traverse.Request{StartNodeIDs: []string{"x"}, MaxDepth: 1}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Traverse() before analyze error = %v, want ErrNotReady", err)
	}
}

func TestAnalyzeBuildsQueryableGraph(t *testing.T) {
	e := newTestEngine(t)

	summary, err := e.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if summary.Partial {
		t.Fatalf("summary.Partial = true: %+v", summary)
	}
	if !e.Ready() {
		t.Fatal("engine not ready after successful run")
	}

	stats, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.NodesByType[graph.TypeModule] != 3 {
		t.Errorf("module count = %d, want 3", stats.NodesByType[graph.TypeModule])
	}
	if stats.NodesByType[graph.TypeService] != 1 {
		t.Errorf("service count = %d, want 1", stats.NodesByType[graph.TypeService])
	}

	ids, err := e.FindByType(graph.TypeService)
	if err != nil || len(ids) != 1 {
		t.Fatalf("FindByType(SERVICE) = (%v, %v)", ids, err)
	}

	resp, err := e.Traverse(traverse.Request{
		StartNodeIDs: ids,
		EdgeTypes:    []string{graph.EdgeContains},
		MaxDepth:     2,
	})
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if resp.Count != 4 { // service + 3 modules
		t.Errorf("Traverse count = %d, want 4: %+v", resp.Count, resp.Nodes)
	}
}

// failingPlugin aborts its phase.
type failingPlugin struct{ phase pipeline.Phase }

func (f failingPlugin) Metadata() pipeline.Metadata {
	return pipeline.Metadata{Name: "boom", Phase: f.phase}
}

func (f failingPlugin) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	return pipeline.Result{}, errors.New("boom")
}

func TestPartialRunKeepsGraphUnavailable(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RegisterPlugin(failingPlugin{phase: pipeline.PhaseAnalysis}); err != nil {
		t.Fatalf("RegisterPlugin() error = %v", err)
	}

	summary, err := e.Analyze(context.Background())
	if err == nil {
		t.Fatal("Analyze() with failing plugin should return error")
	}
	if summary == nil || !summary.Partial {
		t.Fatalf("summary = %+v, want Partial", summary)
	}
	if e.Ready() {
		t.Fatal("engine ready after partial run")
	}
	if _, err := e.Stats(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Stats() after partial run error = %v, want ErrNotReady", err)
	}
}

// analysisStub registers an unresolvable HTTP request against a
// function node it creates.
type analysisStub struct{}

func (analysisStub) Metadata() pipeline.Metadata {
	return pipeline.Metadata{Name: "analysis-stub", Phase: pipeline.PhaseAnalysis,
		CreatesNodes: []string{graph.TypeFunction}}
}

func (analysisStub) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var res pipeline.Result
	n := graph.Node{ID: "fn:web#fetch", Type: graph.TypeFunction, Name: "fetch", File: "main.go", Line: 3}
	if err := pc.Store.AddNode(n); err != nil {
		return res, err
	}
	res.NodesCreated++
	pc.Pending.Register(graph.PendingLink{
		Kind:       "http-request",
		SourceID:   n.ID,
		TargetHint: "/api/does-not-exist",
		Metadata:   map[string]interface{}{"method": "GET"},
	})
	return res, nil
}

func TestUnresolvedRequestBecomesIssueNotFailure(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RegisterPlugin(analysisStub{}); err != nil {
		t.Fatalf("RegisterPlugin() error = %v", err)
	}

	summary, err := e.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if summary.Partial {
		t.Fatal("unresolved reference must not abort the run")
	}
	if len(summary.Issues) != 1 {
		t.Fatalf("summary.Issues = %v, want exactly one", summary.Issues)
	}

	issue, err := e.GetNode(summary.Issues[0])
	if err != nil || issue == nil {
		t.Fatalf("issue node missing: %v", err)
	}
	if issue.Metadata["code"] != graph.IssueUnresolvedReference {
		t.Errorf("issue code = %v", issue.Metadata["code"])
	}

	// No REQUESTS edge was fabricated for the failed resolution.
	edges, err := e.Edges("fn:web#fetch", graph.DirectionOutgoing, []string{graph.EdgeRequests})
	if err != nil {
		t.Fatalf("Edges() error = %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("REQUESTS edges = %+v, want none", edges)
	}
}

func TestGuaranteeLifecycle(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	g := guarantee.Guarantee{
		Name: "modules-have-language", Kind: guarantee.KindSchema,
		Priority: guarantee.PriorityObserved, Status: guarantee.StatusActive,
		Schema: &guarantee.SchemaRule{
			NodeType:         graph.TypeModule,
			RequiredMetadata: []string{"language"},
		},
	}
	if err := e.CreateGuarantee(g); err != nil {
		t.Fatalf("CreateGuarantee() error = %v", err)
	}
	if len(e.ListGuarantees()) != 1 {
		t.Fatalf("ListGuarantees() = %v", e.ListGuarantees())
	}

	violations, err := e.CheckGuarantees(context.Background(), nil)
	if err != nil {
		t.Fatalf("CheckGuarantees() error = %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("violations = %+v, indexer should set language on every module", violations)
	}

	if err := e.DeleteGuarantee("modules-have-language"); err != nil {
		t.Fatalf("DeleteGuarantee() error = %v", err)
	}
	if err := e.DeleteGuarantee("modules-have-language"); err == nil {
		t.Fatal("second DeleteGuarantee() should fail")
	}
}

func TestCreateGuaranteeRejectsInvalid(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateGuarantee(guarantee.Guarantee{Name: "bad", Kind: "nope"}); err == nil {
		t.Fatal("CreateGuarantee() with bad kind should fail")
	}
}
