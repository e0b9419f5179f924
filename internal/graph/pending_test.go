package graph

import "testing"

func TestPendingLinksTakeConsumesKind(t *testing.T) {
	p := NewPendingLinks()
	p.Register(PendingLink{Kind: "call", SourceID: "A", TargetHint: "handler"})
	p.Register(PendingLink{Kind: "call", SourceID: "B", TargetHint: "fetch"})
	p.Register(PendingLink{Kind: "http-request", SourceID: "C", TargetHint: "/users"})

	if got := p.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	calls := p.Take("call")
	if len(calls) != 2 {
		t.Fatalf("Take(call) = %d links, want 2", len(calls))
	}
	if again := p.Take("call"); again != nil {
		t.Fatalf("second Take(call) = %+v, want nil", again)
	}
	if got := p.Len(); got != 1 {
		t.Fatalf("Len() after take = %d, want 1", got)
	}
	if kinds := p.Kinds(); len(kinds) != 1 || kinds[0] != "http-request" {
		t.Fatalf("Kinds() = %v", kinds)
	}
}

func TestPendingLinksIgnoresInvalid(t *testing.T) {
	p := NewPendingLinks()
	p.Register(PendingLink{Kind: "", SourceID: "A"})
	p.Register(PendingLink{Kind: "call", SourceID: ""})
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestIssueNodeIdentityStable(t *testing.T) {
	a := NewIssueNode(IssueUnresolvedReference, "fn:src/a.ts#doWork", "cannot resolve call", nil)
	b := NewIssueNode(IssueUnresolvedReference, "fn:src/a.ts#doWork", "cannot resolve call", nil)
	if a.ID != b.ID {
		t.Fatalf("issue IDs differ: %s vs %s", a.ID, b.ID)
	}
	if a.File != FileBuiltin || a.Line != 0 {
		t.Fatalf("issue node location = %s:%d, want %s:0", a.File, a.Line, FileBuiltin)
	}
	if a.Metadata["code"] != IssueUnresolvedReference {
		t.Fatalf("issue code = %v", a.Metadata["code"])
	}
}
