package graph

import (
	"context"
	"testing"
	"time"

	"github.com/connexus-ai/resync/internal/model"
)

type fakeSource struct {
	nodes []model.GraphNode
	edges []model.GraphEdge
	err   error
	calls int
}

func (f *fakeSource) FetchSnapshot(_ context.Context) ([]model.GraphNode, []model.GraphEdge, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.nodes, f.edges, nil
}

func sampleSource() *fakeSource {
	return &fakeSource{
		nodes: []model.GraphNode{
			{ID: "JOBA", Kind: model.NodeJob, Name: "JOBA"},
			{ID: "JOBB", Kind: model.NodeJob, Name: "JOBB"},
			{ID: "JOBC", Kind: model.NodeJob, Name: "JOBC"},
			{ID: "RES1", Kind: model.NodeResource, Name: "RES1"},
		},
		edges: []model.GraphEdge{
			{From: "JOBB", To: "JOBA", Kind: model.EdgeDependsOn}, // B depends on A
			{From: "JOBC", To: "JOBB", Kind: model.EdgeDependsOn}, // C depends on B
			{From: "JOBA", To: "RES1", Kind: model.EdgeUses},
			{From: "JOBB", To: "RES1", Kind: model.EdgeUses},
		},
	}
}

func TestDependencyChain_WalksAncestors(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	chain, err := g.DependencyChain(context.Background(), "JOBC", 5)
	if err != nil {
		t.Fatalf("DependencyChain() error: %v", err)
	}
	want := map[string]bool{"JOBC": true, "JOBB": true, "JOBA": true}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want 3 entries covering %v", chain, want)
	}
	for _, id := range chain {
		if !want[id] {
			t.Errorf("unexpected node %q in chain %v", id, chain)
		}
	}
}

func TestDependencyChain_ZeroDepthReturnsSelf(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	chain, err := g.DependencyChain(context.Background(), "JOBC", 0)
	if err != nil {
		t.Fatalf("DependencyChain() error: %v", err)
	}
	if len(chain) != 1 || chain[0] != "JOBC" {
		t.Errorf("chain = %v, want [JOBC]", chain)
	}
}

func TestDependencyChain_UnknownJobReturnsSelfOnly(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	chain, err := g.DependencyChain(context.Background(), "NOPE", 5)
	if err != nil {
		t.Fatalf("DependencyChain() error: %v", err)
	}
	if len(chain) != 1 || chain[0] != "NOPE" {
		t.Errorf("chain = %v, want [NOPE]", chain)
	}
}

func TestImpactAnalysis_FindsDescendants(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	impact, err := g.ImpactAnalysis(context.Background(), "JOBA")
	if err != nil {
		t.Fatalf("ImpactAnalysis() error: %v", err)
	}
	found := map[string]bool{}
	for _, d := range impact.DownstreamJobs {
		found[d] = true
	}
	if !found["JOBB"] || !found["JOBC"] {
		t.Errorf("DownstreamJobs = %v, want both JOBB and JOBC", impact.DownstreamJobs)
	}
	if impact.EstimatedImpactLevel != "low" {
		t.Errorf("EstimatedImpactLevel = %q, want low for 2 downstream jobs", impact.EstimatedImpactLevel)
	}
}

func TestResourceConflicts_SharedResourceDetected(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	conflicts, err := g.ResourceConflicts(context.Background(), "JOBA", "JOBB")
	if err != nil {
		t.Fatalf("ResourceConflicts() error: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ResourceID != "RES1" {
		t.Errorf("conflicts = %+v, want one conflict on RES1", conflicts)
	}
}

func TestResourceConflicts_NoOverlapReturnsEmpty(t *testing.T) {
	src := sampleSource()
	src.edges = append(src.edges, model.GraphEdge{From: "JOBC", To: "JOBC", Kind: model.EdgeDependsOn})
	g := NewKnowledgeGraph(src, time.Minute, nil)
	conflicts, err := g.ResourceConflicts(context.Background(), "JOBC", "JOBA")
	if err != nil {
		t.Fatalf("ResourceConflicts() error: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %+v, want none (JOBC uses no resources)", conflicts)
	}
}

func TestCriticalJobs_RanksHighCentralityFirst(t *testing.T) {
	g := NewKnowledgeGraph(sampleSource(), time.Minute, nil)
	ranked, err := g.CriticalJobs(context.Background(), 2)
	if err != nil {
		t.Fatalf("CriticalJobs() error: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %v, want top 2", ranked)
	}
	if ranked[0] != "JOBA" {
		t.Errorf("top critical job = %q, want JOBA (reachable from both B and C)", ranked[0])
	}
}

func TestKnowledgeGraph_SourceFailureServesStaleSnapshot(t *testing.T) {
	src := sampleSource()
	g := NewKnowledgeGraph(src, time.Millisecond, nil)

	if _, err := g.DependencyChain(context.Background(), "JOBC", 5); err != nil {
		t.Fatalf("initial DependencyChain() error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	src.err = context.DeadlineExceeded
	chain, err := g.DependencyChain(context.Background(), "JOBC", 5)
	if err != nil {
		t.Fatalf("DependencyChain() after source failure returned error, want graceful fallback: %v", err)
	}
	if len(chain) == 0 {
		t.Error("expected stale snapshot to still serve queries after source failure")
	}
}

func TestKnowledgeGraph_NoSourceReturnsEmptyNotError(t *testing.T) {
	g := NewKnowledgeGraph(nil, time.Minute, nil)
	chain, err := g.DependencyChain(context.Background(), "JOBA", 5)
	if err != nil {
		t.Fatalf("DependencyChain() error: %v, want nil error when graph unavailable", err)
	}
	if chain != nil {
		t.Errorf("chain = %v, want nil when no source configured", chain)
	}
}
