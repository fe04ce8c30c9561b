package retrieval

import (
	"context"
	"testing"
)

type fakeVectorSearcher struct {
	results []ScoredChunk
}

func (f *fakeVectorSearcher) Search(_ context.Context, _ []float32, _ int, _ map[string]string) ([]ScoredChunk, error) {
	return f.results, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeBM25 struct {
	results []ScoredChunk
}

func (f *fakeBM25) Search(_ string, _ int) []ScoredChunk   { return f.results }
func (f *fakeBM25) EnsureBuilt(_ context.Context) error    { return nil }

func TestHybridRetriever_FusesVectorAndBM25(t *testing.T) {
	vec := &fakeVectorSearcher{results: []ScoredChunk{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.5},
	}}
	bm25 := &fakeBM25{results: []ScoredChunk{
		{ChunkID: "b", Score: 10},
		{ChunkID: "c", Score: 5},
	}}

	cfg := DefaultHybridConfig()
	cfg.EnableReranking = false
	hr := NewHybridRetriever(vec, bm25, nil, fakeEmbedder{}, cfg, nil)

	results, err := hr.Retrieve(context.Background(), "how do I recover a failed job", 10, nil)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 fused chunks (a, b, c), got %d: %+v", len(results), results)
	}

	queries, _, _, _ := hr.Metrics().Snapshot()
	if queries != 1 {
		t.Errorf("metrics queries = %d, want 1", queries)
	}
}

func TestHybridRetriever_EmptyQueryErrors(t *testing.T) {
	hr := NewHybridRetriever(&fakeVectorSearcher{}, nil, nil, fakeEmbedder{}, DefaultHybridConfig(), nil)
	if _, err := hr.Retrieve(context.Background(), "", 5, nil); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestApplyGate_SkipsWhenConfident(t *testing.T) {
	candidates := []ScoredChunk{{ChunkID: "x", Score: 0.9}, {ChunkID: "y", Score: 0.2}}
	called := false
	rr := rerankerFunc(func(_ context.Context, _ string, c []ScoredChunk) ([]ScoredChunk, error) {
		called = true
		return c, nil
	})
	_, err := ApplyGate(context.Background(), rr, DefaultGateConfig(), "q", candidates)
	if err != nil {
		t.Fatalf("ApplyGate() error: %v", err)
	}
	if called {
		t.Error("reranker should not be called when top score is confident and margin is wide")
	}
}

func TestApplyGate_TriggersOnLowConfidence(t *testing.T) {
	candidates := []ScoredChunk{{ChunkID: "x", Score: 0.1}, {ChunkID: "y", Score: 0.09}}
	called := false
	rr := rerankerFunc(func(_ context.Context, _ string, c []ScoredChunk) ([]ScoredChunk, error) {
		called = true
		return c, nil
	})
	_, err := ApplyGate(context.Background(), rr, DefaultGateConfig(), "q", candidates)
	if err != nil {
		t.Fatalf("ApplyGate() error: %v", err)
	}
	if !called {
		t.Error("reranker should be called when top score is below low-confidence threshold")
	}
}

type rerankerFunc func(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error)

func (f rerankerFunc) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	return f(ctx, query, candidates)
}
