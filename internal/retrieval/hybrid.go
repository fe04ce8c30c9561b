package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Embedder abstracts query embedding for testability.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BM25Searcher abstracts keyword search for testability (BM25Index satisfies it).
type BM25Searcher interface {
	Search(query string, topK int) []ScoredChunk
	EnsureBuilt(ctx context.Context) error
}

// HybridConfig holds the tunables from spec §6 Retrieval.
type HybridConfig struct {
	VectorTopK          int
	EnableReranking     bool
	RerankTopK          int
	DefaultWeights      FusionWeights
	Gate                GateConfig
	ClassifyCacheSize   int
	ClassifyCacheTTL    time.Duration
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorTopK:        20,
		EnableReranking:   true,
		RerankTopK:        5,
		DefaultWeights:    FusionWeights{Vector: 0.6, BM25: 0.4},
		Gate:              DefaultGateConfig(),
		ClassifyCacheSize: 1000,
		ClassifyCacheTTL:  30 * time.Minute,
	}
}

// RetrievalMetrics aggregates per-query observability.
type RetrievalMetrics struct {
	mu          sync.Mutex
	queries     int
	cacheHits   int
	cacheMisses int
	totalLatency time.Duration
}

func (m *RetrievalMetrics) record(latency time.Duration, cacheHit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	m.totalLatency += latency
	if cacheHit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

// Snapshot returns aggregated stats: query count, cache hit rate, avg latency.
func (m *RetrievalMetrics) Snapshot() (queries, cacheHits, cacheMisses int, avgLatency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queries == 0 {
		return 0, 0, 0, 0
	}
	return m.queries, m.cacheHits, m.cacheMisses, m.totalLatency / time.Duration(m.queries)
}

// HybridRetriever composes VectorStore + BM25Index + Reranker, selecting a
// retrieval mode per query and fusing results per spec §4.4.
type HybridRetriever struct {
	vectorStore VectorSearcher
	bm25        BM25Searcher
	reranker    Reranker
	embedder    Embedder
	cache       *ClassifyCache
	cfg         HybridConfig
	metrics     RetrievalMetrics
	log         *slog.Logger
}

// NewHybridRetriever wires the three retrieval components together.
func NewHybridRetriever(vectorStore VectorSearcher, bm25 BM25Searcher, reranker Reranker, embedder Embedder, cfg HybridConfig, log *slog.Logger) *HybridRetriever {
	if reranker == nil {
		reranker = NoOpReranker{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HybridRetriever{
		vectorStore: vectorStore,
		bm25:        bm25,
		reranker:    reranker,
		embedder:    embedder,
		cache:       NewClassifyCache(cfg.ClassifyCacheSize, cfg.ClassifyCacheTTL),
		cfg:         cfg,
		log:         log,
	}
}

// Metrics exposes the retriever's aggregated metrics accessor.
func (h *HybridRetriever) Metrics() *RetrievalMetrics { return &h.metrics }

// Retrieve classifies the query, fans out to vector + BM25 search
// concurrently, fuses by weighted min-max normalization, applies gated
// reranking, and returns the top k results.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("retrieval.Retrieve: query is empty")
	}
	start := time.Now()

	mode, cacheHit := h.cache.Get(query)
	if !cacheHit {
		mode = ClassifyQuery(query)
		h.cache.Put(query, mode)
	}
	weights := weightsFor(mode, h.cfg.DefaultWeights)

	// spec §4.4: K_init = 4*k, the candidate pool each leg searches before
	// fusion and reranking narrow it back down to k. VectorTopK caps it so
	// a caller passing an unexpectedly large k doesn't blow out the ANN scan.
	initK := 4 * k
	if initK <= 0 {
		initK = h.cfg.VectorTopK
	}
	if initK <= 0 {
		initK = 20
	}
	if h.cfg.VectorTopK > 0 && initK > h.cfg.VectorTopK {
		initK = h.cfg.VectorTopK
	}

	var vectorResults, bm25Results []ScoredChunk
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.embedder == nil || h.vectorStore == nil {
			return nil
		}
		vecs, err := h.embedder.Embed(gCtx, []string{query})
		if err != nil {
			return fmt.Errorf("retrieval.Retrieve: embed: %w", err)
		}
		vectorResults, err = h.vectorStore.Search(gCtx, vecs[0], initK, filters)
		return err
	})

	if h.bm25 != nil {
		g.Go(func() error {
			if err := h.bm25.EnsureBuilt(gCtx); err != nil {
				return err
			}
			bm25Results = h.bm25.Search(query, initK)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval.Retrieve: search: %w", err)
	}

	fused := fuse(vectorResults, bm25Results, weights)

	capped := fused
	if h.cfg.Gate.MaxCandidates > 0 && len(capped) > h.cfg.Gate.MaxCandidates {
		capped = capped[:h.cfg.Gate.MaxCandidates]
	}

	final := capped
	if h.cfg.EnableReranking {
		reranked, err := ApplyGate(ctx, h.reranker, h.cfg.Gate, query, capped)
		if err != nil {
			h.log.Warn("reranker failed, using fused order", "error", err)
		} else {
			final = reranked
			sort.SliceStable(final, func(i, j int) bool { return final[i].Score > final[j].Score })
		}
	}

	if k > 0 && len(final) > k {
		final = final[:k]
	}

	h.metrics.record(time.Since(start), cacheHit)
	h.log.Debug("hybrid retrieve complete", "mode", mode, "cache_hit", cacheHit, "results", len(final))
	return final, nil
}

// fuse combines vector and BM25 result lists by min-max normalizing each
// list's scores into [0,1] and computing a weighted sum; chunks missing
// from a list contribute 0 on that side.
func fuse(vectorResults, bm25Results []ScoredChunk, weights FusionWeights) []ScoredChunk {
	vNorm := minMaxNormalize(vectorResults)
	bNorm := minMaxNormalize(bm25Results)

	type fusedEntry struct {
		chunk ScoredChunk
		score float64
	}
	byID := make(map[string]*fusedEntry)

	for i, c := range vectorResults {
		byID[c.ChunkID] = &fusedEntry{chunk: c, score: weights.Vector * vNorm[i]}
	}
	for i, c := range bm25Results {
		if e, ok := byID[c.ChunkID]; ok {
			e.score += weights.BM25 * bNorm[i]
		} else {
			byID[c.ChunkID] = &fusedEntry{chunk: c, score: weights.BM25 * bNorm[i]}
		}
	}

	entries := make([]*fusedEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	out := make([]ScoredChunk, len(entries))
	for i, e := range entries {
		c := e.chunk
		c.Score = e.score
		out[i] = c
	}
	return out
}

func minMaxNormalize(results []ScoredChunk) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	span := max - min
	for i, r := range results {
		if span == 0 {
			out[i] = 1
			continue
		}
		out[i] = (r.Score - min) / span
	}
	return out
}

// AnnotateWithGraph merges graph facts onto retrieved chunks when the
// QueryRouter decided both retrieval paths should run.
func AnnotateWithGraph(chunks []ScoredChunk, graphFacts map[string]string) []ScoredChunk {
	if len(graphFacts) == 0 {
		return chunks
	}
	out := make([]ScoredChunk, len(chunks))
	copy(out, chunks)
	for i, c := range out {
		if fact, ok := graphFacts[c.ChunkID]; ok {
			c.Content = c.Content + "\n\n[graph] " + fact
			out[i] = c
		}
	}
	return out
}
