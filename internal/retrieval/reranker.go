package retrieval

import "context"

// Reranker rescoring candidates; implementations include NoOp (identity,
// default when reranking disabled) and CrossEncoder (delegates to an
// external model capability — out of core per spec §1).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error)
}

// NoOpReranker returns candidates unchanged.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	return candidates, nil
}

// CrossEncoderCapability is the out-of-core scoring capability a real
// cross-encoder reranker delegates to.
type CrossEncoderCapability interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// CrossEncoderReranker scores candidates with an external cross-encoder model.
type CrossEncoderReranker struct {
	capability CrossEncoderCapability
}

func NewCrossEncoderReranker(capability CrossEncoderCapability) *CrossEncoderReranker {
	return &CrossEncoderReranker{capability: capability}
}

func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}
	scores, err := r.capability.Score(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredChunk, len(candidates))
	for i, c := range candidates {
		c.Score = scores[i]
		out[i] = c
	}
	return out, nil
}

// GateConfig holds the thresholds that decide whether reranking activates.
type GateConfig struct {
	LowConfidenceThreshold float64 // default 0.35
	MarginThreshold        float64 // default 0.05
	MaxCandidates          int     // default 10
}

func DefaultGateConfig() GateConfig {
	return GateConfig{LowConfidenceThreshold: 0.35, MarginThreshold: 0.05, MaxCandidates: 10}
}

// ApplyGate decides whether the candidate list is "uncertain enough" to
// warrant the expense of reranking: the top score is below the
// low-confidence threshold, or the margin between rank 1 and rank 2 is
// below the margin threshold. Candidates are always capped to MaxCandidates
// before being handed to the reranker.
func ApplyGate(ctx context.Context, reranker Reranker, gate GateConfig, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	capped := candidates
	if gate.MaxCandidates > 0 && len(capped) > gate.MaxCandidates {
		capped = capped[:gate.MaxCandidates]
	}

	top := capped[0].Score
	uncertain := top < gate.LowConfidenceThreshold
	if !uncertain && len(capped) > 1 {
		margin := capped[0].Score - capped[1].Score
		uncertain = margin < gate.MarginThreshold
	}

	if !uncertain {
		return candidates, nil
	}
	return reranker.Rerank(ctx, query, capped)
}
