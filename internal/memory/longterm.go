package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// Extractor is the out-of-core LLM-driven capability that proposes
// candidate long-term memories from a closed conversation.
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]ExtractedCandidate, error)
}

// ExtractedCandidate is raw extractor output before validation/storage.
type ExtractedCandidate struct {
	Kind       model.MemoryKind
	Category   model.MemoryCategory
	Content    string
	Pattern    string
	Trigger    string
	Confidence float64
}

func (c ExtractedCandidate) valid() bool {
	if c.Confidence < 0 || c.Confidence > 1 {
		return false
	}
	switch c.Kind {
	case model.MemoryDeclarative:
		return c.Content != ""
	case model.MemoryProcedural:
		return c.Pattern != "" && c.Trigger != ""
	default:
		return false
	}
}

// Embedder produces embeddings for push-mode retrieval.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store abstracts long-term memory persistence for testability.
type Store interface {
	Insert(ctx context.Context, entry model.LongTermMemoryEntry) error
	FindByContentHash(ctx context.Context, userID, contentHash string) (bool, error)
	Pull(ctx context.Context, userID string, category *model.MemoryCategory, minConfidence float64) ([]model.LongTermMemoryEntry, error)
	SetVerification(ctx context.Context, memoryID string, status model.VerificationStatus) error
	DeleteByUser(ctx context.Context, userID string) (int, error)
	AllWithEmbeddings(ctx context.Context, userID string) ([]model.LongTermMemoryEntry, error)
}

// LongTermMemory persists facts and behavior patterns extracted from
// closed sessions (spec §4.11).
type LongTermMemory struct {
	store     Store
	extractor Extractor
	embedder  Embedder
}

func NewLongTermMemory(store Store, extractor Extractor, embedder Embedder) *LongTermMemory {
	return &LongTermMemory{store: store, extractor: extractor, embedder: embedder}
}

func contentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}

// ExtractAndStore runs the extractor over a closed session's transcript and
// stores validated, non-duplicate candidates.
func (l *LongTermMemory) ExtractAndStore(ctx context.Context, userID, sessionID, transcript string) (int, error) {
	candidates, err := l.extractor.Extract(ctx, transcript)
	if err != nil {
		return 0, errs.NewIntegrationError("long_term_memory_extractor", err)
	}

	stored := 0
	for _, c := range candidates {
		if !c.valid() {
			continue
		}

		hashed := c.Content
		if c.Kind == model.MemoryProcedural {
			hashed = c.Pattern + "|" + c.Trigger
		}
		hash := contentHash(hashed)

		dup, err := l.store.FindByContentHash(ctx, userID, hash)
		if err != nil {
			return stored, fmt.Errorf("memory.LongTermMemory.ExtractAndStore: %w", err)
		}
		if dup {
			continue
		}

		var embedding []float32
		if l.embedder != nil {
			embedTexts := []string{hashed}
			vecs, err := l.embedder.Embed(ctx, embedTexts)
			if err == nil && len(vecs) == 1 {
				embedding = vecs[0]
			}
		}

		entry := model.LongTermMemoryEntry{
			MemoryID:    uuid.NewString(),
			UserID:      userID,
			Kind:        c.Kind,
			Category:    c.Category,
			Content:     c.Content,
			Pattern:     c.Pattern,
			Trigger:     c.Trigger,
			Confidence:  c.Confidence,
			Embedding:   embedding,
			ContentHash: hash,
			Provenance: model.Provenance{
				SourceSession:      sessionID,
				ExtractedAt:        time.Now(),
				VerificationStatus: model.VerificationUnverified,
			},
		}
		if err := l.store.Insert(ctx, entry); err != nil {
			return stored, fmt.Errorf("memory.LongTermMemory.ExtractAndStore: %w", err)
		}
		stored++
	}
	return stored, nil
}

// Pull performs explicit-query retrieval: ranked by confidence, filtered
// by optional category and minimum confidence.
func (l *LongTermMemory) Pull(ctx context.Context, userID string, category *model.MemoryCategory, minConfidence float64) ([]model.LongTermMemoryEntry, error) {
	entries, err := l.store.Pull(ctx, userID, category, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("memory.LongTermMemory.Pull: %w", err)
	}
	entries = excludeRejected(entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Confidence > entries[j].Confidence })
	return entries, nil
}

// Push embeds the current query and returns memories whose content
// embedding exceeds the similarity threshold, to silently enrich prompts.
func (l *LongTermMemory) Push(ctx context.Context, userID, query string, threshold float64) ([]model.LongTermMemoryEntry, error) {
	if l.embedder == nil {
		return nil, nil
	}
	vecs, err := l.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, errs.NewIntegrationError("embedder", err)
	}
	if len(vecs) != 1 {
		return nil, nil
	}
	queryVec := vecs[0]

	all, err := l.store.AllWithEmbeddings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memory.LongTermMemory.Push: %w", err)
	}
	all = excludeRejected(all)

	type scored struct {
		entry model.LongTermMemoryEntry
		sim   float64
	}
	var ranked []scored
	for _, e := range all {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryVec, e.Embedding)
		if sim >= threshold {
			ranked = append(ranked, scored{e, sim})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	out := make([]model.LongTermMemoryEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out, nil
}

func excludeRejected(entries []model.LongTermMemoryEntry) []model.LongTermMemoryEntry {
	out := make([]model.LongTermMemoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Provenance.VerificationStatus != model.VerificationRejected {
			out = append(out, e)
		}
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ConfirmMemory marks an entry as confirmed by the user.
func (l *LongTermMemory) ConfirmMemory(ctx context.Context, memoryID string) error {
	return l.store.SetVerification(ctx, memoryID, model.VerificationConfirmed)
}

// RejectMemory marks an entry as rejected, excluding it from future retrieval.
func (l *LongTermMemory) RejectMemory(ctx context.Context, memoryID string) error {
	return l.store.SetVerification(ctx, memoryID, model.VerificationRejected)
}

// DeleteUserMemories removes all entries for a user (privacy compliance).
func (l *LongTermMemory) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	n, err := l.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("memory.LongTermMemory.DeleteUserMemories: %w", err)
	}
	return n, nil
}
