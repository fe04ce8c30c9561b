package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/connexus-ai/resync/internal/model"
)

// Completer is the out-of-core LLM capability LLMExtractor drives. Scoped
// locally so this package doesn't need to import internal/agent or
// internal/gcpclient directly.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMExtractor implements Extractor by asking an LLM to propose candidate
// long-term memories from a closed conversation transcript (spec §4.10).
type LLMExtractor struct {
	llm Completer
}

func NewLLMExtractor(llm Completer) *LLMExtractor {
	return &LLMExtractor{llm: llm}
}

type extractedCandidateJSON struct {
	Kind       string  `json:"kind"`
	Category   string  `json:"category"`
	Content    string  `json:"content"`
	Pattern    string  `json:"pattern"`
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
}

const extractionPrompt = `From the conversation transcript below, extract candidate long-term memories:
declarative facts ("kind":"declarative", needs "content") or procedural
behavior patterns ("kind":"procedural", needs "pattern" and "trigger").
Category must be one of: preference, fact, context, workflow, habit, rule.
Return a JSON array, one object per candidate, each with "kind", "category",
"content", "pattern", "trigger", "confidence" (0-1). Return an empty array
if nothing is worth remembering.

Transcript:
%s`

// Extract asks the LLM for candidates and decodes its JSON response.
func (e *LLMExtractor) Extract(ctx context.Context, transcript string) ([]ExtractedCandidate, error) {
	raw, err := e.llm.Complete(ctx, fmt.Sprintf(extractionPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("memory.LLMExtractor.Extract: %w", err)
	}

	var decoded []extractedCandidateJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("memory.LLMExtractor.Extract: decode LLM response: %w", err)
	}

	candidates := make([]ExtractedCandidate, 0, len(decoded))
	for _, d := range decoded {
		candidates = append(candidates, ExtractedCandidate{
			Kind:       model.MemoryKind(d.Kind),
			Category:   model.MemoryCategory(d.Category),
			Content:    d.Content,
			Pattern:    d.Pattern,
			Trigger:    d.Trigger,
			Confidence: d.Confidence,
		})
	}
	return candidates, nil
}
