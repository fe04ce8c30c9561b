// Package ingestion splits TWS documentation into chunks and ingests them
// into the vector store, deduplicating on content hash.
package ingestion

import (
	"crypto/sha256"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/connexus-ai/resync/internal/model"
)

// Strategy selects the chunking algorithm.
type Strategy string

const (
	StrategyFixedSize      Strategy = "fixed_size"
	StrategyStructureAware Strategy = "structure_aware"
	StrategyTWSOptimized   Strategy = "tws_optimized"
	StrategySemantic       Strategy = "semantic"
)

// RawChunk is a chunk before embedding/contextualization is applied.
type RawChunk struct {
	Content       string
	SectionPath   string
	ParentHeaders []string
	TokenCount    int
}

// Chunker splits document text per the configured strategy.
type Chunker struct {
	chunkSize  int
	overlapPct float64
}

func NewChunker(chunkSize int, overlapPct float64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 768
	}
	if overlapPct <= 0 || overlapPct >= 1 {
		overlapPct = 0.20
	}
	return &Chunker{chunkSize: chunkSize, overlapPct: overlapPct}
}

// Chunk splits text per strategy and returns chunks with their contextualized
// content (title + section path prefix) already applied, per spec §4.7.
func (c *Chunker) Chunk(text, docTitle string, strategy Strategy) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingestion.Chunker.Chunk: text is empty")
	}

	var raw []RawChunk
	switch strategy {
	case StrategyFixedSize:
		raw = c.fixedSize(text)
	case StrategyTWSOptimized:
		raw = c.structureAware(text)
	case StrategySemantic:
		raw = c.semantic(text)
	case StrategyStructureAware, "":
		raw = c.structureAware(text)
	default:
		raw = c.structureAware(text)
	}

	chunks := make([]model.Chunk, 0, len(raw))
	for i, r := range raw {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}

		contextualized := content
		if docTitle != "" || r.SectionPath != "" {
			contextualized = strings.TrimSpace(docTitle+" "+r.SectionPath) + "\n\n" + content
		}

		meta := model.ChunkMetadata{
			SectionPath:   r.SectionPath,
			ParentHeaders: r.ParentHeaders,
			TokenCount:    estimateTokens(content),
		}
		if strategy == StrategyTWSOptimized {
			meta.ErrorCodes = extractErrorCodes(content)
			meta.JobNames = extractJobNames(content)
		}

		chunks = append(chunks, model.Chunk{
			Ordinal:  i,
			Content:  contextualized,
			SHA256:   sha256Hex(contextualized),
			Metadata: meta,
		})
	}
	return chunks, nil
}

// fixedSize splits text into fixed token-count windows with overlap.
func (c *Chunker) fixedSize(text string) []RawChunk {
	words := strings.Fields(text)
	wordsPerChunk := int(float64(c.chunkSize) / 1.3)
	if wordsPerChunk <= 0 {
		wordsPerChunk = 1
	}
	overlapWords := int(math.Ceil(float64(wordsPerChunk) * c.overlapPct))

	var chunks []RawChunk
	step := wordsPerChunk - overlapWords
	if step <= 0 {
		step = wordsPerChunk
	}
	for start := 0; start < len(words); start += step {
		end := start + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, RawChunk{Content: strings.Join(words[start:end], " ")})
		if end == len(words) {
			break
		}
	}
	return chunks
}

var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// structureAware respects markdown headers, preserving the header path
// each paragraph was nested under. Code fences are kept attached to their
// preceding paragraph rather than split mid-block.
func (c *Chunker) structureAware(text string) []RawChunk {
	lines := strings.Split(text, "\n")
	var headerStack []string
	var current strings.Builder
	var chunks []RawChunk
	inFence := false

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, RawChunk{
			Content:       current.String(),
			SectionPath:   strings.Join(headerStack, " > "),
			ParentHeaders: append([]string{}, headerStack...),
		})
		current.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			current.WriteString(line)
			current.WriteString("\n")
			continue
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1])
				title := strings.TrimSpace(m[2])
				if level-1 <= len(headerStack) {
					headerStack = headerStack[:level-1]
				}
				headerStack = append(headerStack, title)
				continue
			}
		}

		current.WriteString(line)
		current.WriteString("\n")

		if !inFence && estimateTokens(current.String()) > c.chunkSize {
			flush()
		}
	}
	flush()
	return chunks
}

// semantic groups adjacent sentences into a single chunk while their
// approximated embedding similarity (lexical Jaccard proxy, no embedder
// dependency at chunk time) stays above a cohesion threshold.
func (c *Chunker) semantic(text string) []RawChunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	const cohesionThreshold = 0.12
	var chunks []RawChunk
	var group []string

	for i, sent := range sentences {
		if len(group) == 0 {
			group = append(group, sent)
			continue
		}
		sim := jaccardSimilarity(group[len(group)-1], sent)
		groupTokens := estimateTokens(strings.Join(group, " "))
		if sim >= cohesionThreshold && groupTokens+estimateTokens(sent) <= c.chunkSize {
			group = append(group, sent)
		} else {
			chunks = append(chunks, RawChunk{Content: strings.Join(group, " ")})
			group = []string{sent}
		}
		if i == len(sentences)-1 && len(group) > 0 {
			chunks = append(chunks, RawChunk{Content: strings.Join(group, " ")})
		}
	}
	if len(chunks) == 0 && len(group) > 0 {
		chunks = append(chunks, RawChunk{Content: strings.Join(group, " ")})
	}
	return chunks
}

func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

var (
	errorCodePattern = regexp.MustCompile(`(?i)\b(RC\s*=?\s*\d+|ABEND\s*[A-Z0-9]*|S0C\d)\b`)
	jobNamePattern   = regexp.MustCompile(`(?i)\b(AWSBH\d+|EQQ\w*\d+)\b`)
)

func extractErrorCodes(text string) []string {
	return dedupe(errorCodePattern.FindAllString(text, -1))
}

func extractJobNames(text string) []string {
	return dedupe(jobNamePattern.FindAllString(text, -1))
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(strings.Fields(text))) * 1.3))
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
