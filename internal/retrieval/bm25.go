package retrieval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/connexus-ai/resync/internal/model"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75

	boostJobName   = 4.0
	boostErrorCode = 3.5
	boostWorkstation = 3.0
)

// Domain identifier patterns the tokenizer preserves as single tokens
// instead of splitting on internal digits/punctuation.
var (
	patternAWSBH       = regexp.MustCompile(`(?i)AWSBH\d+`)
	patternEQQ         = regexp.MustCompile(`(?i)EQQQ\w+\d+`)
	patternABEND       = regexp.MustCompile(`(?i)ABEND\w*`)
	patternRC          = regexp.MustCompile(`(?i)RC\s*=?\s*(\d+)`)
	patternWorkstation = regexp.MustCompile(`(?i)\bWS[A-Z0-9]{2,}\b`)
	patternSplitNonAlnum = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
)

// Tokenize splits text into domain-aware tokens: TWS identifiers are
// preserved whole, RC codes are normalized to a canonical family, and
// everything else is lowercased and split on non-alphanumerics.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	remaining := text

	// Extract and normalize RC codes first since "RC=8", "rc 8", "RC8" must
	// collapse to the same token family regardless of surrounding text.
	remaining = patternRC.ReplaceAllStringFunc(remaining, func(m string) string {
		sub := patternRC.FindStringSubmatch(m)
		n := sub[1]
		tokens = append(tokens, "rc_"+n, "rc"+n)
		return " "
	})

	for _, pat := range []*regexp.Regexp{patternAWSBH, patternEQQ, patternABEND} {
		remaining = pat.ReplaceAllStringFunc(remaining, func(m string) string {
			tokens = append(tokens, strings.ToLower(m))
			return " "
		})
	}

	lower := strings.ToLower(remaining)
	for _, tok := range patternSplitNonAlnum.Split(lower, -1) {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// bm25Document is a corpus entry held in the index.
type bm25Document struct {
	chunk     model.Chunk
	tokens    []string
	termFreq  map[string]int
	fieldHits map[string]float64 // term -> boost multiplier earned from metadata fields
	length    int
}

// bm25Snapshot is the immutable index state, swapped atomically on rebuild.
type bm25Snapshot struct {
	docs       []bm25Document
	docFreq    map[string]int
	avgDocLen  float64
}

// BM25Index is an in-memory inverted index over the chunk corpus with
// TWS-aware tokenization and field boosting. Rebuilds are globally
// serialized; readers during a rebuild keep using the previous snapshot
// via an atomic pointer swap (single-writer-many-readers, per spec §5).
type BM25Index struct {
	snapshot atomic.Pointer[bm25Snapshot]
	source   DocumentLister
}

// DocumentLister abstracts the corpus source BM25Index builds from.
type DocumentLister interface {
	GetAllDocuments(ctx context.Context, limit int) ([]model.Chunk, error)
}

// NewBM25Index creates an empty index bound to a document source.
func NewBM25Index(source DocumentLister) *BM25Index {
	idx := &BM25Index{source: source}
	idx.snapshot.Store(&bm25Snapshot{docFreq: map[string]int{}})
	return idx
}

// Rebuild reads the full corpus from the document source and replaces the
// index snapshot atomically.
func (b *BM25Index) Rebuild(ctx context.Context, limit int) error {
	chunks, err := b.source.GetAllDocuments(ctx, limit)
	if err != nil {
		return fmt.Errorf("bm25.Rebuild: %w", err)
	}

	docs := make([]bm25Document, 0, len(chunks))
	docFreq := map[string]int{}
	var totalLen int

	for _, c := range chunks {
		tokens := Tokenize(c.Content)
		tf := map[string]int{}
		for _, t := range tokens {
			tf[t]++
		}
		fieldHits := map[string]float64{}
		for _, jn := range c.Metadata.JobNames {
			for _, t := range Tokenize(jn) {
				if boostJobName > fieldHits[t] {
					fieldHits[t] = boostJobName
				}
			}
		}
		for _, ec := range c.Metadata.ErrorCodes {
			for _, t := range Tokenize(ec) {
				if boostErrorCode > fieldHits[t] {
					fieldHits[t] = boostErrorCode
				}
			}
		}
		if ws := c.Metadata.Platform; ws != "" {
			for _, t := range Tokenize(ws) {
				if boostWorkstation > fieldHits[t] {
					fieldHits[t] = boostWorkstation
				}
			}
		}

		for term := range tf {
			docFreq[term]++
		}
		totalLen += len(tokens)

		docs = append(docs, bm25Document{
			chunk:     c,
			tokens:    tokens,
			termFreq:  tf,
			fieldHits: fieldHits,
			length:    len(tokens),
		})
	}

	avgDocLen := 0.0
	if len(docs) > 0 {
		avgDocLen = float64(totalLen) / float64(len(docs))
	}

	b.snapshot.Store(&bm25Snapshot{docs: docs, docFreq: docFreq, avgDocLen: avgDocLen})
	return nil
}

// EnsureBuilt rebuilds the index if it has never been built.
func (b *BM25Index) EnsureBuilt(ctx context.Context) error {
	if len(b.snapshot.Load().docs) > 0 {
		return nil
	}
	return b.Rebuild(ctx, 100_000)
}

// Search returns chunks ranked by BM25 score descending. An empty query
// returns an empty slice, not an error.
func (b *BM25Index) Search(query string, topK int) []ScoredChunk {
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	snap := b.snapshot.Load()
	n := len(snap.docs)
	if n == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var scores []scored

	for i, doc := range snap.docs {
		var score float64
		for _, term := range qTokens {
			tf, ok := doc.termFreq[term]
			if !ok {
				continue
			}
			df := snap.docFreq[term]
			if df == 0 {
				continue
			}
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			numerator := float64(tf) * (bm25K1 + 1)
			denominator := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(doc.length)/maxf(snap.avgDocLen, 1))
			termScore := idf * numerator / denominator
			if boost, ok := doc.fieldHits[term]; ok {
				termScore *= boost
			}
			score += termScore
		}
		if score > 0 {
			scores = append(scores, scored{i, score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}

	results := make([]ScoredChunk, len(scores))
	for i, s := range scores {
		d := snap.docs[s.idx]
		results[i] = ScoredChunk{
			DocumentID: d.chunk.DocumentID,
			ChunkID:    d.chunk.ChunkID,
			Content:    d.chunk.Content,
			Metadata:   d.chunk.Metadata,
			Score:      s.score,
		}
	}
	return results
}

// Size returns the number of documents currently indexed.
func (b *BM25Index) Size() int {
	return len(b.snapshot.Load().docs)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// HasEntityPattern reports whether text contains a TWS identifier: job
// name, error code, or similar domain token the EXACT_MATCH classifier
// and IntentClassifier both key off of.
func HasEntityPattern(text string) bool {
	return patternAWSBH.MatchString(text) || patternEQQ.MatchString(text) ||
		patternABEND.MatchString(text) || patternRC.MatchString(text)
}

// ExtractEntities pulls job names, error codes, and workstations out of text
// using the same identifier patterns the tokenizer preserves, so
// IntentClassifier's entity extraction stays consistent with BM25 boosting.
func ExtractEntities(text string) model.Entities {
	var jobs, codes, workstations []string
	jobs = append(jobs, patternAWSBH.FindAllString(text, -1)...)
	jobs = append(jobs, patternEQQ.FindAllString(text, -1)...)
	codes = append(codes, patternABEND.FindAllString(text, -1)...)
	codes = append(codes, patternRC.FindAllString(text, -1)...)
	workstations = patternWorkstation.FindAllString(text, -1)
	return model.Entities{
		Jobs:         dedupeStrings(jobs),
		Codes:        dedupeStrings(codes),
		Workstations: dedupeStrings(workstations),
	}
}

func dedupeStrings(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
