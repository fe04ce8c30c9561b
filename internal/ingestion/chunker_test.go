package ingestion

import (
	"strings"
	"testing"
)

func TestChunk_StructureAwarePreservesSectionPath(t *testing.T) {
	text := "# Overview\nIntro paragraph about scheduling.\n\n## Recovery\nRestart failed jobs via conman."
	c := NewChunker(50, 0.2)

	chunks, err := c.Chunk(text, "TWS Admin Guide", StrategyStructureAware)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	var sawRecovery bool
	for _, ch := range chunks {
		if strings.Contains(ch.Metadata.SectionPath, "Recovery") {
			sawRecovery = true
		}
		if !strings.Contains(ch.Content, "TWS Admin Guide") {
			t.Errorf("contextualized content missing title prefix: %q", ch.Content)
		}
	}
	if !sawRecovery {
		t.Errorf("expected a chunk under the Recovery section, got %+v", chunks)
	}
}

func TestChunk_TWSOptimizedExtractsMetadata(t *testing.T) {
	text := "Job AWSBH001 abended with RC=8, see EQQJOB123 for detail."
	c := NewChunker(200, 0.2)

	chunks, err := c.Chunk(text, "Runbook", StrategyTWSOptimized)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	meta := chunks[0].Metadata
	if len(meta.JobNames) == 0 {
		t.Error("expected JobNames to be populated")
	}
	if len(meta.ErrorCodes) == 0 {
		t.Error("expected ErrorCodes to be populated")
	}
}

func TestChunk_FixedSizeRespectsWindowCount(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")
	c := NewChunker(50, 0.2)

	chunks, err := c.Chunk(text, "", StrategyFixedSize)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected multiple fixed-size windows for 300 words, got %d", len(chunks))
	}
}

func TestChunk_SemanticGroupsCohesiveSentences(t *testing.T) {
	text := "Jobs run on workstations. Workstations host job execution. " +
		"The weather today is sunny. Rain is expected tomorrow afternoon."
	c := NewChunker(200, 0.2)

	chunks, err := c.Chunk(text, "", StrategySemantic)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one semantic chunk")
	}
}

func TestChunk_EmptyTextErrors(t *testing.T) {
	c := NewChunker(200, 0.2)
	if _, err := c.Chunk("   ", "", StrategyStructureAware); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestChunk_DefaultsToStructureAware(t *testing.T) {
	c := NewChunker(200, 0.2)
	chunks, err := c.Chunk("# Title\nbody text here", "Doc", "")
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks from default strategy")
	}
}
