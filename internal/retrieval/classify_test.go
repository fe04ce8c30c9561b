package retrieval

import (
	"testing"
	"time"
)

func TestClassifyQuery_ExactMatchForBareIdentifier(t *testing.T) {
	if mode := ClassifyQuery("AWSBH001"); mode != ModeExactMatch {
		t.Errorf("ClassifyQuery(%q) = %v, want EXACT_MATCH", "AWSBH001", mode)
	}
}

func TestClassifyQuery_MixedForIdentifierInSentence(t *testing.T) {
	mode := ClassifyQuery("why does job AWSBH001 keep failing with RC=8")
	if mode != ModeMixed {
		t.Errorf("ClassifyQuery() = %v, want MIXED", mode)
	}
}

func TestClassifyQuery_SemanticForNaturalLanguage(t *testing.T) {
	mode := ClassifyQuery("what should I do when a critical job abends overnight")
	if mode != ModeSemantic {
		t.Errorf("ClassifyQuery() = %v, want SEMANTIC", mode)
	}
}

func TestClassifyQuery_DefaultForEmpty(t *testing.T) {
	if mode := ClassifyQuery(""); mode != ModeDefault {
		t.Errorf("ClassifyQuery(\"\") = %v, want DEFAULT", mode)
	}
}

func TestWeightsFor_ModeSpecificWeights(t *testing.T) {
	defaults := FusionWeights{Vector: 0.6, BM25: 0.4}
	cases := map[QueryMode]FusionWeights{
		ModeExactMatch: {Vector: 0.2, BM25: 0.8},
		ModeSemantic:   {Vector: 0.8, BM25: 0.2},
		ModeMixed:      {Vector: 0.5, BM25: 0.5},
		ModeDefault:    defaults,
	}
	for mode, want := range cases {
		if got := weightsFor(mode, defaults); got != want {
			t.Errorf("weightsFor(%v) = %+v, want %+v", mode, got, want)
		}
	}
}

func TestClassifyCache_PutThenGet(t *testing.T) {
	c := NewClassifyCache(10, time.Minute)
	c.Put("Job AWSBH001 status", ModeMixed)

	mode, ok := c.Get("job awsbh001   status")
	if !ok {
		t.Fatal("expected cache hit on normalized query")
	}
	if mode != ModeMixed {
		t.Errorf("Get() = %v, want MIXED", mode)
	}
}

func TestClassifyCache_MissReturnsFalse(t *testing.T) {
	c := NewClassifyCache(10, time.Minute)
	if _, ok := c.Get("never seen"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestClassifyCache_TTLExpiry(t *testing.T) {
	c := NewClassifyCache(10, time.Millisecond)
	c.Put("expiring query", ModeSemantic)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("expiring query"); ok {
		t.Error("expected entry to have expired")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired entry is evicted on Get", c.Len())
	}
}

func TestClassifyCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewClassifyCache(2, time.Minute)
	c.Put("first", ModeSemantic)
	c.Put("second", ModeMixed)
	c.Put("third", ModeExactMatch) // evicts "first"

	if _, ok := c.Get("first"); ok {
		t.Error("expected \"first\" to be evicted once capacity exceeded")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("expected \"second\" to still be cached")
	}
	if _, ok := c.Get("third"); !ok {
		t.Error("expected \"third\" to still be cached")
	}
}

func TestClassifyCache_UpdateRefreshesEntry(t *testing.T) {
	c := NewClassifyCache(10, time.Minute)
	c.Put("job status", ModeSemantic)
	c.Put("job status", ModeMixed)

	mode, ok := c.Get("job status")
	if !ok || mode != ModeMixed {
		t.Errorf("Get() = (%v, %v), want (MIXED, true) after update", mode, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (update should not create a duplicate entry)", c.Len())
	}
}
