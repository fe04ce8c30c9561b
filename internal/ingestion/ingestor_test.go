package ingestion

import (
	"context"
	"testing"

	"github.com/connexus-ai/resync/internal/model"
)

type fakeStore struct {
	existing       map[string]bool
	upserted       []model.Chunk
	deletedDocs    []string
	upsertErr      error
}

func (f *fakeStore) ExistsBySHA256(_ context.Context, sha256Hash, _ string) (bool, error) {
	return f.existing[sha256Hash], nil
}

func (f *fakeStore) Upsert(_ context.Context, chunks []model.Chunk) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeStore) DeleteByDocumentID(_ context.Context, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestIngest_SkipsDuplicateContent(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	ig := NewIngestor(store, fakeEmbedder{}, "read_coll", "write_coll", 128, nil)

	chunks := []model.Chunk{
		{ChunkID: "a-0", SHA256: "hash1", Content: "first chunk"},
		{ChunkID: "a-1", SHA256: "hash2", Content: "second chunk"},
	}
	store.existing["hash1"] = true // dedup hit

	if err := ig.Ingest(context.Background(), "docA", chunks); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("expected 1 chunk upserted (dedup skip), got %d", len(store.upserted))
	}
	if store.upserted[0].ChunkID != "a-1" {
		t.Errorf("expected hash2 chunk upserted, got %+v", store.upserted[0])
	}

	_, _, dedupHits := ig.Metrics().Snapshot()
	if dedupHits != 1 {
		t.Errorf("dedupHits = %d, want 1", dedupHits)
	}
}

func TestIngest_BatchesAcrossBoundary(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	ig := NewIngestor(store, fakeEmbedder{}, "read_coll", "write_coll", 2, nil)

	chunks := []model.Chunk{
		{ChunkID: "a-0", SHA256: "h0", Content: "c0"},
		{ChunkID: "a-1", SHA256: "h1", Content: "c1"},
		{ChunkID: "a-2", SHA256: "h2", Content: "c2"},
	}
	if err := ig.Ingest(context.Background(), "docA", chunks); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(store.upserted) != 3 {
		t.Fatalf("expected all 3 chunks upserted across batches, got %d", len(store.upserted))
	}
	for _, c := range store.upserted {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %s missing embedding after ingest", c.ChunkID)
		}
	}
}

func TestReindex_DeletesThenIngests(t *testing.T) {
	store := &fakeStore{existing: map[string]bool{}}
	ig := NewIngestor(store, fakeEmbedder{}, "read_coll", "write_coll", 128, nil)

	chunks := []model.Chunk{{ChunkID: "a-0", SHA256: "h0", Content: "c0"}}
	if err := ig.Reindex(context.Background(), "docA", chunks); err != nil {
		t.Fatalf("Reindex() error: %v", err)
	}
	if len(store.deletedDocs) != 1 || store.deletedDocs[0] != "docA" {
		t.Errorf("deletedDocs = %v, want [docA]", store.deletedDocs)
	}
	if len(store.upserted) != 1 {
		t.Errorf("expected chunk re-ingested after delete, got %d upserted", len(store.upserted))
	}
}
