// Package retrieval implements Resync's hybrid retrieval engine: the
// two-phase vector store, the in-memory BM25 index, the gated reranker,
// and the hybrid retriever that fuses them.
package retrieval

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// VectorSearcher abstracts two-phase similarity search for testability.
type VectorSearcher interface {
	Search(ctx context.Context, queryVec []float32, k int, filters map[string]string) ([]ScoredChunk, error)
}

// ScoredChunk is a chunk returned by VectorStore or BM25Index with its score.
type ScoredChunk struct {
	DocumentID string
	ChunkID    string
	Content    string
	Metadata   model.ChunkMetadata
	Score      float64
}

// PGVectorStore persists chunk embeddings in Postgres with the pgvector
// extension and performs the two-phase ANN search specified in §4.1:
// a Hamming-distance candidate phase over a binary quantization, followed
// by a cosine rescore phase over half-precision embeddings.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	collection string
	dim        int
	log        *slog.Logger
}

// NewPGVectorStore creates a PGVectorStore bound to a collection.
func NewPGVectorStore(pool *pgxpool.Pool, collection string, dim int, log *slog.Logger) *PGVectorStore {
	if log == nil {
		log = slog.Default()
	}
	return &PGVectorStore{pool: pool, collection: collection, dim: dim, log: log}
}

var _ VectorSearcher = (*PGVectorStore)(nil)

// Search performs the candidate phase (binary Hamming ANN) followed by the
// rescore phase (halfvec cosine), returning the top k chunks. Metadata
// filters are applied as exact-equality predicates in the candidate phase.
func (s *PGVectorStore) Search(ctx context.Context, queryVec []float32, k int, filters map[string]string) ([]ScoredChunk, error) {
	if len(queryVec) != s.dim {
		return nil, errs.NewValidationError("queryVec", fmt.Sprintf("dimension %d != collection dimension %d", len(queryVec), s.dim))
	}
	if k <= 0 {
		return nil, nil
	}

	candidateN := 10 * k
	if candidateN < 50 {
		candidateN = 50
	}

	vec := pgvector.NewVector(queryVec)

	query := `
		WITH candidates AS (
			SELECT document_id, chunk_id, content, metadata, embedding_half
			FROM document_embeddings
			WHERE collection = $1`
	args := []any{s.collection}
	argN := 2
	for field, value := range filters {
		query += fmt.Sprintf(" AND metadata->>'%s' = $%d", field, argN)
		args = append(args, value)
		argN++
	}
	query += fmt.Sprintf(`
			ORDER BY binary_quantize(embedding_half) <~> binary_quantize($%d::halfvec)
			LIMIT %d
		)
		SELECT document_id, chunk_id, content, metadata,
			1 - (embedding_half <=> $%d::halfvec) AS similarity
		FROM candidates
		ORDER BY similarity DESC
		LIMIT $%d`, argN, candidateN, argN, argN+1)
	args = append(args, vec, k)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageQuery, "PGVectorStore.Search", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var metaJSON []byte
		if err := rows.Scan(&sc.DocumentID, &sc.ChunkID, &sc.Content, &metaJSON, &sc.Score); err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "PGVectorStore.Search scan", err)
		}
		results = append(results, sc)
	}
	s.log.Debug("vectorstore search complete", "collection", s.collection, "k", k, "results", len(results))
	return results, nil
}

// ExistsBySHA256 short-circuits re-ingestion of unchanged chunks.
func (s *PGVectorStore) ExistsBySHA256(ctx context.Context, sha256Hash, collection string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM document_embeddings WHERE collection = $1 AND sha256 = $2)`,
		collection, sha256Hash).Scan(&exists)
	if err != nil {
		return false, errs.NewStorageError(errs.StorageQuery, "PGVectorStore.ExistsBySHA256", err)
	}
	return exists, nil
}

// Upsert batch-inserts chunks, replacing content/embedding/metadata/sha256
// on conflict of (collection, document_id, chunk_id). Executed as a single
// pgx.Batch, mirroring the teacher's bulk-insert pattern.
func (s *PGVectorStore) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return errs.NewValidationError("embedding", fmt.Sprintf("chunk %s dimension %d != %d", c.ChunkID, len(c.Embedding), s.dim))
		}
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		batch.Queue(`
			INSERT INTO document_embeddings (collection, document_id, chunk_id, content, embedding, metadata, sha256, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (collection, document_id, chunk_id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				sha256 = EXCLUDED.sha256,
				updated_at = EXCLUDED.updated_at`,
			s.collection, c.DocumentID, c.ChunkID, c.Content, vec, c.Metadata, c.SHA256, now,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			return errs.NewStorageError(errs.StorageQuery, "PGVectorStore.Upsert", fmt.Errorf("chunk %d: %w", i, err))
		}
	}
	return nil
}

// DeleteByDocumentID removes all rows for a document from the write collection,
// used by Reindex to achieve atomic logical replacement (delete-then-insert).
func (s *PGVectorStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_embeddings WHERE collection = $1 AND document_id = $2`, s.collection, documentID)
	if err != nil {
		return errs.NewStorageError(errs.StorageQuery, "PGVectorStore.DeleteByDocumentID", err)
	}
	return nil
}

// GetAllDocuments reads up to limit chunks from the collection, used by
// BM25Index to build its inverted index.
func (s *PGVectorStore) GetAllDocuments(ctx context.Context, limit int) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, chunk_id, content, metadata, sha256 FROM document_embeddings WHERE collection = $1 LIMIT $2`,
		s.collection, limit)
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageQuery, "PGVectorStore.GetAllDocuments", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.DocumentID, &c.ChunkID, &c.Content, &c.Metadata, &c.SHA256); err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "PGVectorStore.GetAllDocuments scan", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// ComputeSHA256 hashes normalized chunk text for dedup.
func ComputeSHA256(normalizedText string) string {
	h := sha256.Sum256([]byte(normalizedText))
	return fmt.Sprintf("%x", h)
}
