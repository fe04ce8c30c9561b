package memory

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// PGStore persists long-term memory entries in Postgres alongside the
// chunk embedding table, using the same pgvector extension (spec §4.10).
type PGStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPGStore(pool *pgxpool.Pool, log *slog.Logger) *PGStore {
	if log == nil {
		log = slog.Default()
	}
	return &PGStore{pool: pool, log: log}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Insert(ctx context.Context, entry model.LongTermMemoryEntry) error {
	var vec *pgvector.Vector
	if len(entry.Embedding) > 0 {
		v := pgvector.NewVector(entry.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO long_term_memories
			(memory_id, user_id, kind, category, content, pattern, trigger, confidence,
			 embedding, content_hash, verification_status, source_session, extracted_at, extractor_model)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (memory_id) DO NOTHING`,
		entry.MemoryID, entry.UserID, string(entry.Kind), string(entry.Category), entry.Content,
		entry.Pattern, entry.Trigger, entry.Confidence, vec, entry.ContentHash,
		string(entry.Provenance.VerificationStatus), entry.Provenance.SourceSession,
		entry.Provenance.ExtractedAt, entry.Provenance.ExtractorModel,
	)
	if err != nil {
		return errs.NewStorageError(errs.StorageQuery, "memory.PGStore.Insert", err)
	}
	return nil
}

func (s *PGStore) FindByContentHash(ctx context.Context, userID, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM long_term_memories WHERE user_id = $1 AND content_hash = $2)`,
		userID, contentHash).Scan(&exists)
	if err != nil {
		return false, errs.NewStorageError(errs.StorageQuery, "memory.PGStore.FindByContentHash", err)
	}
	return exists, nil
}

func (s *PGStore) Pull(ctx context.Context, userID string, category *model.MemoryCategory, minConfidence float64) ([]model.LongTermMemoryEntry, error) {
	query := `
		SELECT memory_id, user_id, kind, category, content, pattern, trigger, confidence,
			content_hash, verification_status, source_session, extracted_at, extractor_model
		FROM long_term_memories
		WHERE user_id = $1 AND confidence >= $2 AND verification_status != 'rejected'`
	args := []any{userID, minConfidence}
	if category != nil {
		query += " AND category = $3"
		args = append(args, string(*category))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageQuery, "memory.PGStore.Pull", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PGStore) SetVerification(ctx context.Context, memoryID string, status model.VerificationStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE long_term_memories SET verification_status = $1 WHERE memory_id = $2`,
		string(status), memoryID)
	if err != nil {
		return errs.NewStorageError(errs.StorageQuery, "memory.PGStore.SetVerification", err)
	}
	return nil
}

func (s *PGStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM long_term_memories WHERE user_id = $1`, userID)
	if err != nil {
		return 0, errs.NewStorageError(errs.StorageQuery, "memory.PGStore.DeleteByUser", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) AllWithEmbeddings(ctx context.Context, userID string) ([]model.LongTermMemoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, user_id, kind, category, content, pattern, trigger, confidence,
			content_hash, verification_status, source_session, extracted_at, extractor_model, embedding
		FROM long_term_memories
		WHERE user_id = $1 AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageQuery, "memory.PGStore.AllWithEmbeddings", err)
	}
	defer rows.Close()

	var entries []model.LongTermMemoryEntry
	for rows.Next() {
		var e model.LongTermMemoryEntry
		var kind, category, verification string
		var vec pgvector.Vector
		if err := rows.Scan(&e.MemoryID, &e.UserID, &kind, &category, &e.Content, &e.Pattern, &e.Trigger,
			&e.Confidence, &e.ContentHash, &verification, &e.Provenance.SourceSession,
			&e.Provenance.ExtractedAt, &e.Provenance.ExtractorModel, &vec); err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "memory.PGStore.AllWithEmbeddings scan", err)
		}
		e.Kind = model.MemoryKind(kind)
		e.Category = model.MemoryCategory(category)
		e.Provenance.VerificationStatus = model.VerificationStatus(verification)
		e.Embedding = vec.Slice()
		entries = append(entries, e)
	}
	return entries, nil
}

func scanEntries(rows pgx.Rows) ([]model.LongTermMemoryEntry, error) {
	var entries []model.LongTermMemoryEntry
	for rows.Next() {
		var e model.LongTermMemoryEntry
		var kind, category, verification string
		if err := rows.Scan(&e.MemoryID, &e.UserID, &kind, &category, &e.Content, &e.Pattern, &e.Trigger,
			&e.Confidence, &e.ContentHash, &verification, &e.Provenance.SourceSession,
			&e.Provenance.ExtractedAt, &e.Provenance.ExtractorModel); err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "memory.PGStore scan", err)
		}
		e.Kind = model.MemoryKind(kind)
		e.Category = model.MemoryCategory(category)
		e.Provenance.VerificationStatus = model.VerificationStatus(verification)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
