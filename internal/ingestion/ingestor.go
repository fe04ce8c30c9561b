package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// VectorWriter is the subset of retrieval.PGVectorStore's surface the
// ingestor needs. Defined locally to avoid an ingestion<->retrieval import
// cycle (retrieval never needs to import ingestion).
type VectorWriter interface {
	ExistsBySHA256(ctx context.Context, sha256Hash, collection string) (bool, error)
	Upsert(ctx context.Context, chunks []model.Chunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// Embedder produces embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Metrics tracks ingestion counters and latency histograms, exposed via a
// snapshot accessor per spec §4.7.
type Metrics struct {
	mu             sync.Mutex
	chunksIngested int
	bytesEmbedded  int64
	dedupHits      int
	embedDurations []time.Duration
	upsertDurations []time.Duration
}

func (m *Metrics) recordEmbed(d time.Duration, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedDurations = append(m.embedDurations, d)
	m.bytesEmbedded += bytes
}

func (m *Metrics) recordUpsert(d time.Duration, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertDurations = append(m.upsertDurations, d)
	m.chunksIngested += n
}

func (m *Metrics) recordDedupHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupHits++
}

// Snapshot returns current counters.
func (m *Metrics) Snapshot() (chunksIngested int, bytesEmbedded int64, dedupHits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunksIngested, m.bytesEmbedded, m.dedupHits
}

// Ingestor runs the dedup -> batch-embed -> upsert protocol (spec §4.7).
type Ingestor struct {
	store        VectorWriter
	embedder     Embedder
	readColl     string
	writeColl    string
	batchSize    int
	metrics      *Metrics
	log          *slog.Logger
	notifier     Notifier
}

// SetNotifier wires a Notifier that Reindex publishes to after a successful
// delete-then-insert cycle. Optional: a nil notifier (the default) just skips
// publishing, which is correct for deployments with no Pub/Sub topic configured.
func (ig *Ingestor) SetNotifier(n Notifier) { ig.notifier = n }

func NewIngestor(store VectorWriter, embedder Embedder, readColl, writeColl string, batchSize int, log *slog.Logger) *Ingestor {
	if batchSize <= 0 {
		batchSize = 128
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		store:     store,
		embedder:  embedder,
		readColl:  readColl,
		writeColl: writeColl,
		batchSize: batchSize,
		metrics:   &Metrics{},
		log:       log,
	}
}

func (ig *Ingestor) Metrics() *Metrics { return ig.metrics }

// Ingest runs the four-step protocol: hash, dedup-check, batch-embed, upsert.
// Chunks must already carry their SHA256 (set by Chunker.Chunk).
func (ig *Ingestor) Ingest(ctx context.Context, documentID string, chunks []model.Chunk) error {
	var pending []model.Chunk
	for _, c := range chunks {
		exists, err := ig.store.ExistsBySHA256(ctx, c.SHA256, ig.readColl)
		if err != nil {
			return errs.NewStorageError(errs.StorageQuery, "ingestion.Ingestor.Ingest: dedup check", err)
		}
		if exists {
			ig.metrics.recordDedupHit()
			continue
		}
		c.DocumentID = documentID
		pending = append(pending, c)
	}

	for start := 0; start < len(pending); start += ig.batchSize {
		end := start + ig.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := ig.embedAndUpsertBatch(ctx, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (ig *Ingestor) embedAndUpsertBatch(ctx context.Context, batch []model.Chunk) error {
	texts := make([]string, len(batch))
	var totalBytes int64
	for i, c := range batch {
		texts[i] = c.Content
		totalBytes += int64(len(c.Content))
	}

	embedStart := time.Now()
	embeddings, err := ig.embedder.Embed(ctx, texts)
	if err != nil {
		return errs.NewIntegrationError("embedder", err)
	}
	ig.metrics.recordEmbed(time.Since(embedStart), totalBytes)

	if len(embeddings) != len(batch) {
		return errs.NewDataParsingError("ingestion.embedAndUpsertBatch", nil)
	}
	for i := range batch {
		batch[i].Embedding = embeddings[i]
		batch[i].UpdatedAt = time.Now()
	}

	upsertStart := time.Now()
	if err := ig.store.Upsert(ctx, batch); err != nil {
		return err
	}
	ig.metrics.recordUpsert(time.Since(upsertStart), len(batch))
	return nil
}

// reindexLocks holds one *sync.Mutex per document id for Reindex.
var reindexLocks sync.Map

// Reindex atomically replaces a document's chunks: delete-then-insert,
// serialized per document so readers never see a mixture (spec §4.7).
func (ig *Ingestor) Reindex(ctx context.Context, documentID string, chunks []model.Chunk) error {
	lock, _ := reindexLocks.LoadOrStore(documentID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	if err := ig.store.DeleteByDocumentID(ctx, documentID); err != nil {
		return err
	}
	if err := ig.Ingest(ctx, documentID, chunks); err != nil {
		return err
	}
	if ig.notifier != nil {
		if err := ig.notifier.Publish(ctx, documentID); err != nil {
			ig.log.Warn("reindex notify failed", "document_id", documentID, "error", err)
		}
	}
	return nil
}
