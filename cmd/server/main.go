package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/agent"
	"github.com/connexus-ai/resync/internal/audit"
	"github.com/connexus-ai/resync/internal/cache"
	"github.com/connexus-ai/resync/internal/config"
	"github.com/connexus-ai/resync/internal/gcpclient"
	"github.com/connexus-ai/resync/internal/graph"
	"github.com/connexus-ai/resync/internal/ingestion"
	"github.com/connexus-ai/resync/internal/lock"
	"github.com/connexus-ai/resync/internal/memory"
	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
	"github.com/connexus-ai/resync/internal/repository"
	"github.com/connexus-ai/resync/internal/retrieval"
	"github.com/connexus-ai/resync/internal/router"
	"github.com/connexus-ai/resync/internal/tools"
	"github.com/connexus-ai/resync/internal/twsclient"
)

// Version is stamped at build time in production images; the fallback here
// covers local `go run`.
var Version = "0.1.0"

// hybridRetriever is the subset of *retrieval.HybridRetriever retrieverAdapter
// needs; narrowing to an interface keeps the adapter's caching logic testable
// without a live vector store or BM25 index.
type hybridRetriever interface {
	Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]retrieval.ScoredChunk, error)
}

// retrieverAdapter satisfies agent.Retriever with a hybridRetriever,
// converting retrieval.ScoredChunk to agent.RetrievedDoc. When resultCache is
// set, identical (user, query, filters) lookups within its TTL skip the
// vector/BM25/rerank round trip entirely.
type retrieverAdapter struct {
	hybrid      hybridRetriever
	resultCache *cache.QueryCache
}

func (a *retrieverAdapter) Retrieve(ctx context.Context, query string, k int, filters map[string]string) ([]agent.RetrievedDoc, error) {
	userID := middleware.UserIDFromContext(ctx)

	if a.resultCache != nil {
		if chunks, ok := a.resultCache.Get(userID, query, filters); ok {
			return scoredChunksToDocs(chunks, k), nil
		}
	}

	chunks, err := a.hybrid.Retrieve(ctx, query, k, filters)
	if err != nil {
		return nil, err
	}
	if a.resultCache != nil {
		a.resultCache.Set(userID, query, filters, chunks)
	}
	return scoredChunksToDocs(chunks, k), nil
}

// ragRouterAdapter adapts *retrieval.QueryRouter to agent.RAGRouter,
// converting retrieval.ScoredChunk results into agent.RetrievedDoc.
type ragRouterAdapter struct {
	router *retrieval.QueryRouter
}

func (a *ragRouterAdapter) Route(ctx context.Context, query string, intent model.Intent, confidence float64, entities model.Entities, k int) ([]agent.RetrievedDoc, bool, error) {
	result := a.router.Route(ctx, query, intent, confidence, entities, k)
	if result.Errored {
		return nil, false, fmt.Errorf("query router: both graph and RAG retrieval failed")
	}
	return scoredChunksToDocs(result.Documents, k), result.Classification.UsedGraph, nil
}

func scoredChunksToDocs(chunks []retrieval.ScoredChunk, k int) []agent.RetrievedDoc {
	if k > 0 && len(chunks) > k {
		chunks = chunks[:k]
	}
	docs := make([]agent.RetrievedDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = agent.RetrievedDoc{ChunkID: c.ChunkID, Content: c.Content, Score: c.Score}
	}
	return docs
}

// cachingEmbedder wraps a retrieval.Embedder and caches single-query embed
// calls (the retrieval hot path). Batch calls from ingestion pass through
// uncached since chunk content is unique per call.
type cachingEmbedder struct {
	inner retrieval.Embedder
	cache *cache.EmbeddingCache
}

func (e *cachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cache == nil || len(texts) != 1 {
		return e.inner.Embed(ctx, texts)
	}
	hash := cache.EmbeddingQueryHash(texts[0])
	if vec, ok := e.cache.Get(hash); ok {
		return [][]float32{vec}, nil
	}
	vecs, err := e.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 1 {
		e.cache.Set(hash, vecs[0])
	}
	return vecs, nil
}

// textParserFetcher adapts gcpclient.TextParser to ingestion.DocumentFetcher.
type textParserFetcher struct {
	parser *gcpclient.TextParser
}

func (f *textParserFetcher) Extract(ctx context.Context, sourceURI string) (string, int, error) {
	res, err := f.parser.Extract(ctx, sourceURI)
	if err != nil {
		return "", 0, err
	}
	return res.Text, res.Pages, nil
}

// docAIFetcher adapts gcpclient.DocumentAIAdapter to ingestion.DocumentFetcher
// for scanned/structured TWS documentation that needs OCR rather than a plain
// text download.
type docAIFetcher struct {
	adapter   *gcpclient.DocumentAIAdapter
	processor string
}

func (f *docAIFetcher) Extract(ctx context.Context, sourceURI string) (string, int, error) {
	resp, err := f.adapter.ProcessDocument(ctx, f.processor, sourceURI, "application/pdf")
	if err != nil {
		return "", 0, err
	}
	return resp.Text, resp.Pages, nil
}

// redactorAdapter adapts gcpclient.NoopRedactor to ingestion.Redactor.
type redactorAdapter struct {
	redactor *gcpclient.NoopRedactor
}

func (a *redactorAdapter) Scan(ctx context.Context, text string) (int, error) {
	res, err := a.redactor.Scan(ctx, text)
	if err != nil {
		return 0, err
	}
	return res.FindingCount, nil
}

// auditQueueOps is the subset of audit.AuditQueue lockedAuditQueue wraps;
// narrowed to an interface so the locking behavior is unit-testable.
type auditQueueOps interface {
	GetPending(ctx context.Context, limit int) ([]model.MemoryRecord, error)
	UpdateStatus(ctx context.Context, memoryID string, newStatus model.AuditStatus) (bool, error)
	Metrics(ctx context.Context) (model.QueueMetrics, error)
}

// auditLocker is the subset of *lock.RedisLock lockedAuditQueue needs.
type auditLocker interface {
	WithLock(ctx context.Context, recordID string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// lockedAuditQueue wraps UpdateStatus in a distributed lock keyed on the
// record id, so two auditors racing to review the same quarantined record
// (spec §4.8/§4.9) serialize instead of corrupting each other's write.
type lockedAuditQueue struct {
	inner auditQueueOps
	lock  auditLocker
	ttl   time.Duration
}

func (q *lockedAuditQueue) GetPending(ctx context.Context, limit int) ([]model.MemoryRecord, error) {
	return q.inner.GetPending(ctx, limit)
}

func (q *lockedAuditQueue) Metrics(ctx context.Context) (model.QueueMetrics, error) {
	return q.inner.Metrics(ctx)
}

func (q *lockedAuditQueue) UpdateStatus(ctx context.Context, memoryID string, newStatus model.AuditStatus) (bool, error) {
	var found bool
	err := q.lock.WithLock(ctx, memoryID, q.ttl, func(lockedCtx context.Context) error {
		var innerErr error
		found, innerErr = q.inner.UpdateStatus(lockedCtx, memoryID, newStatus)
		return innerErr
	})
	return found, err
}

// pubsubNotifier adapts a Cloud Pub/Sub topic to ingestion.Notifier.
type pubsubNotifier struct {
	topic *pubsub.Topic
}

func (n *pubsubNotifier) Publish(ctx context.Context, documentID string) error {
	result := n.topic.Publish(ctx, &pubsub.Message{Data: []byte(documentID)})
	_, err := result.Get(ctx)
	return err
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.MinIdleConns = cfg.RedisPoolMinSize
	redisOpts.PoolSize = cfg.RedisPoolMaxSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("connect neo4j: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	// GCP embedding + LLM capabilities. Vertex AI is preferred; OpenRouter/
	// BYOLLM is the fallback (or the only provider, in environments that
	// don't carry a GCP project), mirroring cmd/benchmark-model-routing.
	var embedder retrieval.Embedder
	embeddingAdapter, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.EmbeddingModel)
	if err != nil {
		log.Warn("vertex embedding adapter unavailable, embedding-dependent features degrade", "error", err)
	} else {
		embedder = embeddingAdapter
	}
	if embedder != nil && cfg.EmbeddingCacheEnabled {
		embeddingCache := cache.NewEmbeddingCache(cfg.EmbeddingCacheTTL)
		defer embeddingCache.Stop()
		embedder = &cachingEmbedder{inner: embedder, cache: embeddingCache}
	}

	var genAI *gcpclient.GenAIAdapter
	if cfg.GCPProject != "" {
		genAI, err = gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel)
		if err != nil {
			log.Warn("vertex genai adapter construction failed, falling back to OpenRouter only", "error", err)
			genAI = nil
		}
	}
	var byoLLM *gcpclient.BYOLLMClient
	if cfg.OpenRouterAPIKey != "" {
		byoLLM = gcpclient.NewBYOLLMClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel)
	}
	if genAI == nil && byoLLM == nil {
		log.Warn("no LLM provider configured; chat, diagnostic, and memory extraction will return errors")
	}
	var primary, fallback interface {
		GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	}
	if genAI != nil {
		primary = genAI
	}
	if byoLLM != nil {
		if primary == nil {
			primary = byoLLM
		} else {
			fallback = byoLLM
		}
	}
	completer := gcpclient.NewPromptCompleter(primary, fallback, log)

	// Retrieval: vector store + BM25 + gated reranker -> hybrid retriever.
	vectorStore := retrieval.NewPGVectorStore(pool, cfg.CollectionRead, cfg.EmbedDim, log)
	bm25 := retrieval.NewBM25Index(vectorStore)
	// No cross-encoder scoring capability is wired in this deployment;
	// NewHybridRetriever defaults EnableReranking's gate to NoOpReranker.
	hybridCfg := retrieval.HybridConfig{
		VectorTopK:        cfg.VectorTopK,
		EnableReranking:   cfg.EnableReranking,
		RerankTopK:        cfg.RerankTopK,
		DefaultWeights:    retrieval.FusionWeights{Vector: cfg.VectorWeight, BM25: cfg.KeywordWeight},
		Gate:              retrieval.GateConfig{LowConfidenceThreshold: cfg.RerankScoreLowThreshold, MarginThreshold: cfg.RerankMarginThreshold, MaxCandidates: cfg.RerankMaxCandidates},
		ClassifyCacheSize: cfg.QueryCacheMaxSize,
		ClassifyCacheTTL:  cfg.QueryCacheTTL,
	}
	hybrid := retrieval.NewHybridRetriever(vectorStore, bm25, nil, embedder, hybridCfg, log)

	var resultCache *cache.QueryCache
	if cfg.ResultCacheEnabled {
		resultCache = cache.New(cfg.ResultCacheTTL)
		defer resultCache.Stop()
	}

	// Knowledge graph, built on demand from Neo4j snapshots.
	snapshotSource := graph.NewNeo4jSnapshotSource(neo4jDriver, log)
	kg := graph.NewKnowledgeGraph(snapshotSource, cfg.GraphSnapshotTTL, log)

	// TWS client + tool executor, gating write tools behind approval.
	twsClient := twsclient.NewClient(cfg.TWSBaseURL, cfg.TWSAPIKey)
	toolExecutor := tools.NewToolExecutor()
	tools.RegisterTWSTools(toolExecutor, twsClient)

	// Audit queue (Redis-backed quarantine) and distributed lock. The lock
	// guards ReviewAudit's status update against a concurrent auditor (spec
	// §4.8/§4.9); see lockedAuditQueue below.
	auditQueue := audit.NewAuditQueue(redisClient, log)
	redisLock := lock.NewRedisLock(redisClient, log)

	// Conversation + long-term memory. convMemory is consulted from the
	// chat handler itself (internal/handler.Chat) to resolve pronoun
	// references before classification and to record each completed turn.
	sessionBackend := memory.NewRedisSessionBackend(redisClient, cfg.SessionIdleTTL)
	convMemory := memory.NewConversationMemory(sessionBackend, cfg.SessionIdleTTL)

	pgStore := memory.NewPGStore(pool, log)
	extractor := memory.NewLLMExtractor(completer)
	longTermMemory := memory.NewLongTermMemory(pgStore, extractor, embedder)

	// Agent router + diagnostic state machine.
	classifier := agent.NewIntentClassifier(completer, log)
	retriever := &retrieverAdapter{hybrid: hybrid, resultCache: resultCache}
	diagCfg := agent.DiagnosticConfig{
		MaxIterations:             cfg.MaxIterations,
		MinConfidenceForProposal:  cfg.MinConfidenceForProposal,
		RequireApprovalForActions: cfg.RequireApprovalForActions,
	}
	diagnosticGraph := agent.NewDiagnosticGraph(completer, retriever, kg, longTermMemory, toolExecutor, auditQueue, diagCfg, log)
	agentRouter := agent.NewAgentRouter(classifier, retriever, completer, toolExecutor, auditQueue, diagnosticGraph, log)

	// QueryRouter decides graph, RAG, or both per classified intent (spec
	// §4.6) so rag_only routing doesn't bypass the dependency graph.
	queryRouter := retrieval.NewQueryRouter(hybrid, kg, log)
	agentRouter.WithRAGRouter(&ragRouterAdapter{router: queryRouter})

	// Ingestion pipeline for new TWS documentation. GCS staging + Pub/Sub
	// reindex notification only wire up when a GCP project is configured;
	// sourcePipeline stays a no-op fetcher otherwise (FetchText errors clearly
	// if a caller posts a sourceUri with no bucket staged).
	chunker := ingestion.NewChunker(cfg.ChunkSizeTokens, float64(cfg.ChunkOverlapPercent)/100)
	ingestor := ingestion.NewIngestor(vectorStore, embedder, cfg.CollectionRead, cfg.CollectionWrite, cfg.ChunkEmbedBatchSize, log)

	var sourcePipeline *ingestion.SourcePipeline
	if cfg.GCPProject != "" {
		var fetcher ingestion.DocumentFetcher
		if cfg.DocAIProcessorID != "" {
			if docAI, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.DocAILocation); err != nil {
				log.Warn("document ai adapter unavailable, falling back to plain-text fetch", "error", err)
			} else {
				defer docAI.Close()
				processor := fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.GCPProject, cfg.DocAILocation, cfg.DocAIProcessorID)
				fetcher = &docAIFetcher{adapter: docAI, processor: processor}
			}
		}
		if fetcher == nil {
			if storageAdapter, err := gcpclient.NewStorageAdapter(ctx); err != nil {
				log.Warn("gcs storage adapter unavailable, sourceUri ingestion disabled", "error", err)
			} else {
				defer storageAdapter.Close()
				fetcher = &textParserFetcher{parser: gcpclient.NewTextParser(storageAdapter)}
			}
		}
		sourcePipeline = ingestion.NewSourcePipeline(fetcher, &redactorAdapter{redactor: gcpclient.NewNoopRedactor()})

		if pubsubClient, err := pubsub.NewClient(ctx, cfg.GCPProject); err != nil {
			log.Warn("pubsub client unavailable, reindex notifications disabled", "error", err)
		} else {
			defer pubsubClient.Close()
			ingestor.SetNotifier(&pubsubNotifier{topic: pubsubClient.Topic(cfg.ReindexTopicID)})
		}
	} else {
		sourcePipeline = ingestion.NewSourcePipeline(nil, nil)
	}

	pipeline := &chunkerIngestorAdapter{chunker: chunker, ingestor: ingestor, source: sourcePipeline}

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 120, Window: time.Minute})
	defer generalLimiter.Stop()
	chatLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 30, Window: time.Minute})
	defer chatLimiter.Stop()

	lockedAudit := &lockedAuditQueue{
		inner: auditQueue,
		lock:  redisLock,
		ttl:   time.Duration(cfg.LockTimeoutSeconds) * time.Second,
	}

	deps := &router.Dependencies{
		DB:                 pool,
		FrontendURL:        os.Getenv("FRONTEND_URL"),
		Version:            Version,
		MetricsReg:         metricsReg,
		Metrics:            metrics,
		AgentRouter:        agentRouter,
		ConvMemory:         convMemory,
		AuditQueue:         lockedAudit,
		DiagnosticRunner:   diagnosticGraph,
		LongTermMemory:     longTermMemory,
		Pipeline:           pipeline,
		GeneralRateLimiter: generalLimiter,
		ChatRateLimiter:    chatLimiter,
	}
	handler := router.New(deps)

	// Background maintenance: expired-lock cleanup and idle-session eviction.
	lockCleanupTicker := time.NewTicker(time.Duration(cfg.LockCleanupMaxAgeSecs) * time.Second)
	defer lockCleanupTicker.Stop()
	sessionExpiryTicker := time.NewTicker(cfg.SessionIdleTTL / 2)
	defer sessionExpiryTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-lockCleanupTicker.C:
				if n, err := redisLock.CleanupExpiredLocks(ctx, time.Duration(cfg.LockCleanupMaxAgeSecs)*time.Second); err != nil {
					log.Warn("lock cleanup failed", "error", err)
				} else if n > 0 {
					log.Debug("expired locks cleaned up", "count", n)
				}
			case <-sessionExpiryTicker.C:
				if n, err := convMemory.ExpireIdle(ctx); err != nil {
					log.Warn("session expiry sweep failed", "error", err)
				} else if n > 0 {
					log.Debug("idle sessions expired", "count", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + fmt.Sprint(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("resync starting", "version", Version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// chunkerIngestorAdapter composes Chunker, Ingestor, and an optional
// SourcePipeline into the single capability handler.Ingest consumes.
type chunkerIngestorAdapter struct {
	chunker  *ingestion.Chunker
	ingestor *ingestion.Ingestor
	source   *ingestion.SourcePipeline
}

func (a *chunkerIngestorAdapter) Chunk(text, docTitle string, strategy ingestion.Strategy) ([]model.Chunk, error) {
	return a.chunker.Chunk(text, docTitle, strategy)
}

func (a *chunkerIngestorAdapter) Ingest(ctx context.Context, documentID string, chunks []model.Chunk) error {
	return a.ingestor.Ingest(ctx, documentID, chunks)
}

func (a *chunkerIngestorAdapter) FetchText(ctx context.Context, sourceURI string) (string, int, error) {
	return a.source.FetchText(ctx, sourceURI)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
