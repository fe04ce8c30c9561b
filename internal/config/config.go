// Package config loads Resync's runtime configuration from environment
// variables. Loading is the only place in the core that touches os.Getenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration. Immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	// Storage
	RedisURL                  string
	RedisPoolMinSize          int
	RedisPoolMaxSize          int
	RedisHealthCheckInterval  time.Duration
	DatabaseURL               string
	DatabaseMaxConns          int
	Neo4jURL                  string
	Neo4jUser                 string
	Neo4jPassword             string
	GraphSnapshotTTL          time.Duration
	CollectionRead            string
	CollectionWrite           string
	EmbedDim                  int

	// Retrieval
	VectorTopK             int
	VectorThreshold        float64
	EnableReranking        bool
	RerankTopK             int
	RerankScoreLowThreshold float64
	RerankMarginThreshold   float64
	RerankMaxCandidates     int
	VectorWeight            float64
	KeywordWeight           float64
	HNSWEfSearchBase        int
	HNSWEfSearchMax         int

	// Query classification cache
	QueryCacheEnabled bool
	QueryCacheMaxSize int
	QueryCacheTTL     time.Duration

	// Retrieval result + query embedding caches (internal/cache)
	ResultCacheEnabled    bool
	ResultCacheTTL        time.Duration
	EmbeddingCacheEnabled bool
	EmbeddingCacheTTL     time.Duration

	// Diagnostic graph
	MaxIterations              int
	MinConfidenceForProposal   float64
	RequireApprovalForActions  bool

	// Audit / locking
	AuditRetentionDays     int
	LockTimeoutSeconds     int
	LockCleanupMaxAgeSecs  int
	QuarantineThreshold    float64

	// Chunking
	ChunkSizeTokens     int
	ChunkOverlapPercent int
	ChunkEmbedBatchSize int

	// Memory
	SessionIdleTTL time.Duration

	// GCP (embedding + LLM capability wiring; out-of-core clients)
	GCPProject       string
	GCPRegion        string
	VertexAILocation string
	VertexAIModel    string
	EmbeddingModel   string
	GCSBucketName    string
	DocAIProcessorID string
	DocAILocation    string
	ReindexTopicID   string

	// OpenRouter / BYOLLM client, built when OPENROUTER_API_KEY is set. It is
	// tried after a failed Vertex AI call, and is the only LLM when Vertex AI
	// is not configured or cannot be constructed.
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string

	// TWS client (out-of-core conman-fronting REST gateway, spec §6)
	TWSBaseURL string
	TWSAPIKey  string
}

// Load reads configuration from environment variables. REDIS_URL and
// DATABASE_URL are required; everything else has a spec-defined default.
func Load() (*Config, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("config.Load: REDIS_URL is required")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		RedisURL:                 redisURL,
		RedisPoolMinSize:         envInt("REDIS_POOL_MIN_SIZE", 2),
		RedisPoolMaxSize:         envInt("REDIS_POOL_MAX_SIZE", 20),
		RedisHealthCheckInterval: envDuration("REDIS_HEALTH_CHECK_INTERVAL", 30*time.Second),
		DatabaseURL:              dbURL,
		DatabaseMaxConns:         envInt("DATABASE_MAX_CONNS", 25),
		Neo4jURL:                 envStr("NEO4J_URL", "bolt://localhost:7687"),
		Neo4jUser:                envStr("NEO4J_USER", "neo4j"),
		Neo4jPassword:            envStr("NEO4J_PASSWORD", ""),
		GraphSnapshotTTL:         envDuration("GRAPH_SNAPSHOT_TTL", 30*time.Second),
		CollectionRead:           envStr("COLLECTION_READ", "chunks"),
		CollectionWrite:          envStr("COLLECTION_WRITE", "chunks"),
		EmbedDim:                 envInt("EMBED_DIM", 1536),

		VectorTopK:              envInt("VECTOR_TOP_K", 20),
		VectorThreshold:         envFloat("VECTOR_THRESHOLD", 0.7),
		EnableReranking:         envBool("ENABLE_RERANKING", true),
		RerankTopK:              envInt("RERANK_TOP_K", 5),
		RerankScoreLowThreshold: envFloat("RERANK_SCORE_LOW_THRESHOLD", 0.35),
		RerankMarginThreshold:   envFloat("RERANK_MARGIN_THRESHOLD", 0.05),
		RerankMaxCandidates:     envInt("RERANK_MAX_CANDIDATES", 10),
		VectorWeight:            envFloat("VECTOR_WEIGHT", 0.6),
		KeywordWeight:           envFloat("KEYWORD_WEIGHT", 0.4),
		HNSWEfSearchBase:        envInt("HNSW_EF_SEARCH_BASE", 64),
		HNSWEfSearchMax:         envInt("HNSW_EF_SEARCH_MAX", 128),

		QueryCacheEnabled: envBool("QUERY_CACHE_ENABLED", true),
		QueryCacheMaxSize: envInt("QUERY_CACHE_MAX_SIZE", 1000),
		QueryCacheTTL:     envDuration("QUERY_CACHE_TTL", 1800*time.Second),

		ResultCacheEnabled:    envBool("RESULT_CACHE_ENABLED", true),
		ResultCacheTTL:        envDuration("RESULT_CACHE_TTL", 5*time.Minute),
		EmbeddingCacheEnabled: envBool("EMBEDDING_CACHE_ENABLED", true),
		EmbeddingCacheTTL:     envDuration("EMBEDDING_CACHE_TTL", 15*time.Minute),

		MaxIterations:             envInt("MAX_ITERATIONS", 5),
		MinConfidenceForProposal:  envFloat("MIN_CONFIDENCE_FOR_PROPOSAL", 0.7),
		RequireApprovalForActions: envBool("REQUIRE_APPROVAL_FOR_ACTIONS", true),

		AuditRetentionDays:    envInt("AUDIT_RETENTION_DAYS", 30),
		LockTimeoutSeconds:    envInt("LOCK_TIMEOUT_SECONDS", 30),
		LockCleanupMaxAgeSecs: envInt("LOCK_CLEANUP_MAX_AGE_SECONDS", 60),
		QuarantineThreshold:   envFloat("QUARANTINE_THRESHOLD", 0.5),

		ChunkSizeTokens:     envInt("CHUNK_SIZE_TOKENS", 768),
		ChunkOverlapPercent: envInt("CHUNK_OVERLAP_PERCENT", 20),
		ChunkEmbedBatchSize: envInt("CHUNK_EMBED_BATCH_SIZE", 128),

		SessionIdleTTL: envDuration("SESSION_IDLE_TTL", 1*time.Hour),

		GCPProject:       envStr("GOOGLE_CLOUD_PROJECT", ""),
		GCPRegion:        envStr("GCP_REGION", "us-east4"),
		VertexAILocation: envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:    envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingModel:   envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		GCSBucketName:    envStr("GCS_BUCKET_NAME", ""),
		DocAIProcessorID: envStr("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocAILocation:    envStr("DOCUMENT_AI_LOCATION", "us"),
		ReindexTopicID:   envStr("REINDEX_TOPIC_ID", "resync-document-reindex"),

		OpenRouterAPIKey:  envStr("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: envStr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   envStr("OPENROUTER_MODEL", "anthropic/claude-3.5-sonnet"),

		TWSBaseURL: envStr("TWS_BASE_URL", ""),
		TWSAPIKey:  envStr("TWS_API_KEY", ""),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
