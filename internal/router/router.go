package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/resync/internal/handler"
	"github.com/connexus-ai/resync/internal/middleware"
)

// Dependencies holds every capability the router wires into a handler.
type Dependencies struct {
	DB          handler.DBPinger
	FrontendURL string
	Version     string
	MetricsReg  *prometheus.Registry
	Metrics     *middleware.Metrics

	AgentRouter      handler.AgentRouter
	ConvMemory       handler.ConversationMemory
	AuditQueue       handler.AuditQueue
	DiagnosticRunner handler.DiagnosticRunner
	LongTermMemory   handler.LongTermMemoryReviewer
	Pipeline         handler.ChunkerIngestor

	GeneralRateLimiter *middleware.RateLimiter
	ChatRateLimiter    *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no auth)
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Protected routes: Resync has no authentication layer of its own
	// (spec Non-goal); the caller's identity arrives via X-User-ID, set by
	// whatever reverse proxy or service mesh terminates auth in front of it.
	r.Group(func(r chi.Router) {
		r.Use(middleware.UserID)
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		timeout30s := middleware.Timeout(30 * time.Second)

		// Chat — routed through intent classification into rag_only,
		// agentic, or diagnostic handling.
		if deps.ChatRateLimiter != nil {
			r.With(middleware.RateLimit(deps.ChatRateLimiter)).Post("/api/chat", handler.Chat(deps.AgentRouter, deps.ConvMemory))
		} else {
			r.Post("/api/chat", handler.Chat(deps.AgentRouter, deps.ConvMemory))
		}

		// Diagnostic state machine — may run for several iterations before
		// pausing at APPROVE, so it gets a longer timeout than general routes.
		r.With(middleware.Timeout(90 * time.Second)).Post("/api/diagnostic", handler.StartDiagnostic(deps.DiagnosticRunner))
		r.With(middleware.Timeout(90 * time.Second)).Post("/api/diagnostic/resume", handler.ResumeDiagnostic(deps.DiagnosticRunner))

		// Audit review — approve/reject quarantined responses and gated
		// write-tool actions.
		r.With(timeout30s).Get("/api/audit", handler.ListAudit(deps.AuditQueue))
		r.With(timeout30s).Get("/api/audit/metrics", handler.AuditMetrics(deps.AuditQueue))
		r.With(timeout30s).Post("/api/audit/{id}/review", handler.ReviewAudit(deps.AuditQueue))

		// Long-term memory review
		r.With(timeout30s).Get("/api/memories", handler.ListMemories(deps.LongTermMemory))
		r.With(timeout30s).Post("/api/memories/{id}/confirm", handler.ConfirmMemory(deps.LongTermMemory))
		r.With(timeout30s).Post("/api/memories/{id}/reject", handler.RejectMemory(deps.LongTermMemory))
		r.With(timeout30s).Delete("/api/memories", handler.DeleteMemories(deps.LongTermMemory))

		// Ingestion of new TWS documentation into the knowledge base.
		r.With(middleware.Timeout(120 * time.Second)).Post("/api/ingest", handler.Ingest(deps.Pipeline))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
