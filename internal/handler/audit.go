package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/resync/internal/model"
)

// AuditQueue is the capability backing review of quarantined responses
// (spec §4.15-4.16): list pending records and record a reviewer's decision.
type AuditQueue interface {
	GetPending(ctx context.Context, limit int) ([]model.MemoryRecord, error)
	UpdateStatus(ctx context.Context, memoryID string, newStatus model.AuditStatus) (bool, error)
	Metrics(ctx context.Context) (model.QueueMetrics, error)
}

// ListAudit handles GET /api/audit: pending quarantined records awaiting review.
func ListAudit(queue AuditQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}

		records, err := queue.GetPending(r.Context(), limit)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list audit queue"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: records})
	}
}

// AuditMetrics handles GET /api/audit/metrics.
func AuditMetrics(queue AuditQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := queue.Metrics(r.Context())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to compute audit metrics"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: metrics})
	}
}

type reviewRequest struct {
	Decision string `json:"decision"` // "approved" or "rejected"
}

// ReviewAudit handles POST /api/audit/{id}/review: approve or reject a
// quarantined response. A write tool gated on this record (if any) only
// unlocks after approval (spec §4.15).
func ReviewAudit(queue AuditQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memoryID := chi.URLParam(r, "id")
		if memoryID == "" || !validateUUID(memoryID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "memory id must be a valid uuid"})
			return
		}

		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}

		var status model.AuditStatus
		switch req.Decision {
		case "approved":
			status = model.AuditStatusApproved
		case "rejected":
			status = model.AuditStatusRejected
		default:
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "decision must be approved or rejected"})
			return
		}

		found, err := queue.UpdateStatus(r.Context(), memoryID, status)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to update audit record"})
			return
		}
		if !found {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "audit record not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}
