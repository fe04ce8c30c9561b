package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
)

// LongTermMemoryReviewer is the capability set the long-term memory review
// endpoints drive (spec §4.10-4.11): list a user's stored candidates,
// confirm/reject a reviewer decision, and delete all of a user's memories.
type LongTermMemoryReviewer interface {
	Pull(ctx context.Context, userID string, category *model.MemoryCategory, minConfidence float64) ([]model.LongTermMemoryEntry, error)
	ConfirmMemory(ctx context.Context, memoryID string) error
	RejectMemory(ctx context.Context, memoryID string) error
	DeleteUserMemories(ctx context.Context, userID string) (int, error)
}

// ListMemories handles GET /api/memories.
func ListMemories(ltm LongTermMemoryReviewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var category *model.MemoryCategory
		if c := r.URL.Query().Get("category"); c != "" {
			cat := model.MemoryCategory(c)
			category = &cat
		}

		entries, err := ltm.Pull(r.Context(), userID, category, 0)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list memories"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: entries})
	}
}

// ConfirmMemory handles POST /api/memories/{id}/confirm.
func ConfirmMemory(ltm LongTermMemoryReviewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memoryID := chi.URLParam(r, "id")
		if !validateUUID(memoryID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "memory id must be a valid uuid"})
			return
		}
		if err := ltm.ConfirmMemory(r.Context(), memoryID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to confirm memory"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// RejectMemory handles POST /api/memories/{id}/reject.
func RejectMemory(ltm LongTermMemoryReviewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memoryID := chi.URLParam(r, "id")
		if !validateUUID(memoryID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "memory id must be a valid uuid"})
			return
		}
		if err := ltm.RejectMemory(r.Context(), memoryID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to reject memory"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// DeleteMemories handles DELETE /api/memories, removing all of the
// authenticated user's long-term memories for privacy compliance.
func DeleteMemories(ltm LongTermMemoryReviewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		n, err := ltm.DeleteUserMemories(r.Context(), userID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to delete memories"})
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]int{"deleted": n}})
	}
}
