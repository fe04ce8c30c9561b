package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
)

type fakeLongTermMemoryReviewer struct {
	entries       []model.LongTermMemoryEntry
	confirmedID   string
	rejectedID    string
	deletedUserID string
	deletedCount  int
	err           error
}

func (f *fakeLongTermMemoryReviewer) Pull(_ context.Context, _ string, _ *model.MemoryCategory, _ float64) ([]model.LongTermMemoryEntry, error) {
	return f.entries, f.err
}

func (f *fakeLongTermMemoryReviewer) ConfirmMemory(_ context.Context, memoryID string) error {
	f.confirmedID = memoryID
	return f.err
}

func (f *fakeLongTermMemoryReviewer) RejectMemory(_ context.Context, memoryID string) error {
	f.rejectedID = memoryID
	return f.err
}

func (f *fakeLongTermMemoryReviewer) DeleteUserMemories(_ context.Context, userID string) (int, error) {
	f.deletedUserID = userID
	return f.deletedCount, f.err
}

func TestListMemories_RequiresUserID(t *testing.T) {
	handler := ListMemories(&fakeLongTermMemoryReviewer{})

	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestConfirmMemory_CallsReviewer(t *testing.T) {
	ltm := &fakeLongTermMemoryReviewer{}
	handler := ConfirmMemory(ltm)

	r := chi.NewRouter()
	r.Post("/api/memories/{id}/confirm", handler)

	req := httptest.NewRequest(http.MethodPost, "/api/memories/44444444-4444-4444-4444-444444444444/confirm", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ltm.confirmedID != "44444444-4444-4444-4444-444444444444" {
		t.Errorf("confirmedID = %q, want 44444444-4444-4444-4444-444444444444", ltm.confirmedID)
	}
}

func TestConfirmMemory_RejectsInvalidID(t *testing.T) {
	ltm := &fakeLongTermMemoryReviewer{}
	handler := ConfirmMemory(ltm)

	r := chi.NewRouter()
	r.Post("/api/memories/{id}/confirm", handler)

	req := httptest.NewRequest(http.MethodPost, "/api/memories/not-a-uuid/confirm", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ltm.confirmedID != "" {
		t.Error("reviewer should not be called for an invalid id")
	}
}

func TestRejectMemory_CallsReviewer(t *testing.T) {
	ltm := &fakeLongTermMemoryReviewer{}
	handler := RejectMemory(ltm)

	r := chi.NewRouter()
	r.Post("/api/memories/{id}/reject", handler)

	req := httptest.NewRequest(http.MethodPost, "/api/memories/55555555-5555-5555-5555-555555555555/reject", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ltm.rejectedID != "55555555-5555-5555-5555-555555555555" {
		t.Errorf("rejectedID = %q, want 55555555-5555-5555-5555-555555555555", ltm.rejectedID)
	}
}

func TestDeleteMemories_ScopedToAuthenticatedUser(t *testing.T) {
	ltm := &fakeLongTermMemoryReviewer{deletedCount: 3}
	handler := DeleteMemories(ltm)

	req := httptest.NewRequest(http.MethodDelete, "/api/memories", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ltm.deletedUserID != "u1" {
		t.Errorf("deletedUserID = %q, want u1", ltm.deletedUserID)
	}
}
