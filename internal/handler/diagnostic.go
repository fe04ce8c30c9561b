package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/resync/internal/model"
)

// DiagnosticRunner drives the DIAGNOSE/RESEARCH/VERIFY/PROPOSE state machine
// (spec §4.14). Run starts a new cycle; Resume continues one paused at
// APPROVE with a reviewer's decision.
type DiagnosticRunner interface {
	Run(ctx context.Context, problem string) model.DiagnosticState
	Resume(ctx context.Context, state model.DiagnosticState, approved bool) model.DiagnosticState
}

type startDiagnosticRequest struct {
	Problem string `json:"problem"`
}

// StartDiagnostic handles POST /api/diagnostic: runs the state machine until
// it reaches END or pauses at APPROVE awaiting a write-tool decision.
func StartDiagnostic(runner DiagnosticRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startDiagnosticRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Problem == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "problem is required"})
			return
		}

		state := runner.Run(r.Context(), req.Problem)
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: state})
	}
}

type resumeDiagnosticRequest struct {
	State    model.DiagnosticState `json:"state"`
	Approved bool                  `json:"approved"`
}

// ResumeDiagnostic handles POST /api/diagnostic/resume: continues a paused
// cycle after a human approves or rejects the proposed write action. The
// caller round-trips the state returned from the prior call — Resync keeps
// no server-side diagnostic session store (spec §4.14 is stateless between
// HTTP calls by design).
func ResumeDiagnostic(runner DiagnosticRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resumeDiagnosticRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}

		state := runner.Resume(r.Context(), req.State, req.Approved)
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: state})
	}
}
