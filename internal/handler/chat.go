package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
)

// AgentRouter is the capability that turns a message into a routed,
// possibly tool-assisted, response (spec §4.12-4.14).
type AgentRouter interface {
	Route(ctx context.Context, message string, forcedMode model.RoutingMode) model.AgentResponse
}

// ConversationMemory is the capability Chat uses to resolve pronoun
// references against a session's recent turns before classification, and
// to record each completed turn afterward (spec §4.10; spec.md's control
// flow message -> ConversationMemory (resolve references) -> IntentClassifier).
type ConversationMemory interface {
	ResolveReference(ctx context.Context, sessionID, message string) (string, error)
	AddTurn(ctx context.Context, sessionID, userMessage, assistantMessage string, metadata map[string]string) error
}

type chatRequest struct {
	Message   string `json:"message"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Chat handles POST /api/chat: resolves references against the session's
// conversation memory, classifies and routes the resolved message through
// rag_only, agentic, or diagnostic handling, then records the turn.
// convMemory may be nil, in which case no reference resolution or turn
// recording happens and the raw message is routed as-is.
func Chat(router AgentRouter, convMemory ConversationMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Message == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "message is required"})
			return
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = userID
		}

		message := req.Message
		if convMemory != nil {
			resolved, err := convMemory.ResolveReference(r.Context(), sessionID, req.Message)
			if err != nil {
				log.Printf("chat: reference resolution failed for session %s: %v", sessionID, err)
			} else if resolved != "" {
				message = resolved
			}
		}

		forcedMode := model.RoutingMode(req.Mode)

		resp := router.Route(r.Context(), message, forcedMode)

		if convMemory != nil {
			metadata := map[string]string{"intent": string(resp.Intent), "handler": resp.Handler}
			if err := convMemory.AddTurn(r.Context(), sessionID, req.Message, resp.Response, metadata); err != nil {
				log.Printf("chat: failed to record turn for session %s: %v", sessionID, err)
			}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: resp})
	}
}
