package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
)

type fakeAgentRouter struct {
	response   model.AgentResponse
	gotMessage string
	gotMode    model.RoutingMode
}

func (f *fakeAgentRouter) Route(_ context.Context, message string, forcedMode model.RoutingMode) model.AgentResponse {
	f.gotMessage = message
	f.gotMode = forcedMode
	return f.response
}

type fakeConversationMemory struct {
	resolved        string
	resolveErr      error
	gotResolveSess  string
	gotResolveMsg   string
	addTurnErr      error
	gotSessionID    string
	gotUserMessage  string
	gotAssistantMsg string
	gotMetadata     map[string]string
	addTurnCalls    int
}

func (f *fakeConversationMemory) ResolveReference(_ context.Context, sessionID, message string) (string, error) {
	f.gotResolveSess = sessionID
	f.gotResolveMsg = message
	return f.resolved, f.resolveErr
}

func (f *fakeConversationMemory) AddTurn(_ context.Context, sessionID, userMessage, assistantMessage string, metadata map[string]string) error {
	f.addTurnCalls++
	f.gotSessionID = sessionID
	f.gotUserMessage = userMessage
	f.gotAssistantMsg = assistantMessage
	f.gotMetadata = metadata
	return f.addTurnErr
}

func TestChat_RequiresUserID(t *testing.T) {
	handler := Chat(&fakeAgentRouter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestChat_RejectsEmptyMessage(t *testing.T) {
	handler := Chat(&fakeAgentRouter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":""}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChat_RoutesMessageAndReturnsResponse(t *testing.T) {
	router := &fakeAgentRouter{response: model.AgentResponse{Response: "JOBA last ran OK", Intent: model.IntentStatus}}
	handler := Chat(router, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"status of JOBA","mode":"agentic"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if router.gotMessage != "status of JOBA" || router.gotMode != model.RoutingAgentic {
		t.Errorf("router called with message=%q mode=%q", router.gotMessage, router.gotMode)
	}

	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
}

func TestChat_ResolvesReferenceBeforeRouting(t *testing.T) {
	router := &fakeAgentRouter{response: model.AgentResponse{Response: "restarting JOBA", Handler: "agentic"}}
	mem := &fakeConversationMemory{resolved: "restart JOBA"}
	handler := Chat(router, mem)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"restart it","session_id":"sess-1"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if mem.gotResolveSess != "sess-1" || mem.gotResolveMsg != "restart it" {
		t.Errorf("ResolveReference called with session=%q message=%q", mem.gotResolveSess, mem.gotResolveMsg)
	}
	if router.gotMessage != "restart JOBA" {
		t.Errorf("router received message=%q, want resolved message", router.gotMessage)
	}
}

func TestChat_RecordsTurnAfterResponse(t *testing.T) {
	router := &fakeAgentRouter{response: model.AgentResponse{Response: "JOBA last ran OK", Intent: model.IntentStatus, Handler: "rag_only"}}
	mem := &fakeConversationMemory{}
	handler := Chat(router, mem)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"status of JOBA","session_id":"sess-2"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if mem.addTurnCalls != 1 {
		t.Fatalf("AddTurn called %d times, want 1", mem.addTurnCalls)
	}
	if mem.gotSessionID != "sess-2" || mem.gotUserMessage != "status of JOBA" || mem.gotAssistantMsg != "JOBA last ran OK" {
		t.Errorf("AddTurn called with session=%q user=%q assistant=%q", mem.gotSessionID, mem.gotUserMessage, mem.gotAssistantMsg)
	}
	if mem.gotMetadata["intent"] != string(model.IntentStatus) {
		t.Errorf("AddTurn metadata intent = %q", mem.gotMetadata["intent"])
	}
}

func TestChat_FallsBackToUserIDWhenNoSessionID(t *testing.T) {
	router := &fakeAgentRouter{response: model.AgentResponse{Response: "ok"}}
	mem := &fakeConversationMemory{}
	handler := Chat(router, mem)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if mem.gotResolveSess != "u1" {
		t.Errorf("session id = %q, want fallback to userID u1", mem.gotResolveSess)
	}
}
