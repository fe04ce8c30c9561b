package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAddTurn_TracksEntitiesMostRecentFirst(t *testing.T) {
	cm := NewConversationMemory(nil, time.Hour)
	ctx := context.Background()

	if err := cm.AddTurn(ctx, "s1", "is AWSBH001 running?", "AWSBH001 is currently executing.", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}
	if err := cm.AddTurn(ctx, "s1", "what about AWSBH002?", "AWSBH002 abended with RC=8.", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}

	session, err := cm.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if session.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", session.TurnCount)
	}
	if len(session.ReferencedEntities.Jobs) == 0 || session.ReferencedEntities.Jobs[0] != "AWSBH002" {
		t.Errorf("ReferencedEntities.Jobs = %v, want AWSBH002 first (most recent)", session.ReferencedEntities.Jobs)
	}
}

func TestResolveReference_SubstitutesPronoun(t *testing.T) {
	cm := NewConversationMemory(nil, time.Hour)
	ctx := context.Background()
	if err := cm.AddTurn(ctx, "s1", "job AWSBH001 failed", "yes it did", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}

	resolved, err := cm.ResolveReference(ctx, "s1", "restart it")
	if err != nil {
		t.Fatalf("ResolveReference() error: %v", err)
	}
	if !strings.Contains(resolved, "AWSBH001") {
		t.Errorf("ResolveReference() = %q, want it substituted with AWSBH001", resolved)
	}
}

func TestResolveReference_UnchangedWithoutCompatibleEntity(t *testing.T) {
	cm := NewConversationMemory(nil, time.Hour)
	ctx := context.Background()
	if _, err := cm.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	resolved, err := cm.ResolveReference(ctx, "s1", "restart it")
	if err != nil {
		t.Fatalf("ResolveReference() error: %v", err)
	}
	if resolved != "restart it" {
		t.Errorf("ResolveReference() = %q, want unchanged", resolved)
	}
}

func TestGetContextForPrompt_FormatsLastNTurns(t *testing.T) {
	cm := NewConversationMemory(nil, time.Hour)
	ctx := context.Background()
	if err := cm.AddTurn(ctx, "s1", "hello", "hi there", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}
	if err := cm.AddTurn(ctx, "s1", "status of AWSBH001", "running", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}

	out, err := cm.GetContextForPrompt(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetContextForPrompt() error: %v", err)
	}
	if !strings.Contains(out, "User:") || !strings.Contains(out, "Assistant:") {
		t.Errorf("GetContextForPrompt() = %q, want User:/Assistant: formatted lines", out)
	}
}

func TestClear_RemovesSessionImmediately(t *testing.T) {
	cm := NewConversationMemory(nil, time.Hour)
	ctx := context.Background()
	if err := cm.AddTurn(ctx, "s1", "hi", "hello", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}
	if err := cm.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	out, err := cm.GetContextForPrompt(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetContextForPrompt() error: %v", err)
	}
	if out != "" {
		t.Errorf("GetContextForPrompt() after Clear() = %q, want empty", out)
	}
}

func TestExpireIdle_RemovesStaleSessions(t *testing.T) {
	cm := NewConversationMemory(nil, time.Millisecond)
	ctx := context.Background()
	if err := cm.AddTurn(ctx, "s1", "hi", "hello", nil); err != nil {
		t.Fatalf("AddTurn() error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := cm.ExpireIdle(ctx)
	if err != nil {
		t.Fatalf("ExpireIdle() error: %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireIdle() removed %d sessions, want 1", n)
	}
}
