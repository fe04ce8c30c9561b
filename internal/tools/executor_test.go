package tools

import (
	"context"
	"errors"
	"testing"
)

// mockTool implements Tool for testing.
type mockTool struct {
	result *ToolResult
	err    error
	panics bool
}

func (m *mockTool) Execute(_ context.Context, _ map[string]interface{}) (*ToolResult, error) {
	if m.panics {
		panic("boom")
	}
	return m.result, m.err
}

func TestExecute_ReadOnlyToolRunsWithoutApproval(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("status_check", &mockTool{result: &ToolResult{Data: "RUNNING"}}, true)

	result, err := executor.Execute(context.Background(), "status_check", nil, false)
	if err != nil {
		t.Errorf("read-only tool should run without approval, got error: %v", err)
	}
	if result == nil || result.Data != "RUNNING" {
		t.Error("expected result data 'RUNNING'")
	}
}

func TestExecute_WriteToolWithoutApprovalIsRejected(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("rerun_job", &mockTool{result: &ToolResult{Data: "ok"}}, false)

	_, err := executor.Execute(context.Background(), "rerun_job", nil, false)
	if err == nil {
		t.Fatal("expected approval-required error for unapproved write tool")
	}
	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != ErrCodeApprovalRequired {
		t.Errorf("expected APPROVAL_REQUIRED, got %s", toolErr.Code)
	}
}

func TestExecute_WriteToolWithApprovalRuns(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("rerun_job", &mockTool{result: &ToolResult{Data: "rerun scheduled"}}, false)

	result, err := executor.Execute(context.Background(), "rerun_job", nil, true)
	if err != nil {
		t.Fatalf("approved write tool should run, got error: %v", err)
	}
	if result == nil || result.Data != "rerun scheduled" {
		t.Error("expected result data 'rerun scheduled'")
	}
}

func TestExecute_ToolNotFound(t *testing.T) {
	executor := NewToolExecutor()

	_, err := executor.Execute(context.Background(), "nonexistent", nil, true)
	if err == nil {
		t.Error("unknown tool should return error")
	}
	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != ErrCodeToolNotFound {
		t.Errorf("expected TOOL_NOT_FOUND, got %s", toolErr.Code)
	}
}

func TestExecute_GenericErrorWrapped(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("failing_tool", &mockTool{err: errors.New("db connection lost")}, true)

	_, err := executor.Execute(context.Background(), "failing_tool", nil, false)
	if err == nil {
		t.Error("failing tool should return error")
	}
	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != ErrCodeUpstream {
		t.Errorf("expected UPSTREAM_FAILURE, got %s", toolErr.Code)
	}
	if !toolErr.Recoverable {
		t.Error("upstream failure should be recoverable")
	}
}

func TestExecute_PanicRecovery(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("panicking_tool", &mockTool{panics: true}, true)

	_, err := executor.Execute(context.Background(), "panicking_tool", nil, false)
	if err == nil {
		t.Error("panicking tool should return error")
	}
	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != ErrCodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", toolErr.Code)
	}
}

func TestExecute_ToolErrorPassedThrough(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("validation_tool", &mockTool{
		err: NewValidationError("validation_tool", "missing required field 'job_name'"),
	}, true)

	_, err := executor.Execute(context.Background(), "validation_tool", nil, false)
	if err == nil {
		t.Error("tool returning ToolError should propagate it")
	}
	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Code != ErrCodeValidation {
		t.Errorf("expected VALIDATION_FAILED, got %s", toolErr.Code)
	}
}

func TestIsReadOnly_ReflectsRegistration(t *testing.T) {
	executor := NewToolExecutor()
	executor.Register("status_check", &mockTool{}, true)
	executor.Register("rerun_job", &mockTool{}, false)

	if !executor.IsReadOnly("status_check") {
		t.Error("status_check should be read-only")
	}
	if executor.IsReadOnly("rerun_job") {
		t.Error("rerun_job should not be read-only")
	}
	if executor.IsReadOnly("unregistered") {
		t.Error("unregistered tool should fail closed (not read-only)")
	}
}
