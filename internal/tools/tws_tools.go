package tools

import (
	"context"
	"fmt"

	"github.com/connexus-ai/resync/internal/twsclient"
)

// TWSClient is the capability these tools wrap; *twsclient.Client satisfies
// it. twsclient has no dependency on this package, so importing its types
// directly here doesn't risk a cycle.
type TWSClient interface {
	JobStatus(ctx context.Context, jobName string) (twsclient.JobStatus, error)
	WorkstationStatus(ctx context.Context, name string) (twsclient.WorkstationStatus, error)
	DependencyChain(ctx context.Context, jobName string, maxDepth int) ([]string, error)
	RerunJob(ctx context.Context, jobName string) error
	KillJob(ctx context.Context, jobName string) error
	ReleaseJob(ctx context.Context, jobName string) error
}

func jobName(params map[string]interface{}) (string, error) {
	v, ok := params["job_name"].(string)
	if !ok || v == "" {
		return "", NewValidationError("job_name", "missing or not a string")
	}
	return v, nil
}

// StatusCheckTool reports a job's current TWS status. Read-only.
type StatusCheckTool struct {
	Client TWSClient
}

func (t StatusCheckTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, err := jobName(params)
	if err != nil {
		return nil, err
	}
	status, err := t.Client.JobStatus(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: status}, nil
}

// JobLookupTool returns a job's dependency chain. Read-only.
type JobLookupTool struct {
	Client TWSClient
}

func (t JobLookupTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, err := jobName(params)
	if err != nil {
		return nil, err
	}
	depth := 5
	if d, ok := params["depth"].(float64); ok && d > 0 {
		depth = int(d)
	}
	chain, err := t.Client.DependencyChain(ctx, name, depth)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: chain}, nil
}

// WorkstationStatusTool reports a workstation's current status. Read-only.
type WorkstationStatusTool struct {
	Client TWSClient
}

func (t WorkstationStatusTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, ok := params["workstation"].(string)
	if !ok || name == "" {
		return nil, NewValidationError("workstation", "missing or not a string")
	}
	status, err := t.Client.WorkstationStatus(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Data: status}, nil
}

// RerunJobTool resubmits a job. Write tool; requires approval.
type RerunJobTool struct {
	Client TWSClient
}

func (t RerunJobTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, err := jobName(params)
	if err != nil {
		return nil, err
	}
	if err := t.Client.RerunJob(ctx, name); err != nil {
		return nil, err
	}
	return &ToolResult{Data: fmt.Sprintf("rerun submitted for %s", name)}, nil
}

// KillJobTool terminates a running job. Write tool; requires approval.
type KillJobTool struct {
	Client TWSClient
}

func (t KillJobTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, err := jobName(params)
	if err != nil {
		return nil, err
	}
	if err := t.Client.KillJob(ctx, name); err != nil {
		return nil, err
	}
	return &ToolResult{Data: fmt.Sprintf("kill submitted for %s", name)}, nil
}

// ReleaseJobTool releases a held job. Write tool; requires approval.
type ReleaseJobTool struct {
	Client TWSClient
}

func (t ReleaseJobTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	name, err := jobName(params)
	if err != nil {
		return nil, err
	}
	if err := t.Client.ReleaseJob(ctx, name); err != nil {
		return nil, err
	}
	return &ToolResult{Data: fmt.Sprintf("release submitted for %s", name)}, nil
}

// RegisterTWSTools wires the standard TWS tool catalog into an executor:
// status_check, job_lookup, workstation_status read-only; rerun_job,
// kill_job, release_job gated behind approval (spec §4.13).
func RegisterTWSTools(e *ToolExecutor, client TWSClient) {
	e.Register("status_check", StatusCheckTool{Client: client}, true)
	e.Register("job_lookup", JobLookupTool{Client: client}, true)
	e.Register("workstation_status", WorkstationStatusTool{Client: client}, true)
	e.Register("rerun_job", RerunJobTool{Client: client}, false)
	e.Register("kill_job", KillJobTool{Client: client}, false)
	e.Register("release_job", ReleaseJobTool{Client: client}, false)
}
