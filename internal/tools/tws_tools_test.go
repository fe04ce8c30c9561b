package tools

import (
	"context"
	"testing"

	"github.com/connexus-ai/resync/internal/twsclient"
)

type fakeTWSClient struct {
	status    twsclient.JobStatus
	wsStatus  twsclient.WorkstationStatus
	chain     []string
	err       error
	reruns    []string
	kills     []string
	releases  []string
}

func (f *fakeTWSClient) JobStatus(_ context.Context, _ string) (twsclient.JobStatus, error) {
	return f.status, f.err
}

func (f *fakeTWSClient) WorkstationStatus(_ context.Context, _ string) (twsclient.WorkstationStatus, error) {
	return f.wsStatus, f.err
}

func (f *fakeTWSClient) DependencyChain(_ context.Context, _ string, _ int) ([]string, error) {
	return f.chain, f.err
}

func (f *fakeTWSClient) RerunJob(_ context.Context, name string) error {
	f.reruns = append(f.reruns, name)
	return f.err
}

func (f *fakeTWSClient) KillJob(_ context.Context, name string) error {
	f.kills = append(f.kills, name)
	return f.err
}

func (f *fakeTWSClient) ReleaseJob(_ context.Context, name string) error {
	f.releases = append(f.releases, name)
	return f.err
}

func TestStatusCheckTool_RequiresJobName(t *testing.T) {
	tool := StatusCheckTool{Client: &fakeTWSClient{}}
	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Fatal("expected a validation error for a missing job_name")
	}
}

func TestStatusCheckTool_ReturnsStatus(t *testing.T) {
	client := &fakeTWSClient{status: twsclient.JobStatus{JobName: "AWSBH001", State: "ABEND"}}
	tool := StatusCheckTool{Client: client}
	result, err := tool.Execute(context.Background(), map[string]interface{}{"job_name": "AWSBH001"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	status, ok := result.Data.(twsclient.JobStatus)
	if !ok || status.State != "ABEND" {
		t.Errorf("Data = %+v, want JobStatus with state ABEND", result.Data)
	}
}

func TestRerunJobTool_CallsClientWithJobName(t *testing.T) {
	client := &fakeTWSClient{}
	tool := RerunJobTool{Client: client}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"job_name": "AWSBH002"}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(client.reruns) != 1 || client.reruns[0] != "AWSBH002" {
		t.Errorf("reruns = %v, want [AWSBH002]", client.reruns)
	}
}

func TestRegisterTWSTools_GatesWriteTools(t *testing.T) {
	e := NewToolExecutor()
	RegisterTWSTools(e, &fakeTWSClient{})

	for _, name := range []string{"status_check", "job_lookup", "workstation_status"} {
		if !e.IsReadOnly(name) {
			t.Errorf("%s should be read-only", name)
		}
	}
	for _, name := range []string{"rerun_job", "kill_job", "release_job"} {
		if e.IsReadOnly(name) {
			t.Errorf("%s should require approval", name)
		}
	}
}
