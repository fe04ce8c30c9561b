// Package twsclient is the out-of-core TWS API capability (spec §6: "TWS
// client capability... Out of core"). It exposes read APIs for job status,
// dependencies, and workstation state, and write APIs for rerun, kill, and
// release, talking to a conman-fronting REST gateway over HTTP.
package twsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// JobStatus is the current state TWS reports for a job.
type JobStatus struct {
	JobName     string `json:"job_name"`
	Workstation string `json:"workstation"`
	State       string `json:"state"`
	ReturnCode  int    `json:"return_code"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
}

// WorkstationStatus is the current state TWS reports for a workstation.
type WorkstationStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Client calls a TWS REST gateway. Created per-process and shared across
// requests; holds no per-caller state.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client pointed at a TWS REST gateway base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// JobStatus returns the current status of a job by name.
func (c *Client) JobStatus(ctx context.Context, jobName string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/plan/jobs/"+jobName, nil, &out)
	return out, err
}

// WorkstationStatus returns the current status of a workstation by name.
func (c *Client) WorkstationStatus(ctx context.Context, name string) (WorkstationStatus, error) {
	var out WorkstationStatus
	err := c.do(ctx, http.MethodGet, "/plan/workstations/"+name, nil, &out)
	return out, err
}

// DependencyChain returns the upstream predecessors of jobName, nearest first,
// up to maxDepth hops. Called by the job_lookup tool (internal/tools).
func (c *Client) DependencyChain(ctx context.Context, jobName string, maxDepth int) ([]string, error) {
	var out struct {
		Chain []string `json:"chain"`
	}
	path := fmt.Sprintf("/plan/jobs/%s/predecessors?depth=%d", jobName, maxDepth)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Chain, nil
}

// RerunJob resubmits a job for execution. Write operation: callers must hold
// approval before invoking this (see internal/tools).
func (c *Client) RerunJob(ctx context.Context, jobName string) error {
	return c.do(ctx, http.MethodPost, "/plan/jobs/"+jobName+"/rerun", nil, nil)
}

// KillJob terminates a running job. Write operation.
func (c *Client) KillJob(ctx context.Context, jobName string) error {
	return c.do(ctx, http.MethodPost, "/plan/jobs/"+jobName+"/kill", nil, nil)
}

// ReleaseJob releases a job held on a dependency or resource wait. Write operation.
func (c *Client) ReleaseJob(ctx context.Context, jobName string) error {
	return c.do(ctx, http.MethodPost, "/plan/jobs/"+jobName+"/release", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("twsclient: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("twsclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twsclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twsclient: %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("twsclient: %s %s: decode response: %w", method, path, err)
	}
	return nil
}
