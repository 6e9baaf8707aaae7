package switchyardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Switchyard HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents the API run model.
type Run struct {
	ID          string   `json:"id"`
	PipelineID  string   `json:"pipeline_id"`
	State       string   `json:"state"`
	ChangeSet   []string `json:"change_set"`
	Concurrency int      `json:"concurrency"`
	StartedAt   string   `json:"started_at"`
	FinishedAt  string   `json:"finished_at,omitempty"`
}

// NodeResult is one node's terminal outcome.
type NodeResult struct {
	Node       string   `json:"node"`
	State      string   `json:"state"`
	Attempts   int      `json:"attempts"`
	Reason     string   `json:"reason,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
	StartedAt  string   `json:"started_at,omitempty"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

// RunSummary is the aggregate result of one run.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	PipelineID string       `json:"pipeline_id"`
	State      string       `json:"state"`
	ChangeSet  []string     `json:"change_set"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	Nodes      []NodeResult `json:"nodes"`
	Failed     []string     `json:"failed,omitempty"`
	Skipped    []string     `json:"skipped,omitempty"`
}

// CreateRunInput triggers a run.
type CreateRunInput struct {
	ChangeSet   []string `json:"change_set,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	DryRun      bool     `json:"dry_run,omitempty"`
}

// APIError is the error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// CreateRun triggers an orchestration run and returns its summary.
func (c *Client) CreateRun(ctx context.Context, input CreateRunInput) (*RunSummary, error) {
	var out struct {
		Summary RunSummary `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, "/runs", input, &out); err != nil {
		return nil, err
	}
	return &out.Summary, nil
}

// ListRuns returns past runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	var runs []Run
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns the summary of one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	var summary RunSummary
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
			envelope.Error.Status = resp.StatusCode
			return &envelope.Error
		}
		return fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
