package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the axon API for interactive tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Issues  []Issue
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp)
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(resp *http.Response) APIError {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error  string  `json:"error"`
		Issues []Issue `json:"issues"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Issues = payload.Issues
	return apiErr
}

// Issue is one manifest validation problem.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Deployment mirrors a deployment in API payloads.
type Deployment struct {
	ID      string `json:"id"`
	BatchID string `json:"batch_id"`
	Request struct {
		Pillar          string `json:"pillar"`
		ServiceName     string `json:"service_name"`
		ArtifactVersion string `json:"docker_image_version"`
		EnvironmentID   string `json:"environment_id"`
	} `json:"request"`
	Target struct {
		Kind      string `json:"kind"`
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"target"`
	Status       string     `json:"status"`
	ExecutionID  string     `json:"execution_id"`
	ErrorMessage string     `json:"error_message"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// Batch mirrors a batch in API payloads.
type Batch struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename"`
	Status      string       `json:"status"`
	Mode        string       `json:"mode"`
	Total       int          `json:"total"`
	Successful  int          `json:"successful"`
	Failed      int          `json:"failed"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at"`
	Deployments []Deployment `json:"deployments"`
}

// BatchSummary is a batch with status counts and progress percentage.
type BatchSummary struct {
	Batch    Batch          `json:"batch"`
	Counts   map[string]int `json:"counts"`
	Progress float64        `json:"progress"`
}

// SubmitResponse is returned once a batch is accepted.
type SubmitResponse struct {
	Batch      Batch  `json:"batch"`
	StatusURL  string `json:"status_url"`
	ArchiveKey string `json:"archive_key"`
}

// ValidateResponse reports a server-side manifest check.
type ValidateResponse struct {
	Valid       bool   `json:"valid"`
	Filename    string `json:"filename"`
	Version     string `json:"version"`
	Deployments int    `json:"deployments"`
}

// RollbackResult reports what a rollback touched.
type RollbackResult struct {
	BatchID        string   `json:"batch_id"`
	RolledBack     int      `json:"rolled_back"`
	CancelFailures int      `json:"cancel_failures"`
	DeploymentIDs  []string `json:"deployment_ids"`
}

// EndpointHealth is the connectivity of one pillar webhook.
type EndpointHealth struct {
	Pillar     string `json:"pillar"`
	Endpoint   string `json:"endpoint"`
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

// ConnectivityReport covers every pillar.
type ConnectivityReport struct {
	Pillars   []EndpointHealth `json:"pillars"`
	Reachable int              `json:"reachable"`
	Total     int              `json:"total"`
}

// SubmitManifest uploads a manifest and starts processing it.
func (c *Client) SubmitManifest(ctx context.Context, filename string, content []byte, mode string) (SubmitResponse, error) {
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}
	if mode != "" {
		query.Set("mode", mode)
	}
	path := "/batches"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(content), "application/yaml", &resp); err != nil {
		return SubmitResponse{}, err
	}
	return resp, nil
}

// ValidateManifest checks a manifest on the server without submitting it.
func (c *Client) ValidateManifest(ctx context.Context, content []byte) (ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/manifests/validate", bytes.NewReader(content), "application/yaml", &resp); err != nil {
		return ValidateResponse{}, err
	}
	return resp, nil
}

// GetBatch returns the batch with its deployments.
func (c *Client) GetBatch(ctx context.Context, batchID string) (BatchSummary, error) {
	var summary BatchSummary
	if err := c.do(ctx, http.MethodGet, "/batches/"+url.PathEscape(batchID), nil, "", &summary); err != nil {
		return BatchSummary{}, err
	}
	return summary, nil
}

// ListBatches returns recent batches, newest first.
func (c *Client) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	path := "/batches"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var batches []Batch
	if err := c.do(ctx, http.MethodGet, path, nil, "", &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// Rollback rolls back the successful deployments of a batch.
func (c *Client) Rollback(ctx context.Context, batchID string) (RollbackResult, error) {
	var result RollbackResult
	if err := c.do(ctx, http.MethodPost, "/batches/"+url.PathEscape(batchID)+"/rollback", nil, "", &result); err != nil {
		return RollbackResult{}, err
	}
	return result, nil
}

// Connectivity checks the pipeline webhooks through the API.
func (c *Client) Connectivity(ctx context.Context) (ConnectivityReport, error) {
	var report ConnectivityReport
	if err := c.do(ctx, http.MethodGet, "/pillars/connectivity", nil, "", &report); err != nil {
		return ConnectivityReport{}, err
	}
	return report, nil
}
