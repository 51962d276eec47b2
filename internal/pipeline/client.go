// Package pipeline triggers, inspects and cancels remote CI/CD pipeline executions.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/retry"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultAttempts       = 3
	defaultBackoff        = 2 * time.Second
	maxErrorBodySize      = 4096
	userAgent             = "BatchDeploymentSystem/1.0"
	executionPath         = "/gateway/pipeline/api/pipelines/execution/"
)

// Config configures a Client. Endpoints maps each pillar to its webhook URL.
type Config struct {
	BaseURL        string
	APIToken       string
	Endpoints      map[domain.Pillar]string
	RequestTimeout time.Duration
	Retry          retry.Policy
}

// ExecutionHandle identifies a triggered pipeline execution. Synthesized handles were generated
// locally because the webhook response carried no identifier.
type ExecutionHandle struct {
	ID          string
	Synthesized bool
}

// Client talks to the pipeline webhooks and execution API.
type Client struct {
	baseURL   string
	token     string
	endpoints map[domain.Pillar]string
	client    *http.Client
	timeout   time.Duration
	policy    retry.Policy
	sleep     retry.SleepFunc
	now       func() time.Time
	logger    *slog.Logger
}

// New constructs a Client. A nil httpClient uses a default client; per request timeouts are
// applied through the request context.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	policy := cfg.Retry
	if policy.Steps <= 0 {
		policy = retry.Exponential(defaultAttempts, defaultBackoff).WithJitter(policy.Jitter)
	}
	endpoints := make(map[domain.Pillar]string, len(cfg.Endpoints))
	for pillar, endpoint := range cfg.Endpoints {
		endpoints[pillar] = strings.TrimSpace(endpoint)
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:     strings.TrimSpace(cfg.APIToken),
		endpoints: endpoints,
		client:    httpClient,
		timeout:   timeout,
		policy:    policy,
		sleep:     retry.Sleep,
		now:       time.Now,
		logger:    logger.With("component", "pipeline"),
	}
}

type triggerAttempt struct {
	statusCode int
	body       string
	err        error
}

// Trigger starts the pipeline for req through its pillar webhook. Non-2xx responses and
// transport failures are retried with exponential backoff; unknown pillars are not.
func (c *Client) Trigger(ctx context.Context, req domain.DeploymentRequest) (ExecutionHandle, error) {
	endpoint, err := c.endpoint(req.Pillar)
	if err != nil {
		return ExecutionHandle{}, err
	}
	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return ExecutionHandle{}, fmt.Errorf("marshal trigger payload: %w", err)
	}

	var (
		handle ExecutionHandle
		last   triggerAttempt
	)
	attempts, err := retry.Do(ctx, c.policy, c.sleep, func(ctx context.Context, attempt int) error {
		h, result := c.triggerOnce(ctx, endpoint, body)
		if result.err == nil && result.statusCode/100 == 2 {
			handle = h
			return nil
		}
		last = result
		c.logger.Warn("pipeline trigger attempt failed",
			"pillar", req.Pillar,
			"service", req.ServiceName,
			"attempt", attempt+1,
			"status", result.statusCode,
			"error", result.err,
		)
		if result.err != nil {
			return result.err
		}
		return fmt.Errorf("unexpected status %d", result.statusCode)
	})
	if err != nil {
		terr := &domain.TriggerError{
			Pillar:     req.Pillar,
			Service:    req.ServiceName,
			Attempts:   attempts,
			StatusCode: last.statusCode,
			Body:       last.body,
			Err:        last.err,
		}
		if terr.Err == nil && last.statusCode == 0 {
			terr.Err = err
		}
		return ExecutionHandle{}, terr
	}
	c.logger.Info("pipeline triggered",
		"pillar", req.Pillar,
		"service", req.ServiceName,
		"execution_id", handle.ID,
		"attempts", attempts,
	)
	return handle, nil
}

func (c *Client) triggerOnce(ctx context.Context, endpoint string, body []byte) (ExecutionHandle, triggerAttempt) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ExecutionHandle{}, triggerAttempt{err: fmt.Errorf("build trigger request: %w", err)}
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return ExecutionHandle{}, triggerAttempt{err: fmt.Errorf("send trigger request: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ExecutionHandle{}, triggerAttempt{statusCode: resp.StatusCode, body: readSummary(resp)}
	}
	return c.handleFromBody(resp.Body), triggerAttempt{statusCode: resp.StatusCode}
}

func (c *Client) handleFromBody(body io.Reader) ExecutionHandle {
	decoder := json.NewDecoder(io.LimitReader(body, 1<<20))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err == nil {
		for _, key := range []string{"executionId", "execution_id"} {
			if id := stringField(payload[key]); id != "" {
				return ExecutionHandle{ID: id}
			}
		}
	}
	return ExecutionHandle{ID: "exec_" + strconv.FormatInt(c.now().Unix(), 10), Synthesized: true}
}

func (c *Client) payload(req domain.DeploymentRequest) map[string]any {
	return map[string]any{
		"service_name":            req.ServiceName,
		"docker_artifact_type":    req.ArtifactType,
		"docker_artifact_version": req.ArtifactVersion,
		"environment_id":          req.EnvironmentID,
		"infrastructure_id":       req.InfrastructureID,
		"pillar":                  req.Pillar,
		"metadata":                req.Metadata,
		"timestamp":               c.now().Unix(),
	}
}

func (c *Client) endpoint(pillar domain.Pillar) (string, error) {
	endpoint, ok := c.endpoints[pillar]
	if !ok {
		return "", &domain.ConfigurationError{Setting: "pipeline endpoint", Reason: fmt.Sprintf("unknown pillar %q", pillar)}
	}
	if endpoint == "" {
		return "", &domain.ConfigurationError{Setting: "pipeline endpoint", Reason: fmt.Sprintf("no webhook configured for pillar %q", pillar)}
	}
	return endpoint, nil
}

func (c *Client) executionURL(handle ExecutionHandle, suffix string) (string, error) {
	if c.baseURL == "" {
		return "", &domain.ConfigurationError{Setting: "pipeline base url", Reason: "not configured"}
	}
	if strings.TrimSpace(handle.ID) == "" {
		return "", errors.New("execution id required")
	}
	return c.baseURL + executionPath + url.PathEscape(handle.ID) + suffix, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readSummary(resp *http.Response) string {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	return summary
}

func stringField(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}
