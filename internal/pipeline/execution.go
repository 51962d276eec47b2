package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// ExecutionState is the normalised state of a pipeline execution.
type ExecutionState string

// Execution states.
const (
	StateRunning   ExecutionState = "running"
	StateSucceeded ExecutionState = "succeeded"
	StateFailed    ExecutionState = "failed"
)

// ExecutionStatus is the result of a status query. Raw keeps the remote value.
type ExecutionStatus struct {
	State ExecutionState
	Raw   string
}

// Terminal reports whether the execution finished.
func (s ExecutionStatus) Terminal() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

// ParseState normalises a remote status value. Unrecognised values mean the execution is
// still in progress.
func ParseState(raw string) ExecutionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded":
		return StateSucceeded
	case "failed", "aborted", "expired":
		return StateFailed
	default:
		return StateRunning
	}
}

// ExecutionStatus fetches the current state of an execution. It makes a single attempt.
func (c *Client) ExecutionStatus(ctx context.Context, handle ExecutionHandle) (ExecutionStatus, error) {
	endpoint, err := c.executionURL(handle, "")
	if err != nil {
		return ExecutionStatus{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ExecutionStatus{}, &domain.QueryError{Op: "get execution status", Target: handle.ID, Err: err}
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return ExecutionStatus{}, &domain.QueryError{Op: "get execution status", Target: handle.ID, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ExecutionStatus{}, &domain.QueryError{
			Op:         "get execution status",
			Target:     handle.ID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readSummary(resp)),
		}
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return ExecutionStatus{}, &domain.QueryError{Op: "decode execution status", Target: handle.ID, Err: err}
	}
	raw := payload.Status
	if strings.TrimSpace(raw) == "" {
		raw = "unknown"
	}
	return ExecutionStatus{State: ParseState(raw), Raw: raw}, nil
}

// Cancel asks the pipeline to abort an execution. It makes a single attempt.
func (c *Client) Cancel(ctx context.Context, handle ExecutionHandle) error {
	endpoint, err := c.executionURL(handle, "/interrupt")
	if err != nil {
		return &domain.CancelError{ExecutionID: handle.ID, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	body := []byte(`{"interruptType":"ABORT_ALL"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.CancelError{ExecutionID: handle.ID, Err: err}
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.CancelError{ExecutionID: handle.ID, Err: fmt.Errorf("send cancel request: %w", err)}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		c.logger.Info("pipeline execution cancelled", "execution_id", handle.ID)
		return nil
	default:
		return &domain.CancelError{ExecutionID: handle.ID, StatusCode: resp.StatusCode, Err: errors.New(readSummary(resp))}
	}
}
