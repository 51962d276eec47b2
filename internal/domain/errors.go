package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a status change is outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBatchNotFound indicates the batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrNoSuccessfulDeployments is returned by rollback when nothing can be rolled back.
	ErrNoSuccessfulDeployments = errors.New("no successful deployments to rollback")
	// ErrBatchInProgress indicates the batch still has deployments in flight.
	ErrBatchInProgress = errors.New("batch is still processing")
)

// ConfigurationError reports a missing or invalid setting. It is never retried.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Reason)
}

// TriggerError is the terminal failure of a pipeline trigger after the attempt budget.
type TriggerError struct {
	Pillar     Pillar
	Service    string
	Attempts   int
	StatusCode int
	Body       string
	Err        error
}

func (e *TriggerError) Error() string {
	prefix := fmt.Sprintf("trigger %s/%s failed after %d attempts", e.Pillar, e.Service, e.Attempts)
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", prefix, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", prefix, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *TriggerError) Unwrap() error { return e.Err }

// QueryError reports a failed status read against the pipeline or cluster API.
type QueryError struct {
	Op         string
	Target     string
	StatusCode int
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// CancelError reports a rejected pipeline cancellation.
type CancelError struct {
	ExecutionID string
	StatusCode  int
	Err         error
}

func (e *CancelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cancel execution %s: HTTP %d: %v", e.ExecutionID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("cancel execution %s: %v", e.ExecutionID, e.Err)
}

func (e *CancelError) Unwrap() error { return e.Err }
