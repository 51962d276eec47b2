package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state shared by batches and deployments.
type Status string

// Lifecycle states.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRollback   Status = "ROLLBACK"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusRollback}

// ParseStatus maps a stored or user supplied value to a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, nil
	case StatusProcessing:
		return StatusProcessing, nil
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusRollback:
		return StatusRollback, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

// Terminal reports whether the forward lifecycle has ended.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusRollback:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether a deployment may move from one status to another.
// ROLLBACK is reachable only from SUCCESS.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusSuccess || to == StatusFailed
	case StatusSuccess:
		return to == StatusRollback
	default:
		return false
	}
}

// ComputeBatchStatus derives the batch status from its deployments. The result only depends
// on the deployment states, so recomputing it is idempotent.
func ComputeBatchStatus(deployments []Deployment) Status {
	if len(deployments) == 0 {
		return StatusPending
	}
	failed := false
	for _, d := range deployments {
		switch d.Status {
		case StatusPending, StatusProcessing:
			return StatusProcessing
		case StatusFailed:
			failed = true
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusSuccess
}

// CountByStatus tallies deployments per status. Every status is present in the result.
func CountByStatus(deployments []Deployment) map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for _, d := range deployments {
		counts[d.Status]++
	}
	return counts
}
