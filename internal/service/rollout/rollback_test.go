package rollout

import (
	"context"
	"errors"
	"testing"

	"github.com/AbhishekMashetty/axon/internal/cluster"
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/events"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
)

func TestRollbackSuccessfulDeployments(t *testing.T) {
	h := newHarness(t)
	h.validator.validate = func(service string) (cluster.ValidationResult, error) {
		return cluster.ValidationResult{Ready: service != "reports"}, nil
	}
	h.pipeline.cancel = func(handle pipeline.ExecutionHandle) error {
		if handle.ID == "exec-margin" {
			return &domain.CancelError{ExecutionID: handle.ID, StatusCode: 409, Err: errBoom}
		}
		return nil
	}
	batch, err := h.orch.SubmitAndProcess(context.Background(), "release.yaml", requests("pricing", "margin", "reports"), domain.ModeSequential)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if batch.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED batch before rollback, got %s", batch.Status)
	}

	res, err := h.orch.Rollback(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.RolledBack != 2 || res.CancelFailures != 1 {
		t.Fatalf("expected 2 rolled back with 1 cancel failure, got %+v", res)
	}

	summary, err := h.orch.Status(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Batch.Status != domain.StatusRollback {
		t.Fatalf("expected batch ROLLBACK, got %s", summary.Batch.Status)
	}
	if summary.Counts[domain.StatusRollback] != 2 || summary.Counts[domain.StatusFailed] != 1 {
		t.Fatalf("unexpected counts %v", summary.Counts)
	}
	if len(h.pipeline.cancels) != 2 {
		t.Fatalf("expected 2 cancel attempts, got %v", h.pipeline.cancels)
	}
	if len(h.events.ofType(events.BatchRolledBack)) != 1 {
		t.Fatal("expected batch rolled back event")
	}

	if _, err := h.orch.Rollback(context.Background(), batch.ID); !errors.Is(err, domain.ErrNoSuccessfulDeployments) {
		t.Fatalf("expected ErrNoSuccessfulDeployments on second rollback, got %v", err)
	}
}

func TestRollbackWithoutSuccessfulDeployments(t *testing.T) {
	h := newHarness(t)
	h.validator.validate = func(string) (cluster.ValidationResult, error) {
		return cluster.ValidationResult{Ready: false}, nil
	}
	batch, err := h.orch.SubmitAndProcess(context.Background(), "release.yaml", requests("pricing"), domain.ModeSequential)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	_, err = h.orch.Rollback(context.Background(), batch.ID)

	if !errors.Is(err, domain.ErrNoSuccessfulDeployments) {
		t.Fatalf("expected ErrNoSuccessfulDeployments, got %v", err)
	}
	if err.Error() != "no successful deployments to rollback" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	summary, _ := h.orch.Status(context.Background(), batch.ID)
	if summary.Batch.Status != domain.StatusFailed {
		t.Fatalf("expected batch untouched, got %s", summary.Batch.Status)
	}
}

func TestRollbackRejectsMissingAndInProgressBatches(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.Rollback(context.Background(), "missing"); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}

	batch, err := h.orch.Submit(context.Background(), "release.yaml", requests("pricing"), domain.ModeSequential)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.orch.Rollback(context.Background(), batch.ID); !errors.Is(err, domain.ErrBatchInProgress) {
		t.Fatalf("expected ErrBatchInProgress, got %v", err)
	}
}
