package rollout

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/events"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/repository"
)

// RollbackResult reports what a rollback touched.
type RollbackResult struct {
	BatchID        string   `json:"batch_id"`
	RolledBack     int      `json:"rolled_back"`
	CancelFailures int      `json:"cancel_failures"`
	DeploymentIDs  []string `json:"deployment_ids"`
}

// RollbackCoordinator moves the successful deployments of a settled batch to ROLLBACK.
type RollbackCoordinator struct {
	store    repository.Store
	pipeline Pipeline
	events   events.Publisher
	metrics  *Metrics
	clock    clock.PassiveClock
	logger   *slog.Logger
}

// Rollback cancels the pipeline execution of every SUCCESS deployment on a best-effort basis
// and marks it ROLLBACK, then marks the batch ROLLBACK.
func (c *RollbackCoordinator) Rollback(ctx context.Context, batchID string) (RollbackResult, error) {
	batch, err := loadBatch(ctx, c.store, batchID)
	if err != nil {
		return RollbackResult{}, err
	}
	if batch.Status == domain.StatusPending || batch.Status == domain.StatusProcessing {
		return RollbackResult{}, fmt.Errorf("%w: %s is %s", domain.ErrBatchInProgress, batch.ID, batch.Status)
	}
	log := c.logger.With("batch_id", batch.ID)

	result := RollbackResult{BatchID: batch.ID}
	for i := range batch.Deployments {
		d := &batch.Deployments[i]
		if d.Status != domain.StatusSuccess {
			continue
		}
		if d.ExecutionID != "" {
			if err := c.pipeline.Cancel(ctx, pipeline.ExecutionHandle{ID: d.ExecutionID}); err != nil {
				result.CancelFailures++
				log.Warn("cancel execution failed", "deployment_id", d.ID, "execution_id", d.ExecutionID, "error", err)
			}
		}
		now := c.clock.Now().UTC()
		if err := d.Transition(domain.StatusRollback, now); err != nil {
			return result, err
		}
		if err := c.store.UpdateDeployment(context.WithoutCancel(ctx), d); err != nil {
			log.Error("persist rollback failed", "deployment_id", d.ID, "error", err)
		}
		c.events.Publish(events.ForDeployment(d, now))
		result.RolledBack++
		result.DeploymentIDs = append(result.DeploymentIDs, d.ID)
	}
	if result.RolledBack == 0 {
		return result, domain.ErrNoSuccessfulDeployments
	}

	now := c.clock.Now().UTC()
	batch.Status = domain.StatusRollback
	batch.UpdatedAt = now
	if err := c.store.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		return result, fmt.Errorf("persist batch rollback: %w", err)
	}
	c.metrics.rolledBack(result.RolledBack)
	c.events.Publish(events.ForBatch(events.BatchRolledBack, batch, now))
	log.Info("batch rolled back", "deployments", result.RolledBack, "cancel_failures", result.CancelFailures)
	return result, nil
}
