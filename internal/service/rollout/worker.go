// Package rollout drives batches of deployments through the pipeline and verifies them on the
// cluster.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/cluster"
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/events"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/repository"
	"github.com/AbhishekMashetty/axon/internal/retry"
)

var (
	// ErrDeploymentCancelled is the failure reason when the caller's context ends mid-deployment.
	ErrDeploymentCancelled = errors.New("deployment cancelled")
	// ErrDeploymentTimeout is the failure reason when the pipeline does not finish in time.
	ErrDeploymentTimeout = errors.New("deployment timed out")
	// ErrDeploymentInterrupted is the failure reason for a deployment found PROCESSING with no
	// worker attached, left behind by a previous run of the service.
	ErrDeploymentInterrupted = errors.New("deployment interrupted before completion")
)

// Pipeline triggers and tracks executions.
type Pipeline interface {
	Trigger(ctx context.Context, req domain.DeploymentRequest) (pipeline.ExecutionHandle, error)
	ExecutionStatus(ctx context.Context, handle pipeline.ExecutionHandle) (pipeline.ExecutionStatus, error)
	Cancel(ctx context.Context, handle pipeline.ExecutionHandle) error
}

// Validator resolves services to cluster workloads and checks their readiness.
type Validator interface {
	Resolve(pillar domain.Pillar, service, namespace string) cluster.Target
	Validate(ctx context.Context, pillar domain.Pillar, service, namespace string) (cluster.ValidationResult, error)
}

// WorkerConfig tunes polling and validation.
type WorkerConfig struct {
	DeploymentTimeout  time.Duration
	PollInterval       time.Duration
	ValidationAttempts int
	ValidationDelay    time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.DeploymentTimeout <= 0 {
		c.DeploymentTimeout = 30 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ValidationAttempts <= 0 {
		c.ValidationAttempts = 3
	}
	if c.ValidationDelay < 0 {
		c.ValidationDelay = 0
	}
	return c
}

// Outcome summarises a finished deployment.
type Outcome struct {
	DeploymentID string
	Status       domain.Status
	Reason       string
	ExecutionID  string
	Elapsed      time.Duration
}

// Worker drives a single deployment from PENDING to SUCCESS or FAILED.
type Worker struct {
	pipeline  Pipeline
	validator Validator
	store     repository.DeploymentRepository
	events    events.Publisher
	metrics   *Metrics
	clock     clock.PassiveClock
	sleep     retry.SleepFunc
	cfg       WorkerConfig
	logger    *slog.Logger
}

// Run processes d, which the caller must own exclusively. Every error and panic after the move
// to PROCESSING ends as FAILED with the error text as reason. The deployment timeout counts
// from the move to PROCESSING, so trigger retries spend from the same budget.
func (w *Worker) Run(ctx context.Context, d *domain.Deployment) (out Outcome) {
	log := w.logger.With("deployment_id", d.ID, "batch_id", d.BatchID, "pillar", d.Request.Pillar, "service", d.Request.ServiceName)
	started := w.clock.Now()

	if err := d.Transition(domain.StatusProcessing, started.UTC()); err != nil {
		log.Error("deployment not runnable", "status", d.Status, "error", err)
		return Outcome{DeploymentID: d.ID, Status: d.Status, Reason: err.Error(), ExecutionID: d.ExecutionID}
	}
	w.metrics.workerStarted()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("deployment worker panicked", "panic", rec, "stack", string(debug.Stack()))
			w.failAfterPanic(ctx, d, rec, log)
		}
		elapsed := w.clock.Since(started)
		w.metrics.workerFinished(d.Request.Pillar, d.Status, elapsed)
		out = Outcome{DeploymentID: d.ID, Status: d.Status, Reason: d.ErrorMessage, ExecutionID: d.ExecutionID, Elapsed: elapsed}
	}()

	w.save(ctx, d, log)
	log.Info("deployment processing")
	w.finish(ctx, d, w.execute(ctx, d, started.Add(w.timeoutFor(d)), log), log)
	return out
}

// failAfterPanic records the FAILED state. The in-memory status is set before persisting, so a
// store or publisher that panics again only loses the write.
func (w *Worker) failAfterPanic(ctx context.Context, d *domain.Deployment, rec any, log *slog.Logger) {
	defer func() {
		if again := recover(); again != nil {
			log.Error("recording worker panic failed", "panic", again)
		}
	}()
	w.finish(ctx, d, fmt.Errorf("worker panic: %v", rec), log)
}

func (w *Worker) execute(ctx context.Context, d *domain.Deployment, deadline time.Time, log *slog.Logger) error {
	if ctx.Err() != nil {
		return ErrDeploymentCancelled
	}
	handle, err := w.pipeline.Trigger(ctx, d.Request)
	if err != nil {
		if ctx.Err() != nil {
			return ErrDeploymentCancelled
		}
		return err
	}
	d.ExecutionID = handle.ID
	d.UpdatedAt = w.clock.Now().UTC()
	w.save(ctx, d, log)
	log.Info("pipeline triggered", "execution_id", handle.ID, "synthesized", handle.Synthesized)

	if err := w.awaitExecution(ctx, d, handle, deadline, log); err != nil {
		return err
	}
	return w.validate(ctx, d, log)
}

func (w *Worker) awaitExecution(ctx context.Context, d *domain.Deployment, handle pipeline.ExecutionHandle, deadline time.Time, log *slog.Logger) error {
	err := retry.PollUntil(ctx, w.clock, w.sleep, w.cfg.PollInterval, deadline, func(ctx context.Context) (bool, error) {
		status, err := w.pipeline.ExecutionStatus(ctx, handle)
		switch {
		case err != nil:
			log.Warn("execution status query failed", "execution_id", handle.ID, "error", err)
			return false, nil
		case status.State == pipeline.StateSucceeded:
			log.Info("pipeline execution succeeded", "execution_id", handle.ID)
			return true, nil
		case status.State == pipeline.StateFailed:
			return false, fmt.Errorf("pipeline execution failed with status: %s", strings.ToLower(status.Raw))
		}
		return false, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ErrDeploymentCancelled
	case wait.Interrupted(err):
		return fmt.Errorf("%w after %s", ErrDeploymentTimeout, w.timeoutFor(d))
	}
	return err
}

type notReadyError struct{ detail string }

func (e notReadyError) Error() string { return "workload not ready: " + e.detail }

func (w *Worker) validate(ctx context.Context, d *domain.Deployment, log *slog.Logger) error {
	policy := retry.Fixed(w.cfg.ValidationAttempts, w.cfg.ValidationDelay)
	attempts, err := retry.Do(ctx, policy, w.sleep, func(ctx context.Context, attempt int) error {
		res, err := w.validator.Validate(ctx, d.Request.Pillar, d.Request.ServiceName, d.Target.Namespace)
		if err != nil {
			log.Warn("cluster validation errored", "attempt", attempt+1, "error", err)
			return err
		}
		if !res.Ready {
			log.Info("workload not ready", "attempt", attempt+1, "kind", res.Kind, "detail", res.Detail)
			return notReadyError{detail: res.Detail}
		}
		log.Info("workload ready", "attempt", attempt+1, "kind", res.Kind)
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrDeploymentCancelled
	}
	log.Warn("cluster validation exhausted", "attempts", attempts, "last_error", err)
	return fmt.Errorf("validation failed after %d attempts", attempts)
}

// finish moves a PROCESSING deployment to its final state and announces it.
func (w *Worker) finish(ctx context.Context, d *domain.Deployment, cause error, log *slog.Logger) {
	if d.Status != domain.StatusProcessing {
		return
	}
	now := w.clock.Now().UTC()
	if cause == nil {
		if err := d.Transition(domain.StatusSuccess, now); err != nil {
			log.Error("record success failed", "error", err)
			return
		}
		log.Info("deployment succeeded", "execution_id", d.ExecutionID)
	} else {
		if err := d.Fail(cause.Error(), now); err != nil {
			log.Error("record failure failed", "error", err)
			return
		}
		log.Warn("deployment failed", "execution_id", d.ExecutionID, "reason", d.ErrorMessage)
	}
	w.save(ctx, d, log)
}

// save persists and announces d. Failures are logged and never change the outcome.
func (w *Worker) save(ctx context.Context, d *domain.Deployment, log *slog.Logger) {
	if err := w.store.UpdateDeployment(context.WithoutCancel(ctx), d); err != nil {
		log.Error("persist deployment failed", "status", d.Status, "error", err)
	}
	w.events.Publish(events.ForDeployment(d, w.clock.Now().UTC()))
}

func (w *Worker) timeoutFor(d *domain.Deployment) time.Duration {
	if s := d.Request.Metadata.TimeoutSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return w.cfg.DeploymentTimeout
}
