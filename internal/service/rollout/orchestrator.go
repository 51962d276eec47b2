package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/AbhishekMashetty/axon/internal/cluster"
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/events"
	"github.com/AbhishekMashetty/axon/internal/repository"
	"github.com/AbhishekMashetty/axon/internal/retry"
)

// DefaultMaxWorkers bounds the parallel pool when Config.MaxWorkers is unset.
const DefaultMaxWorkers = 5

// ErrEmptyBatch is returned when a batch is submitted without deployments.
var ErrEmptyBatch = errors.New("batch has no deployments")

// Config tunes the orchestrator.
type Config struct {
	Worker           WorkerConfig
	MaxWorkers       int
	PillarNamespaces map[domain.Pillar]string
}

// Dependencies are the collaborators injected into the Orchestrator. Store, Pipeline and
// Validator are required.
type Dependencies struct {
	Store     repository.Store
	Pipeline  Pipeline
	Validator Validator
	Events    events.Publisher
	Metrics   *Metrics
	Clock     clock.PassiveClock
	Sleep     retry.SleepFunc
	Logger    *slog.Logger
	NewID     func() string
}

// Orchestrator submits batches and fans their deployments out to workers.
type Orchestrator struct {
	cfg      Config
	store    repository.Store
	pipeline Pipeline
	resolver Validator
	events   events.Publisher
	metrics  *Metrics
	clock    clock.PassiveClock
	newID    func() string
	logger   *slog.Logger
	worker   *Worker
	rollback *RollbackCoordinator
	inflight sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]struct{}
}

// New wires an Orchestrator.
func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	cfg.Worker = cfg.Worker.withDefaults()
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	logger := deps.Logger.With("component", "rollout")
	o := &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		resolver: deps.Validator,
		events:   deps.Events,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		newID:    deps.NewID,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
	o.worker = &Worker{
		pipeline:  deps.Pipeline,
		validator: deps.Validator,
		store:     deps.Store,
		events:    deps.Events,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		sleep:     deps.Sleep,
		cfg:       cfg.Worker,
		logger:    logger,
	}
	o.rollback = &RollbackCoordinator{
		store:    deps.Store,
		pipeline: deps.Pipeline,
		events:   deps.Events,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		logger:   logger,
	}
	return o
}

// Submit records a new PENDING batch with one PENDING deployment per request, resolving each
// service to its cluster workload.
func (o *Orchestrator) Submit(ctx context.Context, filename string, requests []domain.DeploymentRequest, mode domain.ProcessingMode) (*domain.Batch, error) {
	if len(requests) == 0 {
		return nil, ErrEmptyBatch
	}
	if mode == "" {
		mode = domain.ModeParallel
	}
	now := o.clock.Now().UTC()
	batch := &domain.Batch{
		ID:          o.newID(),
		Filename:    filename,
		Status:      domain.StatusPending,
		Mode:        mode,
		Total:       len(requests),
		CreatedAt:   now,
		UpdatedAt:   now,
		Deployments: make([]domain.Deployment, 0, len(requests)),
	}
	for i, req := range requests {
		target := o.resolver.Resolve(req.Pillar, req.ServiceName, o.namespaceFor(req.Pillar))
		batch.Deployments = append(batch.Deployments, domain.Deployment{
			ID:        o.newID(),
			BatchID:   batch.ID,
			Position:  i,
			Request:   req,
			Target:    target.Ref(),
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	o.logger.Info("batch submitted", "batch_id", batch.ID, "filename", filename, "deployments", batch.Total, "mode", mode)
	o.events.Publish(events.ForBatch(events.BatchSubmitted, batch, now))
	return batch, nil
}

func (o *Orchestrator) namespaceFor(pillar domain.Pillar) string {
	if ns := o.cfg.PillarNamespaces[pillar]; ns != "" {
		return ns
	}
	return cluster.DefaultNamespace
}

// Process runs every PENDING deployment of the batch and settles the batch status. A missing
// batch fails with domain.ErrBatchNotFound before any work starts, and a batch already being
// processed here fails with domain.ErrBatchInProgress. Deployments left PROCESSING by an earlier
// run of the service are failed with ErrDeploymentInterrupted.
func (o *Orchestrator) Process(ctx context.Context, batchID string, mode domain.ProcessingMode) (*domain.Batch, error) {
	batch, err := o.load(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !o.claim(batch.ID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchInProgress, batch.ID)
	}
	defer o.release(batch.ID)
	if mode == "" {
		mode = batch.Mode
	}
	log := o.logger.With("batch_id", batch.ID, "mode", mode)
	now := o.clock.Now().UTC()
	var pending []*domain.Deployment
	for i := range batch.Deployments {
		d := &batch.Deployments[i]
		switch d.Status {
		case domain.StatusPending:
			pending = append(pending, d)
		case domain.StatusProcessing:
			o.failOrphan(ctx, d, now, log)
		}
	}
	if len(pending) == 0 && batch.Status.Terminal() {
		log.Info("batch already settled", "status", batch.Status)
		return batch, nil
	}

	batch.Status = domain.StatusProcessing
	batch.Mode = mode
	batch.UpdatedAt = now
	if err := o.store.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("mark batch processing: %w", err)
	}
	o.events.Publish(events.ForBatch(events.BatchProcessing, batch, now))
	log.Info("batch processing", "pending", len(pending))

	switch mode {
	case domain.ModeSequential:
		o.runSequential(ctx, pending)
	default:
		o.runParallel(ctx, pending)
	}

	now = o.clock.Now().UTC()
	batch.Settle(now)
	if err := o.store.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		log.Error("persist batch result failed", "error", err)
	}
	if !batch.Status.Terminal() {
		log.Error("batch did not settle", "status", batch.Status)
		return batch, nil
	}
	o.metrics.batchFinished(batch.Status)
	o.events.Publish(events.ForBatch(events.BatchCompleted, batch, now))
	log.Info("batch completed", "status", batch.Status, "successful", batch.Successful, "failed", batch.Failed, "total", batch.Total)
	return batch, nil
}

func (o *Orchestrator) claim(batchID string) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if _, ok := o.active[batchID]; ok {
		return false
	}
	o.active[batchID] = struct{}{}
	return true
}

func (o *Orchestrator) release(batchID string) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	delete(o.active, batchID)
}

func (o *Orchestrator) failOrphan(ctx context.Context, d *domain.Deployment, now time.Time, log *slog.Logger) {
	if err := d.Fail(ErrDeploymentInterrupted.Error(), now); err != nil {
		log.Error("fail interrupted deployment", "deployment_id", d.ID, "error", err)
		return
	}
	log.Warn("deployment interrupted by restart", "deployment_id", d.ID)
	if err := o.store.UpdateDeployment(context.WithoutCancel(ctx), d); err != nil {
		log.Error("persist deployment failed", "deployment_id", d.ID, "error", err)
	}
	o.events.Publish(events.ForDeployment(d, now))
}

func (o *Orchestrator) runSequential(ctx context.Context, deployments []*domain.Deployment) {
	for _, d := range deployments {
		out := o.worker.Run(ctx, d)
		if out.Status == domain.StatusFailed {
			o.logger.Warn("sequential deployment failed, continuing", "deployment_id", d.ID, "reason", out.Reason)
		}
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, deployments []*domain.Deployment) {
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxWorkers)
	for _, d := range deployments {
		d := d
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					o.logger.Error("parallel task panicked", "deployment_id", d.ID, "panic", rec)
				}
			}()
			o.worker.Run(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

// SubmitAndProcess submits the batch and processes it before returning.
func (o *Orchestrator) SubmitAndProcess(ctx context.Context, filename string, requests []domain.DeploymentRequest, mode domain.ProcessingMode) (*domain.Batch, error) {
	batch, err := o.Submit(ctx, filename, requests, mode)
	if err != nil {
		return nil, err
	}
	return o.Process(ctx, batch.ID, mode)
}

// ProcessAsync processes the batch on a new goroutine bound to ctx. Wait blocks until every
// asynchronous run returns.
func (o *Orchestrator) ProcessAsync(ctx context.Context, batchID string, mode domain.ProcessingMode) {
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		if _, err := o.Process(ctx, batchID, mode); err != nil {
			o.logger.Error("batch processing failed", "batch_id", batchID, "error", err)
		}
	}()
}

// Wait blocks until asynchronous processing started with ProcessAsync has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Summary is a batch with its deployments tallied by status.
type Summary struct {
	Batch    *domain.Batch         `json:"batch"`
	Counts   map[domain.Status]int `json:"counts"`
	Progress float64               `json:"progress"`
}

// Status returns the batch with per-status counts and the percentage of finished deployments.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (Summary, error) {
	batch, err := o.load(ctx, batchID)
	if err != nil {
		return Summary{}, err
	}
	counts := domain.CountByStatus(batch.Deployments)
	summary := Summary{Batch: batch, Counts: counts}
	if n := len(batch.Deployments); n > 0 {
		done := counts[domain.StatusSuccess] + counts[domain.StatusFailed] + counts[domain.StatusRollback]
		summary.Progress = float64(done) / float64(n) * 100
	}
	return summary, nil
}

// List returns recent batches, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]domain.Batch, error) {
	return o.store.ListBatches(ctx, limit)
}

// Rollback delegates to the RollbackCoordinator.
func (o *Orchestrator) Rollback(ctx context.Context, batchID string) (RollbackResult, error) {
	return o.rollback.Rollback(ctx, batchID)
}

func (o *Orchestrator) load(ctx context.Context, batchID string) (*domain.Batch, error) {
	return loadBatch(ctx, o.store, batchID)
}

func loadBatch(ctx context.Context, store repository.BatchRepository, batchID string) (*domain.Batch, error) {
	batch, err := store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
		}
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return batch, nil
}
