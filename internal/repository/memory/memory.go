// Package memory is an in-process Store used for tests and single-node runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/repository"
)

// Repository keeps batches in memory. Returned values are copies.
type Repository struct {
	mu          sync.RWMutex
	batches     map[string]domain.Batch
	deployments map[string]domain.Deployment
}

var _ repository.Store = (*Repository)(nil)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		batches:     make(map[string]domain.Batch),
		deployments: make(map[string]domain.Deployment),
	}
}

// CreateBatch stores the batch and its deployments.
func (r *Repository) CreateBatch(_ context.Context, batch *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; ok {
		return repository.ErrConflict
	}
	for _, d := range batch.Deployments {
		if _, ok := r.deployments[d.ID]; ok {
			return repository.ErrConflict
		}
	}
	stored := *batch
	stored.Deployments = nil
	r.batches[batch.ID] = stored
	for _, d := range batch.Deployments {
		r.deployments[d.ID] = copyDeployment(d)
	}
	return nil
}

// GetBatch returns the batch with its deployments in submission order.
func (r *Repository) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	batch := stored
	batch.CompletedAt = copyTime(stored.CompletedAt)
	batch.Deployments = r.deploymentsFor(batchID)
	return &batch, nil
}

// UpdateBatch replaces the batch status, counters and timestamps.
func (r *Repository) UpdateBatch(_ context.Context, batch *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.batches[batch.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = batch.Status
	stored.Mode = batch.Mode
	stored.Total = batch.Total
	stored.Successful = batch.Successful
	stored.Failed = batch.Failed
	stored.UpdatedAt = batch.UpdatedAt
	stored.CompletedAt = copyTime(batch.CompletedAt)
	r.batches[batch.ID] = stored
	return nil
}

// ListBatches returns the most recent batches without deployments.
func (r *Repository) ListBatches(_ context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	batches := make([]domain.Batch, 0, len(r.batches))
	for _, b := range r.batches {
		b.CompletedAt = copyTime(b.CompletedAt)
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID > batches[j].ID
		}
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// UpdateDeployment replaces the stored deployment.
func (r *Repository) UpdateDeployment(_ context.Context, deployment *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[deployment.ID]; !ok {
		return repository.ErrNotFound
	}
	r.deployments[deployment.ID] = copyDeployment(*deployment)
	return nil
}

// ListDeploymentsByBatch returns the batch deployments in submission order.
func (r *Repository) ListDeploymentsByBatch(_ context.Context, batchID string) ([]domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.batches[batchID]; !ok {
		return nil, repository.ErrNotFound
	}
	return r.deploymentsFor(batchID), nil
}

func (r *Repository) deploymentsFor(batchID string) []domain.Deployment {
	var out []domain.Deployment
	for _, d := range r.deployments {
		if d.BatchID == batchID {
			out = append(out, copyDeployment(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func copyDeployment(d domain.Deployment) domain.Deployment {
	d.StartedAt = copyTime(d.StartedAt)
	d.CompletedAt = copyTime(d.CompletedAt)
	d.Request.Metadata.Tags = append([]string(nil), d.Request.Metadata.Tags...)
	d.Request.Metadata.Dependencies = append([]string(nil), d.Request.Metadata.Dependencies...)
	return d
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
