package repository

import (
	"context"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// BatchRepository persists batches. CreateBatch stores the batch together with its deployments.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *domain.Batch) error
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	UpdateBatch(ctx context.Context, batch *domain.Batch) error
	ListBatches(ctx context.Context, limit int) ([]domain.Batch, error)
}

// DeploymentRepository persists deployment state changes.
type DeploymentRepository interface {
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	ListDeploymentsByBatch(ctx context.Context, batchID string) ([]domain.Deployment, error)
}

// Store combines the repositories used by the orchestrator.
type Store interface {
	BatchRepository
	DeploymentRepository
}
