// Package postgres persists batches and deployments in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/repository"
)

// Repository implements repository.Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.Store = (*Repository)(nil)

const deploymentColumns = `id, batch_id, position, pillar, service_name, artifact_type, artifact_version,
	environment_id, infrastructure_id, metadata, target_kind, target_name, target_namespace,
	status, execution_id, error_message, started_at, completed_at, created_at, updated_at`

// CreateBatch inserts the batch row and all of its deployments in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil {
		return fmt.Errorf("batch required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const batchInsert = `INSERT INTO batches (id, filename, status, mode, total, successful, failed, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, batchInsert,
		batch.ID,
		batch.Filename,
		string(batch.Status),
		string(batch.Mode),
		batch.Total,
		batch.Successful,
		batch.Failed,
		batch.CreatedAt,
		batch.UpdatedAt,
		batch.CompletedAt,
	); err != nil {
		return mapError(err)
	}

	if len(batch.Deployments) > 0 {
		const deploymentInsert = `INSERT INTO deployments (` + deploymentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
		queue := &pgx.Batch{}
		for i := range batch.Deployments {
			d := &batch.Deployments[i]
			metadata, err := json.Marshal(d.Request.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", d.ID, err)
			}
			queue.Queue(deploymentInsert,
				d.ID,
				batch.ID,
				d.Position,
				string(d.Request.Pillar),
				d.Request.ServiceName,
				string(d.Request.ArtifactType),
				d.Request.ArtifactVersion,
				d.Request.EnvironmentID,
				d.Request.InfrastructureID,
				metadata,
				d.Target.Kind,
				d.Target.Name,
				d.Target.Namespace,
				string(d.Status),
				d.ExecutionID,
				d.ErrorMessage,
				d.StartedAt,
				d.CompletedAt,
				d.CreatedAt,
				d.UpdatedAt,
			)
		}
		br := tx.SendBatch(ctx, queue)
		for range batch.Deployments {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return mapError(err)
			}
		}
		if err := br.Close(); err != nil {
			return mapError(err)
		}
	}

	return tx.Commit(ctx)
}

// GetBatch loads the batch and its deployments ordered by position.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	const query = `SELECT id, filename, status, mode, total, successful, failed, created_at, updated_at, completed_at
		FROM batches WHERE id = $1`
	batch, err := scanBatch(r.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	deployments, err := r.deploymentsFor(ctx, batchID)
	if err != nil {
		return nil, err
	}
	batch.Deployments = deployments
	return batch, nil
}

// UpdateBatch writes the batch status, counters and timestamps.
func (r *Repository) UpdateBatch(ctx context.Context, batch *domain.Batch) error {
	const query = `UPDATE batches
		SET status = $2,
			mode = $3,
			total = $4,
			successful = $5,
			failed = $6,
			updated_at = $7,
			completed_at = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		batch.ID,
		string(batch.Status),
		string(batch.Mode),
		batch.Total,
		batch.Successful,
		batch.Failed,
		batch.UpdatedAt,
		batch.CompletedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListBatches returns the most recent batches without their deployments.
func (r *Repository) ListBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, filename, status, mode, total, successful, failed, created_at, updated_at, completed_at
		FROM batches ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

// UpdateDeployment writes the mutable deployment fields.
func (r *Repository) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `UPDATE deployments
		SET target_kind = $2,
			target_name = $3,
			target_namespace = $4,
			status = $5,
			execution_id = $6,
			error_message = $7,
			started_at = $8,
			completed_at = $9,
			updated_at = $10
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.Target.Kind,
		deployment.Target.Name,
		deployment.Target.Namespace,
		string(deployment.Status),
		deployment.ExecutionID,
		deployment.ErrorMessage,
		deployment.StartedAt,
		deployment.CompletedAt,
		deployment.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByBatch returns the deployments of an existing batch.
func (r *Repository) ListDeploymentsByBatch(ctx context.Context, batchID string) ([]domain.Deployment, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return r.deploymentsFor(ctx, batchID)
}

func (r *Repository) deploymentsFor(ctx context.Context, batchID string) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE batch_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var (
			d                        domain.Deployment
			pillar, artifact, status string
			metadata                 []byte
			startedAt, completedAt   *time.Time
		)
		if err := rows.Scan(
			&d.ID,
			&d.BatchID,
			&d.Position,
			&pillar,
			&d.Request.ServiceName,
			&artifact,
			&d.Request.ArtifactVersion,
			&d.Request.EnvironmentID,
			&d.Request.InfrastructureID,
			&metadata,
			&d.Target.Kind,
			&d.Target.Name,
			&d.Target.Namespace,
			&status,
			&d.ExecutionID,
			&d.ErrorMessage,
			&startedAt,
			&completedAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.Request.Pillar = domain.Pillar(pillar)
		d.Request.ArtifactType = domain.ArtifactType(artifact)
		d.Status = domain.Status(status)
		d.StartedAt = startedAt
		d.CompletedAt = completedAt
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &d.Request.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", d.ID, err)
			}
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var (
		b            domain.Batch
		status, mode string
		completedAt  *time.Time
	)
	if err := row.Scan(&b.ID, &b.Filename, &status, &mode, &b.Total, &b.Successful, &b.Failed, &b.CreatedAt, &b.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	b.Status = domain.Status(status)
	b.Mode = domain.ProcessingMode(mode)
	b.CompletedAt = completedAt
	return &b, nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}
