package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/repository"
)

func sampleBatch(id string, created time.Time) *domain.Batch {
	return &domain.Batch{
		ID:        id,
		Filename:  "release.yaml",
		Status:    domain.StatusPending,
		Mode:      domain.ModeParallel,
		Total:     2,
		CreatedAt: created,
		UpdatedAt: created,
		Deployments: []domain.Deployment{
			{ID: id + "-b", BatchID: id, Position: 1, Status: domain.StatusPending, Request: domain.DeploymentRequest{ServiceName: "second"}},
			{ID: id + "-a", BatchID: id, Position: 0, Status: domain.StatusPending, Request: domain.DeploymentRequest{ServiceName: "first"}},
		},
	}
}

func TestCreateAndGetBatch(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.CreateBatch(ctx, sampleBatch("b1", now)); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if err := repo.CreateBatch(ctx, sampleBatch("b1", now)); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if len(got.Deployments) != 2 || got.Deployments[0].Request.ServiceName != "first" {
		t.Fatalf("expected deployments in position order, got %+v", got.Deployments)
	}
	if _, err := repo.GetBatch(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatesAreIsolatedCopies(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.CreateBatch(ctx, sampleBatch("b1", now)); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	got, _ := repo.GetBatch(ctx, "b1")
	dep := got.Deployments[0]
	if err := dep.Transition(domain.StatusProcessing, now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	got.Deployments[1].Status = domain.StatusFailed

	if err := repo.UpdateDeployment(ctx, &dep); err != nil {
		t.Fatalf("update deployment: %v", err)
	}
	deps, err := repo.ListDeploymentsByBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("list deployments: %v", err)
	}
	if deps[0].Status != domain.StatusProcessing || deps[0].StartedAt == nil {
		t.Fatalf("expected first deployment processing, got %+v", deps[0])
	}
	if deps[1].Status != domain.StatusPending {
		t.Fatalf("expected unsaved mutation to be invisible, got %s", deps[1].Status)
	}

	missing := domain.Deployment{ID: "nope"}
	if err := repo.UpdateDeployment(ctx, &missing); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBatchAndList(t *testing.T) {
	repo := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := repo.CreateBatch(ctx, sampleBatch(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	b, _ := repo.GetBatch(ctx, "mid")
	b.Status = domain.StatusSuccess
	b.Successful = 2
	done := base.Add(2 * time.Hour)
	b.CompletedAt = &done
	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("update batch: %v", err)
	}

	list, err := repo.ListBatches(ctx, 2)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "mid" {
		t.Fatalf("unexpected order %v", []string{list[0].ID, list[1].ID})
	}
	if list[1].Status != domain.StatusSuccess || list[1].Successful != 2 || list[1].CompletedAt == nil {
		t.Fatalf("expected updated batch fields, got %+v", list[1])
	}
	if list[0].Deployments != nil {
		t.Fatal("expected list to omit deployments")
	}
}
