package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestJob() *Job {
	return New(KindSingleFile, "profile-1", uploadInput())
}

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()

	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, saved.ID)
	}
	if saved.Input.Data != nil {
		t.Error("repository must not retain the upload buffer")
	}
}

func TestMemoryRepository_Save_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	_ = job.Acknowledge()
	_ = job.Start()
	job.AddArtifact(Artifact{Kind: ArtifactVideo})
	_ = repo.Save(ctx, job)

	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Status != StatusProcessing {
		t.Errorf("expected status %s, got %s", StatusProcessing, saved.Status)
	}
	if len(saved.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(saved.Artifacts))
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	found, _ := repo.FindByID(ctx, job.ID)
	_ = found.Acknowledge()
	found.AddArtifact(Artifact{Kind: ArtifactAudio})

	original, _ := repo.FindByID(ctx, job.ID)
	if original.Status != StatusAccepted {
		t.Error("modifying returned job status should not affect repository")
	}
	if len(original.Artifacts) != 0 {
		t.Error("modifying returned job artifacts should not affect repository")
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected 0 jobs, got %d", len(jobs))
	}

	_ = repo.Save(ctx, newTestJob())
	_ = repo.Save(ctx, newTestJob())

	jobs, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := newTestJob()
	_ = repo.Save(ctx, job)

	if err := repo.Delete(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
	}
}

func TestMemoryRepository_PruneCompleted(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	finished := NewWithID("finished", KindSingleFile, "p", Input{})
	_ = finished.Acknowledge()
	_ = finished.Start()
	_ = finished.Succeed()
	_ = repo.Save(ctx, finished)

	running := NewWithID("running", KindSingleFile, "p", Input{})
	_ = running.Acknowledge()
	_ = running.Start()
	_ = repo.Save(ctx, running)

	n, err := repo.PruneCompleted(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing pruned before retention, got %d", n)
	}

	n, _ = repo.PruneCompleted(ctx, time.Now().Add(time.Second))
	if n != 1 {
		t.Errorf("expected 1 pruned job, got %d", n)
	}
	if _, err := repo.FindByID(ctx, "finished"); !errors.Is(err, ErrJobNotFound) {
		t.Error("expected finished job to be pruned")
	}
	if _, err := repo.FindByID(ctx, "running"); err != nil {
		t.Error("running job must survive pruning")
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = repo.Save(ctx, NewWithID(fmt.Sprintf("job-%d", i), KindSingleFile, "p", Input{}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = repo.List(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = repo.PruneCompleted(ctx, time.Now())
		}
	}()
	wg.Wait()

	jobs, _ := repo.List(ctx)
	if len(jobs) != 100 {
		t.Errorf("expected 100 jobs, got %d", len(jobs))
	}
}
