package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atelier3d/atelier/internal/domain"
)

func testRepo(t *testing.T) *JobRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewJobRepository(db)
}

func seedJob(t *testing.T, repo *JobRepository, id, externalID string, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:            id,
		ExternalJobID: externalID,
		SubjectID:     "subj",
		Kind:          domain.JobKindBackgroundRemoval,
		Status:        status,
		SourceURLs:    domain.StringArray{},
		ResultURLs:    domain.StringArray{},
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func TestGetByExternalID(t *testing.T) {
	repo := testRepo(t)
	seedJob(t, repo, "j1", "ext-1", domain.JobStatusPending)

	job, err := repo.GetByExternalID(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != "j1" {
		t.Errorf("unexpected job %q", job.ID)
	}

	if _, err := repo.GetByExternalID(context.Background(), "ghost"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestCompleteIfActiveWinsOnce(t *testing.T) {
	repo := testRepo(t)
	job := seedJob(t, repo, "j1", "ext-1", domain.JobStatusProcessing)

	now := time.Now()
	job.ResultURLs = domain.StringArray{"https://cdn/a.png"}
	job.SourceURLs = domain.StringArray{"a.png"}
	job.Progress = 100
	job.CompletedAt = &now

	won, err := repo.CompleteIfActive(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !won {
		t.Fatal("first completion attempt must win")
	}

	// Second attempt with different URLs must not touch the row
	job.ResultURLs = domain.StringArray{"https://cdn/other.png"}
	won, err = repo.CompleteIfActive(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Fatal("second completion attempt must lose")
	}

	stored, err := repo.GetByID(context.Background(), "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if len(stored.ResultURLs) != 1 || stored.ResultURLs[0] != "https://cdn/a.png" {
		t.Errorf("losing write leaked into the row: %v", stored.ResultURLs)
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
}

func TestFailIfActiveRespectsTerminalRows(t *testing.T) {
	repo := testRepo(t)
	seedJob(t, repo, "j1", "ext-1", domain.JobStatusCompleted)
	seedJob(t, repo, "j2", "ext-2", domain.JobStatusPending)

	won, err := repo.FailIfActive(context.Background(), "j1", "too late")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Error("completed rows must not transition to failed")
	}

	won, err = repo.FailIfActive(context.Background(), "j2", "upstream error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !won {
		t.Error("pending rows must transition to failed")
	}

	stored, _ := repo.GetByID(context.Background(), "j2")
	if stored.Status != domain.JobStatusFailed || stored.ErrorDetail != "upstream error" {
		t.Errorf("unexpected row state: %s %q", stored.Status, stored.ErrorDetail)
	}
}

func TestFindPollable(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now()

	seedJob(t, repo, "stale", "ext-1", domain.JobStatusProcessing)
	seedJob(t, repo, "fresh", "ext-2", domain.JobStatusProcessing)
	seedJob(t, repo, "confirmed", "ext-3", domain.JobStatusProcessing)
	seedJob(t, repo, "done", "ext-4", domain.JobStatusCompleted)

	if err := repo.MarkPolled(ctx, "stale", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("mark polled: %v", err)
	}
	if err := repo.MarkPolled(ctx, "fresh", now); err != nil {
		t.Fatalf("mark polled: %v", err)
	}

	// Webhook receipt removes a job from the poll set
	confirmed, _ := repo.GetByID(ctx, "confirmed")
	confirmed.WebhookReceivedAt = &now
	if err := repo.Update(ctx, confirmed); err != nil {
		t.Fatalf("update: %v", err)
	}

	jobs, err := repo.FindPollable(ctx, now.Add(-30*time.Second), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "stale" {
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		t.Errorf("expected [stale], got %v", ids)
	}
}

func TestListAndCount(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	seedJob(t, repo, "j1", "ext-1", domain.JobStatusPending)
	seedJob(t, repo, "j2", "ext-2", domain.JobStatusCompleted)
	j3 := seedJob(t, repo, "j3", "ext-3", domain.JobStatusCompleted)
	j3.SubjectID = "other"
	if err := repo.Update(ctx, j3); err != nil {
		t.Fatalf("update: %v", err)
	}

	jobs, err := repo.List(ctx, "subj", domain.JobStatusCompleted, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j2" {
		t.Errorf("unexpected list result: %+v", jobs)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[domain.JobStatusCompleted] != 2 || counts[domain.JobStatusPending] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
