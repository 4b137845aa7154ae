package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/atelier3d/atelier/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles compute job persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its local ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: local job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByExternalID retrieves a job by the identifier the compute API assigned.
// Webhook and poll traffic correlate to local rows through this lookup.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - externalID: identifier assigned by the external compute API.
// Returns:
//   - *domain.Job: job record if found.
//   - error: non-nil if lookup fails (gorm.ErrRecordNotFound when absent).
func (r *JobRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "external_job_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Update saves non-terminal field changes (progress, message, webhook receipt).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// MarkPolled bumps last_polled_at for a job, regardless of poll outcome.
// This is a rate-limiting signal only, never a correctness signal.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: local job ID.
//   - at: poll attempt time.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkPolled(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Update("last_polled_at", at).Error
}

// FindPollable selects jobs eligible for a status poll: non-terminal, never
// confirmed by webhook, and not polled since the freshness cutoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - staleBefore: freshness cutoff; rows polled at or after it are skipped.
//   - limit: maximum batch size.
// Returns:
//   - []domain.Job: candidate jobs, oldest first.
//   - error: non-nil if the query fails.
func (r *JobRepository) FindPollable(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Where("webhook_received_at IS NULL").
		Where("last_polled_at IS NULL OR last_polled_at < ?", staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to find pollable jobs: %w", err)
	}
	return jobs, nil
}

// CompleteIfActive transitions a job to completed only if it is still
// non-terminal, writing artifact URLs and the completion timestamp in the
// same conditional UPDATE. Two racing completion attempts cannot both win.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job carrying the completion fields to persist.
// Returns:
//   - bool: true if this call performed the transition.
//   - error: non-nil if the write fails; the row is then still retryable.
func (r *JobRepository) CompleteIfActive(ctx context.Context, job *domain.Job) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", job.ID, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusCompleted,
			"progress":     job.Progress,
			"message":      job.Message,
			"source_urls":  job.SourceURLs,
			"result_urls":  job.ResultURLs,
			"completed_at": job.CompletedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", job.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FailIfActive transitions a job to failed only if it is still non-terminal.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: local job ID.
//   - errorDetail: human-readable failure reason from upstream.
// Returns:
//   - bool: true if this call performed the transition.
//   - error: non-nil if the write fails.
func (r *JobRepository) FailIfActive(ctx context.Context, id string, errorDetail string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusFailed,
			"error_detail": errorDetail,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// List retrieves jobs filtered by subject and/or status, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subjectID: subject filter; empty means all subjects.
//   - status: status filter; empty means all statuses.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Job: matching job records.
//   - error: non-nil if the query fails.
func (r *JobRepository) List(ctx context.Context, subjectID string, status domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	query := r.db.WithContext(ctx).Model(&domain.Job{})
	if subjectID != "" {
		query = query.Where("subject_id = ?", subjectID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var jobs []domain.Job
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus counts jobs grouped by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - map[domain.JobStatus]int64: row counts keyed by status.
//   - error: non-nil if the query fails.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	type row struct {
		Status domain.JobStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
