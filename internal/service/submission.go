package service

import (
	"context"
	"fmt"

	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/google/uuid"
)

// SubmitClient submits work to the compute API. Implemented by compute.Client.
type SubmitClient interface {
	Submit(ctx context.Context, kind domain.JobKind, payload map[string]interface{}) (string, error)
}

// SubmissionStore creates job rows. Implemented by repository.JobRepository.
type SubmissionStore interface {
	Create(ctx context.Context, job *domain.Job) error
}

// SubmissionService starts new compute requests: it submits upstream first
// and creates the local row only on success. Submission is never retried
// here, since a retry would create duplicate upstream work.
type SubmissionService struct {
	store   SubmissionStore
	compute SubmitClient
	logger  *logger.Logger
}

// NewSubmissionService creates a new SubmissionService.
// Parameters:
//   - store: job persistence.
//   - computeClient: upstream submission client.
//   - log: base logger.
// Returns:
//   - *SubmissionService: initialized service.
func NewSubmissionService(store SubmissionStore, computeClient SubmitClient, log *logger.Logger) *SubmissionService {
	return &SubmissionService{
		store:   store,
		compute: computeClient,
		logger:  log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SubmissionService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Submit starts a new compute job for a subject.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - subjectID: domain object the job produces output for.
//   - kind: compute operation to perform.
//   - payload: operation-specific submission payload, forwarded opaquely.
// Returns:
//   - *domain.Job: created job row with status pending.
//   - error: the unmodified submission error when upstream rejects (no row
//     is created), or a persistence error if the local write fails.
func (s *SubmissionService) Submit(ctx context.Context, subjectID string, kind domain.JobKind, payload map[string]interface{}) (*domain.Job, error) {
	externalID, err := s.compute.Submit(ctx, kind, payload)
	if err != nil {
		s.log(ctx).WithError(err).Warnf("Compute submission rejected for subject %s", subjectID)
		return nil, err
	}

	job := &domain.Job{
		ID:            uuid.New().String(),
		ExternalJobID: externalID,
		SubjectID:     subjectID,
		Kind:          kind,
		Status:        domain.JobStatusPending,
		SourceURLs:    domain.StringArray{},
		ResultURLs:    domain.StringArray{},
	}

	if err := s.store.Create(ctx, job); err != nil {
		// The upstream job is now orphaned; log the correlation id so it can
		// be reconciled manually.
		s.log(ctx).WithField(logger.FieldExternalJobID, externalID).
			WithError(err).Errorf("Failed to persist job row after successful submission")
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:         job.ID,
		logger.FieldExternalJobID: externalID,
		logger.FieldSubjectID:     subjectID,
	}).Infof("Submitted %s job", kind)

	return job, nil
}
