package service

import (
	"context"
	"time"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/atelier3d/atelier/internal/notify"
)

// Origin identifies which channel delivered a status observation.
type Origin string

const (
	OriginPoll    Origin = "poll"
	OriginWebhook Origin = "webhook"
)

// Outcome reports what a reconciliation pass did with a status observation.
type Outcome string

const (
	OutcomeNoop      Outcome = "noop"
	OutcomeProgress  Outcome = "progress"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// JobStore is the slice of job persistence the reconciliation core needs.
// Implemented by repository.JobRepository.
type JobStore interface {
	Update(ctx context.Context, job *domain.Job) error
	CompleteIfActive(ctx context.Context, job *domain.Job) (bool, error)
	FailIfActive(ctx context.Context, id string, errorDetail string) (bool, error)
}

// Reconciler is the single chokepoint through which both the poller and the
// webhook receiver report upstream status. It applies the state transition,
// triggers artifact materialization, and persists the result idempotently:
// duplicate deliveries of the same completion are no-ops once the terminal
// write has landed, and only once it has landed.
type Reconciler struct {
	store        JobStore
	materializer *Materializer
	notifier     notify.Notifier
	logger       *logger.Logger
	now          func() time.Time
}

// NewReconciler creates a new Reconciler.
// Parameters:
//   - store: job persistence.
//   - materializer: artifact materializer invoked on completion.
//   - notifier: terminal-event publisher; may be nil.
//   - log: base logger.
// Returns:
//   - *Reconciler: initialized reconciler.
func NewReconciler(store JobStore, materializer *Materializer, notifier notify.Notifier, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		materializer: materializer,
		notifier:     notifier,
		logger:       log,
		now:          time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (r *Reconciler) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// Apply reconciles one upstream status observation against a job row.
//
// The idempotency guard is two-tier: a terminal row short-circuits before any
// download, and the terminal write itself is conditional on the row still
// being non-terminal. A failed local write leaves the row retryable; a
// successful one makes every later delivery of the same completion a no-op.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: current job row, as read by the caller.
//   - payload: upstream status report.
//   - origin: which channel delivered the payload.
// Returns:
//   - Outcome: what the pass did (noop, progress, completed, failed).
//   - error: non-nil only when a local persistence write failed; the upstream
//     observation is then still retryable by the next delivery.
func (r *Reconciler) Apply(ctx context.Context, job *domain.Job, payload *compute.StatusPayload, origin Origin) (Outcome, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:         job.ID,
		logger.FieldExternalJobID: job.ExternalJobID,
		logger.FieldOrigin:        string(origin),
	})

	// Terminal rows are immutable: whichever delivery observed the row first
	// won, and this one is a silent no-op.
	if job.Status.Terminal() {
		r.log(ctx).Debugf("Ignoring status delivery for terminal job (status=%s)", job.Status)
		return OutcomeNoop, nil
	}

	switch payload.Normalized() {
	case domain.JobStatusFailed:
		return r.applyFailure(ctx, job, payload)
	case domain.JobStatusCompleted:
		return r.applyCompletion(ctx, job, payload)
	default:
		return r.applyProgress(ctx, job, payload, origin)
	}
}

// applyProgress records a non-terminal status update. Artifacts are untouched.
func (r *Reconciler) applyProgress(ctx context.Context, job *domain.Job, payload *compute.StatusPayload, origin Origin) (Outcome, error) {
	if payload.Normalized() == domain.JobStatusProcessing && job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusProcessing
	}
	job.Progress = payload.Progress
	job.Message = payload.Message

	if origin == OriginWebhook && job.WebhookReceivedAt == nil {
		now := r.now()
		job.WebhookReceivedAt = &now
	}

	if err := r.store.Update(ctx, job); err != nil {
		return OutcomeNoop, err
	}

	r.log(ctx).Debugf("Job progress updated: status=%s, progress=%d", job.Status, job.Progress)
	return OutcomeProgress, nil
}

// applyFailure records an upstream-reported job failure. No download happens.
func (r *Reconciler) applyFailure(ctx context.Context, job *domain.Job, payload *compute.StatusPayload) (Outcome, error) {
	detail := payload.Error
	if detail == "" {
		detail = "Job failed"
	}

	won, err := r.store.FailIfActive(ctx, job.ID, detail)
	if err != nil {
		return OutcomeNoop, err
	}
	if !won {
		// A concurrent delivery terminalized the row between our read and
		// this write.
		r.log(ctx).Debugf("Failure transition lost the terminal-write race")
		return OutcomeNoop, nil
	}

	job.Status = domain.JobStatusFailed
	job.ErrorDetail = detail
	r.log(ctx).Warnf("Job failed upstream: %s", detail)
	r.publish(ctx, job)
	return OutcomeFailed, nil
}

// applyCompletion materializes the produced artifacts and performs the
// conditional terminal write.
func (r *Reconciler) applyCompletion(ctx context.Context, job *domain.Job, payload *compute.StatusPayload) (Outcome, error) {
	refs := payload.References()

	// The result list may be a strict subset of refs on partial fetch
	// failure; an empty list is a legitimate degraded-success state.
	urls := r.materializer.Materialize(ctx, job.ExternalJobID, job.SubjectID, job.Kind, refs)

	now := r.now()
	job.SourceURLs = refs
	job.ResultURLs = urls
	job.Progress = 100
	job.Message = payload.Message
	job.CompletedAt = &now

	won, err := r.store.CompleteIfActive(ctx, job)
	if err != nil {
		// The row was never written terminal, so the next delivery retries
		// the whole transition. Re-downloading is the accepted cost.
		return OutcomeNoop, err
	}
	if !won {
		r.log(ctx).Debugf("Completion transition lost the terminal-write race")
		return OutcomeNoop, nil
	}

	job.Status = domain.JobStatusCompleted
	r.log(ctx).WithFields(logger.Fields{
		logger.FieldCount: len(urls),
	}).Infof("Job completed with %d/%d artifacts materialized", len(urls), len(refs))
	r.publish(ctx, job)
	return OutcomeCompleted, nil
}

// publish emits a terminal-state event. Notification failures are logged,
// never propagated: the job row is already the source of truth.
func (r *Reconciler) publish(ctx context.Context, job *domain.Job) {
	if r.notifier == nil {
		return
	}
	event := notify.Event{
		JobID:         job.ID,
		ExternalJobID: job.ExternalJobID,
		SubjectID:     job.SubjectID,
		Kind:          job.Kind,
		Status:        job.Status,
		ResultURLs:    job.ResultURLs,
		ErrorDetail:   job.ErrorDetail,
	}
	if err := r.notifier.Publish(ctx, event); err != nil {
		r.log(ctx).WithError(err).Warnf("Failed to publish job event")
	}
}
