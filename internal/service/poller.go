package service

import (
	"context"
	"time"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
)

// expiredErrorDetail is recorded when the expiry policy fails a stuck job.
const expiredErrorDetail = "Job timed out waiting for completion"

// PollStore is the slice of job persistence the poller needs.
// Implemented by repository.JobRepository.
type PollStore interface {
	FindPollable(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Job, error)
	MarkPolled(ctx context.Context, id string, at time.Time) error
	FailIfActive(ctx context.Context, id string, errorDetail string) (bool, error)
}

// StatusClient queries upstream job status. Implemented by compute.Client.
type StatusClient interface {
	GetStatus(ctx context.Context, externalJobID string) (*compute.StatusPayload, error)
}

// PollerConfig holds configuration for the poller.
type PollerConfig struct {
	// FreshnessWindow is the minimum time between polls of the same job.
	// Polling faster than the upstream refreshes its own status wastes
	// calls without new information.
	FreshnessWindow time.Duration

	// BatchSize bounds per-invocation latency and upstream load.
	BatchSize int

	// ExpireAfter fails jobs still non-terminal this long after creation.
	// Zero disables expiry.
	ExpireAfter time.Duration
}

// PollSummary reports what one poll cycle did. Observability only.
type PollSummary struct {
	Polled  int `json:"polled"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
}

// Poller is the fallback completion path for jobs whose webhook never
// arrives. It selects stale, webhook-unconfirmed jobs, queries upstream
// status sequentially, and feeds results through the reconciler.
type Poller struct {
	store      PollStore
	compute    StatusClient
	reconciler *Reconciler
	logger     *logger.Logger
	freshness  time.Duration
	batchSize  int
	expiry     time.Duration
	now        func() time.Time
}

// NewPoller creates a new Poller.
// Parameters:
//   - store: job persistence.
//   - computeClient: upstream status client.
//   - reconciler: completion handler fed with successful status responses.
//   - log: base logger.
//   - cfg: poller configuration; zero values get defaults (30s window, batch of 10).
// Returns:
//   - *Poller: initialized poller.
func NewPoller(store PollStore, computeClient StatusClient, reconciler *Reconciler, log *logger.Logger, cfg *PollerConfig) *Poller {
	if cfg == nil {
		cfg = &PollerConfig{}
	}
	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	return &Poller{
		store:      store,
		compute:    computeClient,
		reconciler: reconciler,
		logger:     log,
		freshness:  freshness,
		batchSize:  batchSize,
		expiry:     cfg.ExpireAfter,
		now:        time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (p *Poller) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}

// RunOnce executes one poll cycle. Jobs are processed sequentially to bound
// concurrent load on the upstream API; a transient status-query failure bumps
// last_polled_at and moves on without touching job state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *PollSummary: counts of polled, updated, and expired jobs.
//   - error: non-nil only if candidate selection itself fails.
func (p *Poller) RunOnce(ctx context.Context) (*PollSummary, error) {
	now := p.now()
	jobs, err := p.store.FindPollable(ctx, now.Add(-p.freshness), p.batchSize)
	if err != nil {
		return nil, err
	}

	summary := &PollSummary{}
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		jctx := logger.WithFields(ctx, logger.Fields{
			logger.FieldJobID:         job.ID,
			logger.FieldExternalJobID: job.ExternalJobID,
		})

		if p.expiry > 0 && now.Sub(job.CreatedAt) > p.expiry {
			won, ferr := p.store.FailIfActive(jctx, job.ID, expiredErrorDetail)
			if ferr != nil {
				p.log(jctx).WithError(ferr).Errorf("Failed to expire stuck job")
			} else if won {
				p.log(jctx).Warnf("Expired job stuck non-terminal for over %s", p.expiry)
				summary.Expired++
			}
			continue
		}

		payload, serr := p.compute.GetStatus(jctx, job.ExternalJobID)
		summary.Polled++

		// Rate-limiting signal only: bumped on success and failure alike
		if merr := p.store.MarkPolled(jctx, job.ID, p.now()); merr != nil {
			p.log(jctx).WithError(merr).Warnf("Failed to record poll attempt")
		}

		if serr != nil {
			// Transient path: no status change, retried next cycle
			p.log(jctx).WithError(serr).Warnf("Status poll failed, will retry")
			continue
		}

		outcome, aerr := p.reconciler.Apply(jctx, job, payload, OriginPoll)
		if aerr != nil {
			p.log(jctx).WithError(aerr).Errorf("Failed to apply polled status")
			continue
		}
		if outcome != OutcomeNoop {
			summary.Updated++
		}
	}

	logger.With(logger.Fields{
		"polled":  summary.Polled,
		"updated": summary.Updated,
		"expired": summary.Expired,
	}).Info(ctx, "Poll cycle completed")

	return summary, nil
}
