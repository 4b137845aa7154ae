package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atelier3d/atelier/internal/api/middleware"
	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/atelier3d/atelier/internal/service"
)

// JobLookup resolves upstream identifiers to local job rows.
// Implemented by repository.JobRepository.
type JobLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Job, error)
}

// StatusApplier reconciles a status payload against a job row.
// Implemented by service.Reconciler.
type StatusApplier interface {
	Apply(ctx context.Context, job *domain.Job, payload *compute.StatusPayload, origin service.Origin) (service.Outcome, error)
}

// WebhookHandler receives push notifications from the compute API.
type WebhookHandler struct {
	jobs    JobLookup
	applier StatusApplier
}

// NewWebhookHandler creates a new webhook handler.
// Parameters:
//   - jobs: job lookup by external ID.
//   - applier: reconciler applying the delivered status.
// Returns:
//   - *WebhookHandler: initialized handler.
func NewWebhookHandler(jobs JobLookup, applier StatusApplier) *WebhookHandler {
	return &WebhookHandler{
		jobs:    jobs,
		applier: applier,
	}
}

// ComputeWebhook handles POST /api/v1/webhooks/compute.
//
// Deliveries for unknown jobs get a 404 so the upstream stops retrying them;
// duplicate deliveries for settled jobs get a 200 with a noop outcome.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *WebhookHandler) ComputeWebhook(c *gin.Context) {
	var payload compute.StatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid payload: " + err.Error(),
		})
		return
	}
	if payload.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing jobId",
		})
		return
	}

	ctx := logger.WithFields(c.Request.Context(), logger.Fields{
		logger.FieldExternalJobID: payload.JobID,
		logger.FieldOrigin:        string(service.OriginWebhook),
	})

	job, err := h.jobs.GetByExternalID(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Unknown job",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up job: " + err.Error(),
		})
		return
	}

	outcome, err := h.applier.Apply(ctx, job, &payload, service.OriginWebhook)
	if err != nil {
		// Signal the upstream to redeliver; the terminal write did not land
		middleware.GetLogger(c).WithError(err).Errorf("Failed to apply webhook status")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to apply status",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
		"job_id":  job.ID,
	})
}
