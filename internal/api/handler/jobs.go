package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
)

// JobSubmitter starts new compute jobs. Implemented by service.SubmissionService.
type JobSubmitter interface {
	Submit(ctx context.Context, subjectID string, kind domain.JobKind, payload map[string]interface{}) (*domain.Job, error)
}

// JobReader provides read access to job rows. Implemented by repository.JobRepository.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, subjectID string, status domain.JobStatus, limit, offset int) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error)
}

// JobHandler handles job lifecycle endpoints.
type JobHandler struct {
	submitter JobSubmitter
	jobs      JobReader
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - submitter: submission service.
//   - jobs: job read access.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(submitter JobSubmitter, jobs JobReader) *JobHandler {
	return &JobHandler{
		submitter: submitter,
		jobs:      jobs,
	}
}

// CreateJobRequest is the body for POST /api/v1/jobs.
type CreateJobRequest struct {
	SubjectID string                 `json:"subject_id" binding:"required"`
	Kind      string                 `json:"kind" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
}

// CreateJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	kind := domain.JobKind(req.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown job kind: " + req.Kind,
		})
		return
	}

	job, err := h.submitter.Submit(c.Request.Context(), req.SubjectID, kind, req.Payload)
	if err != nil {
		if errors.Is(err, compute.ErrSubmissionFailed) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Compute submission failed: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job: " + err.Error(),
		})
		return
	}

	// 202: the job is accepted locally but the compute work is still pending
	c.JSON(http.StatusAccepted, job)
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) ListJobs(c *gin.Context) {
	var status domain.JobStatus
	if s := c.Query("status"); s != "" {
		status = domain.JobStatus(s)
		switch status {
		case domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown status: " + s,
			})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	jobs, err := h.jobs.List(c.Request.Context(), c.Query("subject_id"), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetStats handles GET /api/v1/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetStats(c *gin.Context) {
	counts, err := h.jobs.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats: " + err.Error(),
		})
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	c.JSON(http.StatusOK, gin.H{
		"by_status": counts,
		"total":     total,
	})
}
