package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier3d/atelier/internal/service"
)

// PollRunner executes one poll cycle. Implemented by service.Poller.
type PollRunner interface {
	RunOnce(ctx context.Context) (*service.PollSummary, error)
}

// PollHandler exposes the poll cycle to an external scheduler (cron, cloud
// scheduler) so the fallback path works without a resident ticker.
type PollHandler struct {
	runner PollRunner
	secret string
}

// NewPollHandler creates a new poll trigger handler.
// Parameters:
//   - runner: poll cycle executor.
//   - secret: shared secret required in X-Poll-Secret; empty disables the check.
// Returns:
//   - *PollHandler: initialized handler.
func NewPollHandler(runner PollRunner, secret string) *PollHandler {
	return &PollHandler{
		runner: runner,
		secret: secret,
	}
}

// TriggerPoll handles POST /api/v1/poll.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PollHandler) TriggerPoll(c *gin.Context) {
	if h.secret != "" && c.GetHeader("X-Poll-Secret") != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid poll secret",
		})
		return
	}

	summary, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Poll cycle failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}
