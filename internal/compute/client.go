// Package compute wraps the external asynchronous compute API used to offload
// background removal and image-to-3D model generation. The upstream job is an
// opaque remote function: this client only submits work, reads status, and
// fetches result bytes.
package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atelier3d/atelier/internal/domain"
	"github.com/go-resty/resty/v2"
)

// ErrSubmissionFailed marks upstream rejections and transport errors during
// job submission. Submission is never retried: a retry would create duplicate
// upstream work, so callers surface this error instead.
var ErrSubmissionFailed = errors.New("compute: submission failed")

// Config holds configuration for the compute API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin HTTP client for the compute API's submit, status, and
// result operations. The bearer credential is passed through unchanged.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a new compute API client.
// Parameters:
//   - cfg: compute API configuration including base URL, credential, and timeout.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		http:    client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// submitRequest is the wire shape for job submission.
type submitRequest struct {
	Kind    domain.JobKind         `json:"kind"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// submitResponse is the wire shape of a successful submission.
type submitResponse struct {
	JobID string `json:"jobId"`
	Error string `json:"error,omitempty"`
}

// StatusPayload is the status report shape shared by the poll response and
// the webhook body. The upstream reports produced artifacts under either a
// singular or a plural key; References normalizes the two shapes.
type StatusPayload struct {
	JobID        string   `json:"jobId"`
	Status       string   `json:"status"`
	Progress     int      `json:"progress"`
	Message      string   `json:"message,omitempty"`
	DownloadURL  string   `json:"downloadUrl,omitempty"`
	DownloadURLs []string `json:"downloadUrls,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// References returns the produced artifact references as a single list.
// Parameters: none.
// Returns:
//   - []string: plural field when non-empty, else the singular field as a
//     one-element list, else nil.
func (p *StatusPayload) References() []string {
	if len(p.DownloadURLs) > 0 {
		return p.DownloadURLs
	}
	if p.DownloadURL != "" {
		return []string{p.DownloadURL}
	}
	return nil
}

// Normalized maps the upstream status string onto the local job lifecycle.
// Unknown strings map to processing, the only reading that cannot wrongly
// terminalize a row.
// Parameters: none.
// Returns:
//   - domain.JobStatus: normalized local status.
func (p *StatusPayload) Normalized() domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "pending", "queued":
		return domain.JobStatusPending
	case "processing", "running", "in_progress":
		return domain.JobStatusProcessing
	case "completed", "succeeded", "done":
		return domain.JobStatusCompleted
	case "failed", "error", "canceled":
		return domain.JobStatusFailed
	default:
		return domain.JobStatusProcessing
	}
}

// Submit sends a new compute job to the upstream API.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: compute operation to perform.
//   - payload: operation-specific submission payload, forwarded opaquely.
// Returns:
//   - string: upstream-assigned job identifier.
//   - error: wraps ErrSubmissionFailed on any transport or upstream failure.
func (c *Client) Submit(ctx context.Context, kind domain.JobKind, payload map[string]interface{}) (string, error) {
	var result submitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submitRequest{Kind: kind, Payload: payload}).
		SetResult(&result).
		Post(c.baseURL + "/v1/jobs")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		if result.Error != "" {
			return "", fmt.Errorf("%w: HTTP %d: %s", ErrSubmissionFailed, resp.StatusCode(), result.Error)
		}
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrSubmissionFailed, resp.StatusCode(), string(resp.Body()))
	}

	if result.JobID == "" {
		return "", fmt.Errorf("%w: response missing jobId", ErrSubmissionFailed)
	}

	return result.JobID, nil
}

// GetStatus queries the current status of an upstream job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - externalJobID: upstream-assigned job identifier.
// Returns:
//   - *StatusPayload: status report on success.
//   - error: non-nil on transport errors or non-success HTTP status; callers
//     treat this as transient, not as a job failure.
func (c *Client) GetStatus(ctx context.Context, externalJobID string) (*StatusPayload, error) {
	var payload StatusPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(c.baseURL + "/v1/jobs/" + externalJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job status: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("status query returned HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	if payload.JobID == "" {
		payload.JobID = externalJobID
	}

	return &payload, nil
}

// FetchResult downloads the produced binary artifact for a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - externalJobID: upstream-assigned job identifier.
// Returns:
//   - []byte: artifact bytes.
//   - string: content type reported by the upstream (may be empty).
//   - error: non-nil on transport errors or non-success HTTP status.
func (c *Client) FetchResult(ctx context.Context, externalJobID string) ([]byte, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.baseURL + "/v1/jobs/" + externalJobID + "/result")
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch job result: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, "", fmt.Errorf("result fetch returned HTTP %d", resp.StatusCode())
	}

	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
