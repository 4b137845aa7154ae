package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/service"
)

type fakeJobLookup struct {
	jobs map[string]*domain.Job
}

func (f *fakeJobLookup) GetByExternalID(_ context.Context, externalID string) (*domain.Job, error) {
	if j, ok := f.jobs[externalID]; ok {
		return j, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeApplier struct {
	outcome service.Outcome
	err     error

	gotPayload *compute.StatusPayload
	gotOrigin  service.Origin
}

func (f *fakeApplier) Apply(_ context.Context, _ *domain.Job, payload *compute.StatusPayload, origin service.Origin) (service.Outcome, error) {
	f.gotPayload = payload
	f.gotOrigin = origin
	return f.outcome, f.err
}

func webhookRouter(lookup JobLookup, applier StatusApplier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/webhooks/compute", NewWebhookHandler(lookup, applier).ComputeWebhook)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestComputeWebhook(t *testing.T) {
	lookup := &fakeJobLookup{jobs: map[string]*domain.Job{
		"ext-1": {ID: "j1", ExternalJobID: "ext-1", Status: domain.JobStatusProcessing},
	}}
	applier := &fakeApplier{outcome: service.OutcomeCompleted}
	r := webhookRouter(lookup, applier)

	w := postJSON(t, r, "/api/v1/webhooks/compute",
		`{"jobId":"ext-1","status":"completed","downloadUrls":["a.glb"]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if applier.gotOrigin != service.OriginWebhook {
		t.Errorf("expected webhook origin, got %s", applier.gotOrigin)
	}
	if applier.gotPayload == nil || applier.gotPayload.Status != "completed" {
		t.Errorf("payload not forwarded: %+v", applier.gotPayload)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp["outcome"] != "completed" || resp["job_id"] != "j1" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestComputeWebhookUnknownJob(t *testing.T) {
	r := webhookRouter(&fakeJobLookup{}, &fakeApplier{})

	w := postJSON(t, r, "/api/v1/webhooks/compute", `{"jobId":"ghost","status":"completed"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestComputeWebhookMissingJobID(t *testing.T) {
	applier := &fakeApplier{}
	r := webhookRouter(&fakeJobLookup{}, applier)

	w := postJSON(t, r, "/api/v1/webhooks/compute", `{"status":"completed"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing jobId, got %d", w.Code)
	}
	if applier.gotPayload != nil {
		t.Error("applier must not run without a job id")
	}
}

func TestComputeWebhookApplyErrorRequestsRedelivery(t *testing.T) {
	lookup := &fakeJobLookup{jobs: map[string]*domain.Job{
		"ext-1": {ID: "j1", ExternalJobID: "ext-1", Status: domain.JobStatusProcessing},
	}}
	applier := &fakeApplier{err: errors.New("db unavailable")}
	r := webhookRouter(lookup, applier)

	w := postJSON(t, r, "/api/v1/webhooks/compute", `{"jobId":"ext-1","status":"completed"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 so upstream redelivers, got %d", w.Code)
	}
}
