package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/atelier3d/atelier/internal/notify"
)

func testJob(id, externalID string, kind domain.JobKind) *domain.Job {
	return &domain.Job{
		ID:            id,
		ExternalJobID: externalID,
		SubjectID:     "subject-1",
		Kind:          kind,
		Status:        domain.JobStatusPending,
		CreatedAt:     time.Now(),
	}
}

func newTestReconciler(store JobStore, fetcher ResultFetcher, artifacts *fakeArtifactStore, notifier notify.Notifier) *Reconciler {
	log := logger.New(nil)
	if artifacts == nil {
		artifacts = &fakeArtifactStore{}
	}
	materializer := NewMaterializer(fetcher, artifacts, log)
	return NewReconciler(store, materializer, notifier, log)
}

func TestApplyProgressUpdate(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	fetcher := &fakeFetcher{}
	r := newTestReconciler(store, fetcher, nil, nil)

	job := store.get("j1")
	payload := &compute.StatusPayload{JobID: "ext-1", Status: "processing", Progress: 40, Message: "meshing"}

	outcome, err := r.Apply(context.Background(), job, payload, OriginPoll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeProgress {
		t.Errorf("expected progress outcome, got %s", outcome)
	}

	stored := store.get("j1")
	if stored.Status != domain.JobStatusProcessing {
		t.Errorf("expected processing, got %s", stored.Status)
	}
	if stored.Progress != 40 || stored.Message != "meshing" {
		t.Errorf("progress/message not recorded: %d %q", stored.Progress, stored.Message)
	}
	if stored.WebhookReceivedAt != nil {
		t.Error("poll origin must not set webhook_received_at")
	}
	if fetcher.callCount() != 0 {
		t.Error("non-terminal update must not download anything")
	}
}

func TestApplyWebhookSetsReceivedAtOnce(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindBackgroundRemoval))
	r := newTestReconciler(store, &fakeFetcher{}, nil, nil)

	payload := &compute.StatusPayload{JobID: "ext-1", Status: "processing", Progress: 10}

	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := store.get("j1").WebhookReceivedAt
	if first == nil {
		t.Fatal("webhook origin should set webhook_received_at")
	}

	payload.Progress = 20
	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := store.get("j1").WebhookReceivedAt
	if second == nil || !second.Equal(*first) {
		t.Error("webhook_received_at must be set at most once")
	}
}

func TestApplyFailureDefaultDetail(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	fetcher := &fakeFetcher{}
	r := newTestReconciler(store, fetcher, nil, nil)

	payload := &compute.StatusPayload{JobID: "ext-1", Status: "failed"}
	outcome, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", outcome)
	}

	stored := store.get("j1")
	if stored.Status != domain.JobStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.ErrorDetail != "Job failed" {
		t.Errorf("expected default error detail, got %q", stored.ErrorDetail)
	}
	if fetcher.callCount() != 0 {
		t.Error("failure transition must not download anything")
	}
}

func TestApplyCompletion(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	fetcher := &fakeFetcher{}
	artifacts := &fakeArtifactStore{}
	r := newTestReconciler(store, fetcher, artifacts, nil)

	payload := &compute.StatusPayload{
		JobID:        "ext-1",
		Status:       "completed",
		Progress:     100,
		DownloadURLs: []string{"r1.png", "r2.png"},
	}

	outcome, err := r.Apply(context.Background(), store.get("j1"), payload, OriginPoll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("expected completed outcome, got %s", outcome)
	}

	stored := store.get("j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if len(stored.ResultURLs) != 2 {
		t.Errorf("expected 2 result URLs, got %d", len(stored.ResultURLs))
	}
	if len(stored.SourceURLs) != 2 {
		t.Errorf("expected 2 source URLs, got %d", len(stored.SourceURLs))
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if stored.WebhookReceivedAt != nil {
		t.Error("poll-driven completion must leave webhook_received_at null")
	}
	if fetcher.callCount() != 2 {
		t.Errorf("expected 2 fetches, got %d", fetcher.callCount())
	}
}

func TestApplyIdempotentAfterTerminalWrite(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	fetcher := &fakeFetcher{}
	r := newTestReconciler(store, fetcher, nil, nil)

	payload := &compute.StatusPayload{
		JobID:        "ext-1",
		Status:       "completed",
		DownloadURLs: []string{"r1.png", "r2.png"},
	}

	// First delivery via poll finalizes the row
	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginPoll); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstURLs := store.get("j1").ResultURLs
	fetchesAfterFirst := fetcher.callCount()

	// Duplicate delivery via webhook is a silent no-op
	outcome, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Errorf("expected noop, got %s", outcome)
	}
	if fetcher.callCount() != fetchesAfterFirst {
		t.Errorf("duplicate delivery caused %d extra fetches", fetcher.callCount()-fetchesAfterFirst)
	}

	secondURLs := store.get("j1").ResultURLs
	if len(firstURLs) != len(secondURLs) {
		t.Fatal("result URLs changed across duplicate deliveries")
	}
	for i := range firstURLs {
		if firstURLs[i] != secondURLs[i] {
			t.Errorf("result URL %d changed: %q vs %q", i, firstURLs[i], secondURLs[i])
		}
	}
}

func TestApplyPartialFetchFailure(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindBackgroundRemoval))
	fetcher := &fakeFetcher{results: []fetchResult{
		{data: []byte("a"), contentType: "image/png"},
		{fail: true},
		{data: []byte("c"), contentType: "image/png"},
	}}
	r := newTestReconciler(store, fetcher, nil, nil)

	payload := &compute.StatusPayload{
		JobID:        "ext-1",
		Status:       "completed",
		DownloadURLs: []string{"a.png", "b.png", "c.png"},
	}

	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginPoll); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := store.get("j1")
	if stored.Status != domain.JobStatusCompleted {
		t.Errorf("partial failure must still complete, got %s", stored.Status)
	}
	if len(stored.ResultURLs) != 2 {
		t.Errorf("expected 2 result URLs, got %d", len(stored.ResultURLs))
	}
	if len(stored.SourceURLs) != 3 {
		t.Errorf("expected 3 source URLs, got %d", len(stored.SourceURLs))
	}
}

func TestApplySingularFieldEqualsPlural(t *testing.T) {
	singular := &compute.StatusPayload{JobID: "ext-1", Status: "completed", DownloadURL: "x.png"}
	plural := &compute.StatusPayload{JobID: "ext-2", Status: "completed", DownloadURLs: []string{"x.png"}}

	var results [][]string
	for i, payload := range []*compute.StatusPayload{singular, plural} {
		job := testJob("j1", payload.JobID, domain.JobKindBackgroundRemoval)
		store := newFakeJobStore(job)
		r := newTestReconciler(store, &fakeFetcher{}, nil, nil)
		if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook); err != nil {
			t.Fatalf("payload %d: unexpected error: %v", i, err)
		}
		stored := store.get("j1")
		if stored.Status != domain.JobStatusCompleted {
			t.Fatalf("payload %d: expected completed, got %s", i, stored.Status)
		}
		results = append(results, stored.SourceURLs)
	}

	if len(results[0]) != 1 || len(results[1]) != 1 || results[0][0] != results[1][0] {
		t.Errorf("singular and plural fields must behave identically: %v vs %v", results[0], results[1])
	}
}

func TestApplyPersistenceFailureStaysRetryable(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	store.completeErr = errors.New("disk full")
	fetcher := &fakeFetcher{}
	r := newTestReconciler(store, fetcher, nil, nil)

	payload := &compute.StatusPayload{JobID: "ext-1", Status: "completed", DownloadURLs: []string{"r1.glb"}}

	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginPoll); err == nil {
		t.Fatal("expected persistence error to propagate")
	}
	if store.get("j1").Status.Terminal() {
		t.Fatal("failed write must leave the row non-terminal")
	}

	// Next delivery re-attempts the full transition, including the download
	store.completeErr = nil
	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginWebhook); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if store.get("j1").Status != domain.JobStatusCompleted {
		t.Error("retry should complete the job")
	}
	if fetcher.callCount() != 2 {
		t.Errorf("expected re-download on retry, got %d fetches", fetcher.callCount())
	}
}

func TestApplyCompletionLosesWriteRace(t *testing.T) {
	job := testJob("j1", "ext-1", domain.JobKindModelGeneration)
	store := newFakeJobStore(job)

	// Another writer terminalizes the stored row after our stale read
	store.jobs["j1"].Status = domain.JobStatusCompleted
	store.jobs["j1"].ResultURLs = domain.StringArray{"https://cdn.test/models/subject-1/model_1.glb"}

	r := newTestReconciler(store, &fakeFetcher{}, nil, nil)
	payload := &compute.StatusPayload{JobID: "ext-1", Status: "completed", DownloadURLs: []string{"r1.glb"}}

	// The stale local copy still reads pending, so the guard passes and the
	// conditional write is what loses the race.
	outcome, err := r.Apply(context.Background(), job, payload, OriginPoll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Errorf("expected noop after losing the write race, got %s", outcome)
	}
	if len(store.get("j1").ResultURLs) != 1 {
		t.Error("losing writer must not touch result URLs")
	}
}

func TestApplyPublishesTerminalEvent(t *testing.T) {
	store := newFakeJobStore(testJob("j1", "ext-1", domain.JobKindModelGeneration))
	broadcaster := notify.NewBroadcaster(4)
	events, cancel := broadcaster.Subscribe()
	defer cancel()

	r := newTestReconciler(store, &fakeFetcher{}, nil, broadcaster)
	payload := &compute.StatusPayload{JobID: "ext-1", Status: "completed", DownloadURLs: []string{"r1.glb"}}

	if _, err := r.Apply(context.Background(), store.get("j1"), payload, OriginPoll); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case event := <-events:
		if event.JobID != "j1" || event.Status != domain.JobStatusCompleted {
			t.Errorf("unexpected event: %+v", event)
		}
		if len(event.ResultURLs) != 1 {
			t.Errorf("expected 1 result URL in event, got %d", len(event.ResultURLs))
		}
	case <-time.After(time.Second):
		t.Fatal("expected a completion event")
	}
}
