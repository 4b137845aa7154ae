package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/atelier3d/atelier/internal/compute"
	"github.com/atelier3d/atelier/internal/domain"
)

// fakeJobStore is an in-memory job store mirroring the repository's
// conditional-write semantics.
type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	createErr   error
	updateErr   error
	completeErr error
	failErr     error
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		clone := *j
		s.jobs[j.ID] = &clone
	}
	return s
}

func (s *fakeJobStore) get(id string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		clone := *j
		return &clone
	}
	return nil
}

func (s *fakeJobStore) Create(_ context.Context, job *domain.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.New("duplicate id")
	}
	clone := *job
	clone.CreatedAt = time.Now()
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeJobStore) Update(_ context.Context, job *domain.Job) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeJobStore) CompleteIfActive(_ context.Context, job *domain.Job) (bool, error) {
	if s.completeErr != nil {
		return false, s.completeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok || stored.Status.Terminal() {
		return false, nil
	}
	stored.Status = domain.JobStatusCompleted
	stored.Progress = job.Progress
	stored.Message = job.Message
	stored.SourceURLs = job.SourceURLs
	stored.ResultURLs = job.ResultURLs
	stored.CompletedAt = job.CompletedAt
	return true, nil
}

func (s *fakeJobStore) FailIfActive(_ context.Context, id string, errorDetail string) (bool, error) {
	if s.failErr != nil {
		return false, s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[id]
	if !ok || stored.Status.Terminal() {
		return false, nil
	}
	stored.Status = domain.JobStatusFailed
	stored.ErrorDetail = errorDetail
	return true, nil
}

func (s *fakeJobStore) MarkPolled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.jobs[id]; ok {
		t := at
		stored.LastPolledAt = &t
	}
	return nil
}

func (s *fakeJobStore) FindPollable(_ context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status.Terminal() {
			continue
		}
		if j.WebhookReceivedAt != nil {
			continue
		}
		if j.LastPolledAt != nil && !j.LastPolledAt.Before(staleBefore) {
			continue
		}
		out = append(out, *j)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeFetcher returns canned result bytes per call, in order. An entry with
// fail=true simulates a fetch failure for that call.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	data        []byte
	contentType string
	fail        bool
}

func (f *fakeFetcher) FetchResult(_ context.Context, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		return []byte("default-bytes"), "application/octet-stream", nil
	}
	r := f.results[idx]
	if r.fail {
		return nil, "", errors.New("fetch failed")
	}
	return r.data, r.contentType, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeArtifactStore stores objects in memory and serves URLs from a fixed
// public prefix.
type fakeArtifactStore struct {
	mu     sync.Mutex
	keys   []string
	putErr error
}

func (s *fakeArtifactStore) EnsureBucket(_ context.Context) error { return nil }

func (s *fakeArtifactStore) Put(_ context.Context, key string, _ io.Reader, _ int64, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return s.GetURL(key), nil
}

func (s *fakeArtifactStore) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *fakeArtifactStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeArtifactStore) Delete(_ context.Context, key string) error { return nil }

func (s *fakeArtifactStore) storedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// fakeStatusClient returns scripted status payloads per external job id.
type fakeStatusClient struct {
	mu       sync.Mutex
	payloads map[string][]*compute.StatusPayload
	errs     map[string]error
	calls    map[string]int
}

func newFakeStatusClient() *fakeStatusClient {
	return &fakeStatusClient{
		payloads: make(map[string][]*compute.StatusPayload),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (c *fakeStatusClient) script(externalID string, payloads ...*compute.StatusPayload) {
	c.payloads[externalID] = payloads
}

func (c *fakeStatusClient) GetStatus(_ context.Context, externalID string) (*compute.StatusPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errs[externalID]; ok {
		return nil, err
	}
	script := c.payloads[externalID]
	idx := c.calls[externalID]
	c.calls[externalID]++
	if len(script) == 0 {
		return nil, fmt.Errorf("no scripted status for %s", externalID)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx], nil
}
