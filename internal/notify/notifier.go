// Package notify publishes job terminal-state events to interested
// listeners. It replaces ambient global event state with an explicit
// subscription surface: an in-process broadcaster for co-located consumers
// and a Redis channel for cross-process ones.
package notify

import (
	"context"
	"sync"

	"github.com/atelier3d/atelier/internal/domain"
)

// Event describes a job reaching terminal state. Consumers that care about
// a model-generation result read ResultURLs[0] as the primary artifact.
type Event struct {
	JobID         string           `json:"job_id"`
	ExternalJobID string           `json:"external_job_id"`
	SubjectID     string           `json:"subject_id"`
	Kind          domain.JobKind   `json:"kind"`
	Status        domain.JobStatus `json:"status"`
	ResultURLs    []string         `json:"result_urls"`
	ErrorDetail   string           `json:"error_detail,omitempty"`
}

// Notifier publishes terminal-state events.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// Broadcaster fans events out to in-process subscribers over channels.
// Publishing never blocks: a subscriber that falls behind loses events, and
// is expected to re-read job rows to catch up.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold up to
// buffer undelivered events.
// Parameters:
//   - buffer: per-subscriber channel capacity; values below 1 become 1.
// Returns:
//   - *Broadcaster: initialized broadcaster.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new listener.
// Parameters: none.
// Returns:
//   - <-chan Event: channel delivering future events.
//   - func(): unsubscribe; closes the channel and releases the slot.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber without blocking.
// Parameters:
//   - ctx: unused; present for the Notifier interface.
//   - event: event to deliver.
// Returns:
//   - error: always nil.
func (b *Broadcaster) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than stall the reconciler
		}
	}
	return nil
}

// Fanout publishes to multiple notifiers, returning the first error after
// attempting all of them.
type Fanout []Notifier

// Publish delivers the event to every wrapped notifier.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - event: event to deliver.
// Returns:
//   - error: first publish error encountered, if any.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, n := range f {
		if err := n.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
