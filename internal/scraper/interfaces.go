package scraper

import (
	"context"
	"time"
)

// Handler executes a job's actual work. Implementations must observe ctx
// cancellation at their own blocking points.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// TransitionOptions control the side effects applied atomically with a
// status transition.
type TransitionOptions struct {
	// Enqueue pushes the job id back onto the pending list.
	Enqueue bool
	// Dequeue removes the job id from the pending list (best-effort).
	Dequeue bool
	// TTL sets an expiry on the record; used for terminal statuses.
	TTL time.Duration
}

// JobStore persists job records, the FIFO pending list, the per-status
// indexes, and the metrics counters. Every mutation is a single atomic
// batch: a reader never observes a job indexed under two statuses or none.
type JobStore interface {
	// CreateJob persists the record, appends its id to the pending list and
	// the pending status index, and increments the submitted counter.
	// Returns ErrQueueFull when the pending list already holds maxPending
	// entries (maxPending <= 0 means unbounded).
	CreateJob(ctx context.Context, job Job, maxPending int) error

	// GetJob returns the record or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (Job, error)

	// ListJobs returns records ordered by created_at descending, optionally
	// filtered by status (empty means all), truncated to limit.
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]Job, error)

	// ListStatus returns the ids currently indexed under status.
	ListStatus(ctx context.Context, status JobStatus) ([]string, error)

	// PopPending removes and returns the next pending id, waiting up to wait
	// for one to appear. Returns "" when none arrived in time.
	PopPending(ctx context.Context, wait time.Duration) (string, error)

	// ApplyTransition writes the record and moves its status-index
	// membership from the currently stored status to job.Status, applying
	// opts in the same atomic batch.
	ApplyTransition(ctx context.Context, job Job, opts TransitionOptions) error

	// UpdateProgress persists a new progress value without touching status.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// SweepExpired removes expired terminal records and any dangling
	// status-index entries, returning the number removed.
	SweepExpired(ctx context.Context) (int, error)

	// Counters returns a snapshot of the metrics counter hash.
	Counters(ctx context.Context) (map[string]int64, error)
}

// EventBus is the per-job publish/subscribe channel pushing status and
// progress changes to live subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events for jobID and a cancel function
	// that releases the subscription and closes the channel.
	Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error)
}

// Requester is the capability handlers use to execute work on a remote
// browser-extension worker.
type Requester interface {
	// Dispatch sends a task to a connected worker (extensionID selects one,
	// empty means first available) and returns the task id.
	Dispatch(ctx context.Context, task TaskType, params map[string]any, extensionID string) (string, error)
	// WaitForResult blocks until the task resolves, up to timeout
	// (zero means the configured default).
	WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (map[string]any, error)
	// Available reports whether any worker is connected.
	Available() bool
}

// Publisher pushes completed-job notifications to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Archive stores raw scrape payloads and returns a URI.
type Archive interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// FetchRequest captures everything needed to fetch one marketplace URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Headers     map[string]string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
