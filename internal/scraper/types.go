// Package scraper defines core types shared across subsystems.
package scraper

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Statuses lists every status value, in lifecycle order.
func Statuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}

// Job is the metadata persisted for each submitted unit of work.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params"`
	Status      JobStatus      `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Progress    int            `json:"progress"`
	Retries     int            `json:"retries"`
}

// EventType labels a job event pushed to subscribers.
type EventType string

// Event types published on a job's event channel.
const (
	EventStatusChanged EventType = "status_changed"
	EventProgress      EventType = "progress"
	EventCompleted     EventType = "completed"
)

// Event is one status/progress notification for a job.
type Event struct {
	Event     EventType      `json:"event"`
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Progress  int            `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// TaskType identifies the kind of scraping work dispatched to a remote worker.
type TaskType string

// Task types understood by browser-extension workers.
const (
	TaskSearch  TaskType = "search"
	TaskProduct TaskType = "product"
	TaskReviews TaskType = "reviews"
)

// ExtensionInfo describes a connected browser-extension worker.
type ExtensionInfo struct {
	ExtensionID   string    `json:"extension_id"`
	UserAgent     string    `json:"user_agent"`
	Version       string    `json:"version"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
