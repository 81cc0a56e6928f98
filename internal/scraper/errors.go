package scraper

import "errors"

// Error taxonomy for the job queue and remote task dispatch.
var (
	// ErrUnknownJobType is returned on submission when no handler is
	// registered for the job type.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrQueueFull is returned when the pending list is at capacity. The
	// caller may retry; the queue never retries submissions internally.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned by store lookups for missing or expired ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoWorkerAvailable is returned by Dispatch when no extension is
	// connected.
	ErrNoWorkerAvailable = errors.New("no extension worker available")

	// ErrTaskTimeout is returned by WaitForResult when the remote worker did
	// not answer in time.
	ErrTaskTimeout = errors.New("extension task timed out")

	// ErrUnknownTask is returned by WaitForResult when the task id has no
	// pending placeholder (already resolved or never dispatched).
	ErrUnknownTask = errors.New("unknown task id")

	// ErrWorkerDisconnected fails pending tasks when their worker vanishes.
	ErrWorkerDisconnected = errors.New("extension worker disconnected")

	// ErrQueueStopped is returned by operations on a queue that has shut down.
	ErrQueueStopped = errors.New("job queue stopped")
)
