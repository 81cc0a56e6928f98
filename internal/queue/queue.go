// Package queue implements the bounded job queue and its worker pool.
//
// Jobs are persisted through a scraper.JobStore; the queue owns the
// lifecycle: pending -> running -> completed/failed/cancelled, with bounded
// retries and exponential backoff in between. Status and progress changes
// are pushed to subscribers through a scraper.EventBus.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/metrics"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Config carries the queue's tunables.
type Config struct {
	Workers         int
	MaxPending      int
	MaxRetries      int
	RetryDelay      time.Duration
	JobTimeout      time.Duration
	PollInterval    time.Duration
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// Deps bundles the collaborators a Queue needs.
type Deps struct {
	Store  scraper.JobStore
	Bus    scraper.EventBus
	Clock  scraper.Clock
	IDs    scraper.IDGenerator
	Logger *zap.Logger
}

type inflightJob struct {
	cancel        context.CancelCauseFunc
	userCancelled bool
}

// Queue is the bounded job queue with a fixed worker pool.
type Queue struct {
	store  scraper.JobStore
	bus    scraper.EventBus
	clock  scraper.Clock
	ids    scraper.IDGenerator
	logger *zap.Logger
	cfg    Config

	notifier    scraper.Publisher
	notifyTopic string

	mu       sync.Mutex
	handlers map[string]scraper.Handler
	inflight map[string]*inflightJob
	started  bool
	stopped  bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

var errUserCancelled = errors.New("cancelled by user")

// New constructs a Queue. Call RegisterHandler for each job type, then Start.
func New(deps Deps, cfg Config) *Queue {
	return &Queue{
		store:    deps.Store,
		bus:      deps.Bus,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
		cfg:      cfg,
		handlers: make(map[string]scraper.Handler),
		inflight: make(map[string]*inflightJob),
	}
}

// SetNotifier installs an optional publisher notified when jobs complete.
func (q *Queue) SetNotifier(pub scraper.Publisher, topic string) {
	q.notifier = pub
	q.notifyTopic = topic
}

// RegisterHandler binds a job type to its handler. Must be called before
// jobs of that type are submitted.
func (q *Queue) RegisterHandler(jobType string, handler scraper.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType string) (scraper.Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Submit validates the job type, persists a pending record, and enqueues it.
// Returns ErrUnknownJobType or ErrQueueFull without side effects.
func (q *Queue) Submit(ctx context.Context, jobType string, params map[string]any) (scraper.Job, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return scraper.Job{}, scraper.ErrQueueStopped
	}
	_, known := q.handlers[jobType]
	q.mu.Unlock()
	if !known {
		return scraper.Job{}, fmt.Errorf("%w: %s", scraper.ErrUnknownJobType, jobType)
	}

	id, err := q.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:        id,
		Type:      jobType,
		Params:    params,
		Status:    scraper.JobStatusPending,
		CreatedAt: q.clock.Now(),
	}
	if err := q.store.CreateJob(ctx, job, q.cfg.MaxPending); err != nil {
		return scraper.Job{}, err
	}
	metrics.JobSubmitted(jobType)
	q.publishEvent(ctx, scraper.Event{
		Event:  scraper.EventStatusChanged,
		JobID:  job.ID,
		Status: scraper.JobStatusPending,
	})
	q.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("type", jobType))
	return job, nil
}

// Get returns a job record by id.
func (q *Queue) Get(ctx context.Context, jobID string) (scraper.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// List returns jobs newest-first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status scraper.JobStatus, limit int) ([]scraper.Job, error) {
	return q.store.ListJobs(ctx, status, limit)
}

// Counters returns the store's lifetime counters.
func (q *Queue) Counters(ctx context.Context) (map[string]int64, error) {
	return q.store.Counters(ctx)
}

// Cancel requests cancellation of a job. A pending job is finalized
// immediately; a running job's handler context is cancelled and the worker
// finalizes it. Returns false when the job is already terminal.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}

	q.mu.Lock()
	inf, active := q.inflight[jobID]
	if active {
		inf.userCancelled = true
		inf.cancel(errUserCancelled)
	}
	q.mu.Unlock()

	if active {
		q.logger.Info("cancel signalled to running job", zap.String("job_id", jobID))
		return true, nil
	}

	// Still queued (or between pop and start): finalize directly.
	now := q.clock.Now()
	job.Status = scraper.JobStatusCancelled
	job.CompletedAt = &now
	if err := q.store.ApplyTransition(ctx, job, scraper.TransitionOptions{
		Dequeue: true,
		TTL:     q.cfg.ResultTTL,
	}); err != nil {
		return false, err
	}
	metrics.JobFinished(string(scraper.JobStatusCancelled))
	q.publishCompleted(ctx, job)
	q.logger.Info("queued job cancelled", zap.String("job_id", jobID))
	return true, nil
}

// UpdateProgress clamps and persists a progress value, then notifies
// subscribers. Progress only applies to running jobs.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != scraper.JobStatusRunning {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := q.store.UpdateProgress(ctx, jobID, progress); err != nil {
		return err
	}
	q.publishEvent(ctx, scraper.Event{
		Event:    scraper.EventProgress,
		JobID:    jobID,
		Status:   scraper.JobStatusRunning,
		Progress: progress,
	})
	return nil
}

// Start recovers interrupted jobs, then launches the worker pool and the
// cleanup sweeper. The queue runs until Stop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("queue already started")
	}
	q.started = true
	q.runCtx, q.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	q.mu.Unlock()

	if err := q.recoverInterrupted(ctx); err != nil {
		return err
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}
	if q.cfg.CleanupInterval > 0 {
		q.wg.Add(1)
		go q.cleanupLoop()
	}
	q.logger.Info("job queue started", zap.Int("workers", q.cfg.Workers))
	return nil
}

// Stop drains the pool: workers requeue whatever they are running and exit.
// Blocks until every worker returned or ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	q.runCancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue drain: %w", ctx.Err())
	}
}

// recoverInterrupted requeues jobs a previous process left in running state.
func (q *Queue) recoverInterrupted(ctx context.Context) error {
	ids, err := q.store.ListStatus(ctx, scraper.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}
	for _, id := range ids {
		job, err := q.store.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, scraper.ErrJobNotFound) {
				continue
			}
			return err
		}
		job.Status = scraper.JobStatusPending
		job.StartedAt = nil
		job.Progress = 0
		if err := q.store.ApplyTransition(ctx, job, scraper.TransitionOptions{Enqueue: true}); err != nil {
			return fmt.Errorf("requeue interrupted job %s: %w", id, err)
		}
		q.logger.Warn("requeued interrupted job", zap.String("job_id", id))
	}
	if len(ids) > 0 {
		q.logger.Info("crash recovery complete", zap.Int("requeued", len(ids)))
	}
	return nil
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.runCtx.Done():
			return
		case <-ticker.C:
			removed, err := q.store.SweepExpired(context.WithoutCancel(q.runCtx))
			if err != nil {
				q.logger.Error("cleanup sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				q.logger.Info("expired job records removed", zap.Int("count", removed))
			}
		}
	}
}

func (q *Queue) publishEvent(ctx context.Context, event scraper.Event) {
	event.Timestamp = q.clock.Now()
	if err := q.bus.Publish(ctx, event); err != nil {
		q.logger.Warn("event publish failed",
			zap.String("job_id", event.JobID),
			zap.String("event", string(event.Event)),
			zap.Error(err))
	}
}

func (q *Queue) publishCompleted(ctx context.Context, job scraper.Job) {
	q.publishEvent(ctx, scraper.Event{
		Event:    scraper.EventCompleted,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
		Result:   job.Result,
	})
	if q.notifier == nil || job.Status != scraper.JobStatusCompleted {
		return
	}
	payload := map[string]any{
		"job_id": job.ID,
		"type":   job.Type,
		"status": job.Status,
	}
	if _, err := q.notifier.Publish(ctx, q.notifyTopic, payload); err != nil {
		q.logger.Warn("completion notification failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}
