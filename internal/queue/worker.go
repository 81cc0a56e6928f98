package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/metrics"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// workerLoop polls the pending list and processes one job at a time until
// the queue shuts down.
func (q *Queue) workerLoop(index int) {
	defer q.wg.Done()
	logger := q.logger.With(zap.Int("worker", index))
	logger.Debug("worker started")
	for {
		id, err := q.store.PopPending(q.runCtx, q.cfg.PollInterval)
		if q.runCtx.Err() != nil {
			logger.Debug("worker stopped")
			return
		}
		if err != nil {
			logger.Error("pending poll failed", zap.Error(err))
			select {
			case <-q.runCtx.Done():
				return
			case <-time.After(q.cfg.PollInterval):
			}
			continue
		}
		if id == "" {
			continue
		}
		q.process(logger, id)
	}
}

// process runs one popped job through its full lifecycle. Store writes use a
// context detached from runCtx so a shutdown mid-job still records state.
func (q *Queue) process(logger *zap.Logger, jobID string) {
	ctx := context.WithoutCancel(q.runCtx)

	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, scraper.ErrJobNotFound) {
			logger.Error("load popped job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	if job.Status != scraper.JobStatusPending {
		// Cancelled between enqueue and pop.
		return
	}

	handler, ok := q.handler(job.Type)
	if !ok {
		q.finalize(ctx, logger, job, scraper.JobStatusFailed, nil,
			fmt.Sprintf("no handler registered for type %s", job.Type))
		return
	}

	now := q.clock.Now()
	job.Status = scraper.JobStatusRunning
	job.StartedAt = &now
	job.Progress = 0
	job.Error = ""
	if err := q.store.ApplyTransition(ctx, job, scraper.TransitionOptions{}); err != nil {
		logger.Error("mark running failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	q.publishEvent(ctx, scraper.Event{
		Event:  scraper.EventStatusChanged,
		JobID:  job.ID,
		Status: scraper.JobStatusRunning,
	})
	logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("retries", job.Retries))

	jobCtx, cancelCause := context.WithCancelCause(q.runCtx)
	inf := &inflightJob{cancel: cancelCause}
	q.mu.Lock()
	q.inflight[job.ID] = inf
	q.mu.Unlock()

	runCtx := jobCtx
	var cancelTimeout context.CancelFunc
	if q.cfg.JobTimeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(jobCtx, q.cfg.JobTimeout)
	}

	// Handlers see their job id under the reserved params key.
	params := make(map[string]any, len(job.Params)+1)
	for k, v := range job.Params {
		params[k] = v
	}
	params["job_id"] = job.ID

	metrics.WorkerBusy(1)
	result, handlerErr := handler(runCtx, params)
	metrics.WorkerBusy(-1)

	if cancelTimeout != nil {
		cancelTimeout()
	}
	cancelCause(nil)

	q.mu.Lock()
	userCancelled := inf.userCancelled
	delete(q.inflight, job.ID)
	q.mu.Unlock()

	switch {
	case userCancelled:
		q.finalize(ctx, logger, job, scraper.JobStatusCancelled, nil, job.Error)

	case q.runCtx.Err() != nil:
		// Shutdown drain: hand the job back untouched.
		q.requeue(ctx, logger, job, job.Retries)

	case handlerErr == nil:
		job.Result = result
		job.Progress = 100
		q.finalize(ctx, logger, job, scraper.JobStatusCompleted, result, "")

	default:
		if errors.Is(handlerErr, context.DeadlineExceeded) {
			handlerErr = fmt.Errorf("job timed out after %s", q.cfg.JobTimeout)
		}
		q.retryOrFail(ctx, logger, job, handlerErr)
	}
}

// retryOrFail applies the retry policy: exponential backoff while attempts
// remain, a terminal failed record otherwise.
func (q *Queue) retryOrFail(ctx context.Context, logger *zap.Logger, job scraper.Job, cause error) {
	job.Retries++
	if job.Retries >= q.cfg.MaxRetries {
		q.finalize(ctx, logger, job, scraper.JobStatusFailed, nil,
			fmt.Sprintf("failed after %d attempts: %v", job.Retries, cause))
		return
	}

	metrics.JobRetried()
	delay := q.cfg.RetryDelay * (1 << (job.Retries - 1))
	logger.Warn("job attempt failed, retrying",
		zap.String("job_id", job.ID),
		zap.Int("retry", job.Retries),
		zap.Int("max_retries", q.cfg.MaxRetries),
		zap.Duration("backoff", delay),
		zap.Error(cause))

	// The record stays running during the backoff, so a crash here still
	// requeues it on the next start.
	select {
	case <-q.runCtx.Done():
	case <-time.After(delay):
	}

	// A cancel can land during the backoff and finalize the record directly.
	current, err := q.store.GetJob(ctx, job.ID)
	if err == nil && current.Status.Terminal() {
		return
	}

	job.Error = fmt.Sprintf("retry %d/%d: %v", job.Retries, q.cfg.MaxRetries, cause)
	q.requeue(ctx, logger, job, job.Retries)
}

// requeue puts a job back on the pending list with its progress reset.
func (q *Queue) requeue(ctx context.Context, logger *zap.Logger, job scraper.Job, retries int) {
	job.Status = scraper.JobStatusPending
	job.StartedAt = nil
	job.Progress = 0
	job.Retries = retries
	if err := q.store.ApplyTransition(ctx, job, scraper.TransitionOptions{Enqueue: true}); err != nil {
		logger.Error("requeue failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	q.publishEvent(ctx, scraper.Event{
		Event:  scraper.EventStatusChanged,
		JobID:  job.ID,
		Status: scraper.JobStatusPending,
	})
	logger.Info("job requeued", zap.String("job_id", job.ID), zap.Int("retries", retries))
}

// finalize writes a terminal record with the result TTL and notifies
// subscribers.
func (q *Queue) finalize(ctx context.Context, logger *zap.Logger, job scraper.Job, status scraper.JobStatus, result map[string]any, errMsg string) {
	if current, err := q.store.GetJob(ctx, job.ID); err == nil && current.Status.Terminal() {
		// Already finalized by a concurrent cancel.
		return
	}
	now := q.clock.Now()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	job.Error = errMsg
	if status == scraper.JobStatusCompleted {
		job.Progress = 100
	}
	if err := q.store.ApplyTransition(ctx, job, scraper.TransitionOptions{TTL: q.cfg.ResultTTL}); err != nil {
		logger.Error("finalize failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	metrics.JobFinished(string(status))
	q.publishCompleted(ctx, job)

	field := zap.Skip()
	if errMsg != "" {
		field = zap.String("error", errMsg)
	}
	logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		field)
}
