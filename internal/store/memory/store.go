// Package memory provides in-memory job store and event bus implementations
// for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

// Store implements scraper.JobStore with a mutex guarding every batch, so
// each mutation is atomic with respect to readers and other writers.
type Store struct {
	clock scraper.Clock

	mu       sync.Mutex
	jobs     map[string]scraper.Job
	pending  []string
	byStatus map[scraper.JobStatus]map[string]struct{}
	counters map[string]int64
	expiry   map[string]time.Time
	notify   chan struct{}
}

// NewStore constructs a Store.
func NewStore(clock scraper.Clock) *Store {
	byStatus := make(map[scraper.JobStatus]map[string]struct{})
	for _, s := range scraper.Statuses() {
		byStatus[s] = make(map[string]struct{})
	}
	return &Store{
		clock:    clock,
		jobs:     make(map[string]scraper.Job),
		byStatus: byStatus,
		counters: make(map[string]int64),
		expiry:   make(map[string]time.Time),
		notify:   make(chan struct{}, 1),
	}
}

// CreateJob persists the record, enqueues it, indexes it under pending, and
// bumps the submitted counter as one unit.
func (s *Store) CreateJob(_ context.Context, job scraper.Job, maxPending int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxPending > 0 && len(s.pending) >= maxPending {
		return fmt.Errorf("%w: %d pending", scraper.ErrQueueFull, len(s.pending))
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.pending = append(s.pending, job.ID)
	s.byStatus[scraper.JobStatusPending][job.ID] = struct{}{}
	s.counters["submitted"]++
	s.signal()
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns records newest-first, filtered via the status index.
func (s *Store) ListJobs(_ context.Context, status scraper.JobStatus, limit int) ([]scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []scraper.Job
	if status != "" {
		ids, ok := s.byStatus[status]
		if !ok {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		for id := range ids {
			out = append(out, s.jobs[id])
		}
	} else {
		for _, job := range s.jobs {
			out = append(out, job)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListStatus returns the ids indexed under status.
func (s *Store) ListStatus(_ context.Context, status scraper.JobStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byStatus[status]))
	for id := range s.byStatus[status] {
		ids = append(ids, id)
	}
	return ids, nil
}

// PopPending removes and returns the next pending id, waiting up to wait.
func (s *Store) PopPending(ctx context.Context, wait time.Duration) (string, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			id := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return id, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("pop pending: %w", ctx.Err())
		case <-deadline.C:
			return "", nil
		case <-s.notify:
		}
	}
}

// ApplyTransition writes the record and moves its index membership in one
// atomic step, so the status-index invariant holds at every instant.
func (s *Store) ApplyTransition(_ context.Context, job scraper.Job, opts scraper.TransitionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.jobs[job.ID]
	if !ok {
		return scraper.ErrJobNotFound
	}

	delete(s.byStatus[prev.Status], job.ID)
	s.byStatus[job.Status][job.ID] = struct{}{}
	s.jobs[job.ID] = job

	if opts.Dequeue {
		s.removePending(job.ID)
	}
	if opts.Enqueue {
		s.pending = append(s.pending, job.ID)
		s.signal()
	}
	if opts.TTL > 0 {
		s.expiry[job.ID] = s.clock.Now().Add(opts.TTL)
	} else {
		delete(s.expiry, job.ID)
	}
	if job.Status.Terminal() {
		s.counters[string(job.Status)]++
	}
	return nil
}

// UpdateProgress persists a new progress value.
func (s *Store) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// SweepExpired removes terminal records whose TTL elapsed, together with
// their status-index entries.
func (s *Store) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for id, at := range s.expiry {
		if now.Before(at) {
			continue
		}
		if job, ok := s.jobs[id]; ok {
			delete(s.byStatus[job.Status], id)
			delete(s.jobs, id)
		}
		delete(s.expiry, id)
		removed++
	}
	return removed, nil
}

// Counters returns a snapshot of the metrics counters.
func (s *Store) Counters(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out, nil
}

// PendingLen reports the current pending-list length.
func (s *Store) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) removePending(jobID string) {
	for i, id := range s.pending {
		if id == jobID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Store) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
