// Package redis implements the durable job store and event bus on Redis.
//
// Layout: one JSON document per job under job:<id>, a FIFO pending list
// jobs:pending, a set per status under jobs:status:<status>, a counter hash
// jobs:metrics, and a pub/sub channel per job under jobs:events:<id>.
// Terminal records carry a TTL; a periodic sweep drops index entries whose
// record expired.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

const (
	jobKeyPrefix    = "job:"
	pendingKey      = "jobs:pending"
	statusKeyPrefix = "jobs:status:"
	metricsKey      = "jobs:metrics"
	eventKeyPrefix  = "jobs:events:"
)

// Store implements scraper.JobStore on a Redis client.
type Store struct {
	client redis.UniversalClient
}

// NewStore constructs a Store around an existing client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func jobKey(id string) string                       { return jobKeyPrefix + id }
func statusKey(s scraper.JobStatus) string          { return statusKeyPrefix + string(s) }
func eventChannel(jobID string) string              { return eventKeyPrefix + jobID }
func marshalJob(job scraper.Job) ([]byte, error)    { return json.Marshal(job) }
func unmarshalJob(data []byte) (scraper.Job, error) {
	var job scraper.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return scraper.Job{}, fmt.Errorf("decode job record: %w", err)
	}
	return job, nil
}

// createJobScript checks the pending depth and writes record, list entry,
// index entry, and counter in one atomic step. Returns -1 when the queue is
// full, otherwise the new depth.
var createJobScript = redis.NewScript(`
local cap = tonumber(ARGV[3])
local depth = redis.call("LLEN", KEYS[2])
if cap > 0 and depth >= cap then
	return -1
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("RPUSH", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("HINCRBY", KEYS[4], "submitted", 1)
return depth + 1
`)

// CreateJob persists the record, pushes it onto the pending list, indexes it,
// and bumps the submitted counter. The capacity check runs inside the script,
// so concurrent submits cannot overshoot maxPending.
func (s *Store) CreateJob(ctx context.Context, job scraper.Job, maxPending int) error {
	data, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	keys := []string{jobKey(job.ID), pendingKey, statusKey(scraper.JobStatusPending), metricsKey}
	depth, err := createJobScript.Run(ctx, s.client, keys, job.ID, data, maxPending).Int64()
	if err != nil {
		return fmt.Errorf("create job script: %w", err)
	}
	if depth < 0 {
		return fmt.Errorf("%w: %d pending", scraper.ErrQueueFull, maxPending)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return unmarshalJob(data)
}

// ListJobs returns records newest-first, using the status index when a
// filter is given instead of scanning the whole keyspace.
func (s *Store) ListJobs(ctx context.Context, status scraper.JobStatus, limit int) ([]scraper.Job, error) {
	var ids []string
	if status != "" {
		members, err := s.client.SMembers(ctx, statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("status index members: %w", err)
		}
		ids = members
	} else {
		keys := make([]string, 0, len(scraper.Statuses()))
		for _, st := range scraper.Statuses() {
			keys = append(keys, statusKey(st))
		}
		members, err := s.client.SUnion(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("status index union: %w", err)
		}
		ids = members
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget job records: %w", err)
	}

	jobs := make([]scraper.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Record expired out from under its index entry; the sweep
			// will clear the dangling id.
			continue
		}
		job, err := unmarshalJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ListStatus returns the ids indexed under status.
func (s *Store) ListStatus(ctx context.Context, status scraper.JobStatus) ([]string, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("status index members: %w", err)
	}
	return ids, nil
}

// PopPending blocks up to wait for the next pending id.
func (s *Store) PopPending(ctx context.Context, wait time.Duration) (string, error) {
	res, err := s.client.BLPop(ctx, wait, pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("pop pending: %w", ctx.Err())
		}
		return "", fmt.Errorf("pop pending: %w", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("pop pending: unexpected reply length %d", len(res))
	}
	return res[1], nil
}

// ApplyTransition rewrites the record and swaps its status-index membership
// in one MULTI batch, so a concurrent lister never sees a job in two sets.
func (s *Store) ApplyTransition(ctx context.Context, job scraper.Job, opts scraper.TransitionOptions) error {
	prev, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	data, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, opts.TTL)
		if prev.Status != job.Status {
			pipe.SRem(ctx, statusKey(prev.Status), job.ID)
			pipe.SAdd(ctx, statusKey(job.Status), job.ID)
		}
		if opts.Dequeue {
			pipe.LRem(ctx, pendingKey, 0, job.ID)
		}
		if opts.Enqueue {
			pipe.RPush(ctx, pendingKey, job.ID)
		}
		if job.Status.Terminal() {
			pipe.HIncrBy(ctx, metricsKey, string(job.Status), 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transition batch: %w", err)
	}
	return nil
}

// UpdateProgress rewrites the record with a new progress value, keeping any
// TTL already on the key.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Progress = progress
	data, err := marshalJob(job)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(jobID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// SweepExpired removes status-index entries whose record expired. Redis
// itself drops the records via TTL; only the index ids dangle.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, st := range scraper.Statuses() {
		ids, err := s.client.SMembers(ctx, statusKey(st)).Result()
		if err != nil {
			return removed, fmt.Errorf("status index members: %w", err)
		}
		for _, id := range ids {
			exists, err := s.client.Exists(ctx, jobKey(id)).Result()
			if err != nil {
				return removed, fmt.Errorf("record exists: %w", err)
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, statusKey(st), id).Err(); err != nil {
					return removed, fmt.Errorf("drop dangling index entry: %w", err)
				}
				removed++
			}
		}
	}
	return removed, nil
}

// Counters returns a snapshot of the metrics counter hash.
func (s *Store) Counters(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, metricsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("metrics hash: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return nil, fmt.Errorf("parse counter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
