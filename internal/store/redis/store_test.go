package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr, client
}

func newJob(id string, createdAt time.Time) scraper.Job {
	return scraper.Job{
		ID:        id,
		Type:      "scrape_product",
		Params:    map[string]any{"item_id": "123"},
		Status:    scraper.JobStatusPending,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 10))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "j1", job.ID)
	require.Equal(t, scraper.JobStatusPending, job.Status)
	require.True(t, job.CreatedAt.Equal(now))

	ids, err := store.ListStatus(ctx, scraper.JobStatusPending)
	require.NoError(t, err)
	require.Equal(t, []string{"j1"}, ids)

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counters["submitted"])
}

func TestCreateJobQueueFull(t *testing.T) {
	store, _, client := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 1))
	require.ErrorIs(t, store.CreateJob(ctx, newJob("j2", now), 1), scraper.ErrQueueFull)

	// A rejected submit writes nothing: no record, no list entry, no index
	// entry, no counter bump.
	depth, err := client.LLen(ctx, pendingKey).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
	_, err = store.GetJob(ctx, "j2")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)
	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counters["submitted"])
}

func TestGetJobNotFound(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)
}

func TestPopPendingFIFO(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))
	require.NoError(t, store.CreateJob(ctx, newJob("j2", now), 0))

	id, err := store.PopPending(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "j1", id)
	id, err = store.PopPending(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "j2", id)
}

func TestPopPendingEmptyReturnsBlank(t *testing.T) {
	store, _, _ := newTestStore(t)

	id, err := store.PopPending(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestApplyTransitionSwapsIndex(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))
	id, err := store.PopPending(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "j1", id)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = scraper.JobStatusRunning
	job.StartedAt = &now
	require.NoError(t, store.ApplyTransition(ctx, job, scraper.TransitionOptions{}))

	pending, err := store.ListStatus(ctx, scraper.JobStatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
	running, err := store.ListStatus(ctx, scraper.JobStatusRunning)
	require.NoError(t, err)
	require.Equal(t, []string{"j1"}, running)
}

func TestApplyTransitionEnqueueAndDequeue(t *testing.T) {
	store, _, client := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)

	// Cancel while still queued removes the id from the pending list.
	job.Status = scraper.JobStatusCancelled
	require.NoError(t, store.ApplyTransition(ctx, job, scraper.TransitionOptions{Dequeue: true}))
	depth, err := client.LLen(ctx, pendingKey).Result()
	require.NoError(t, err)
	require.Zero(t, depth)

	// A retry requeue pushes it back.
	job.Status = scraper.JobStatusPending
	job.Retries = 1
	require.NoError(t, store.ApplyTransition(ctx, job, scraper.TransitionOptions{Enqueue: true}))
	id, err := store.PopPending(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "j1", id)
}

func TestApplyTransitionUnknownJob(t *testing.T) {
	store, _, _ := newTestStore(t)
	err := store.ApplyTransition(context.Background(), scraper.Job{ID: "nope", Status: scraper.JobStatusRunning}, scraper.TransitionOptions{})
	require.ErrorIs(t, err, scraper.ErrJobNotFound)
}

func TestTerminalTTLAndSweep(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.Status = scraper.JobStatusCompleted
	job.CompletedAt = &now
	require.NoError(t, store.ApplyTransition(ctx, job, scraper.TransitionOptions{Dequeue: true, TTL: time.Hour}))

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counters["completed"])

	mr.FastForward(2 * time.Hour)

	_, err = store.GetJob(ctx, "j1")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)

	// The index entry dangles until the sweep clears it.
	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	done, err := store.ListStatus(ctx, scraper.JobStatusCompleted)
	require.NoError(t, err)
	require.Empty(t, done)
}

func TestListJobsSkipsExpiredRecords(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))
	require.NoError(t, store.CreateJob(ctx, newJob("j2", now.Add(time.Minute)), 0))

	j1, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	j1.Status = scraper.JobStatusCompleted
	require.NoError(t, store.ApplyTransition(ctx, j1, scraper.TransitionOptions{Dequeue: true, TTL: time.Minute}))

	mr.FastForward(2 * time.Minute)

	jobs, err := store.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "j2", jobs[0].ID)
}

func TestListJobsOrderAndLimit(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.CreateJob(ctx, newJob("j1", base), 0))
	require.NoError(t, store.CreateJob(ctx, newJob("j2", base.Add(time.Minute)), 0))
	require.NoError(t, store.CreateJob(ctx, newJob("j3", base.Add(2*time.Minute)), 0))

	jobs, err := store.ListJobs(ctx, scraper.JobStatusPending, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "j3", jobs[0].ID)
	require.Equal(t, "j2", jobs[1].ID)
}

func TestUpdateProgressKeepsTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", now), 0))
	require.NoError(t, store.UpdateProgress(ctx, "j1", 75))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 75, job.Progress)

	// A record with a TTL keeps it across a progress write.
	job.Status = scraper.JobStatusCompleted
	require.NoError(t, store.ApplyTransition(ctx, job, scraper.TransitionOptions{TTL: time.Hour}))
	require.NoError(t, store.UpdateProgress(ctx, "j1", 100))
	require.Greater(t, mr.TTL(jobKey("j1")), time.Duration(0))
}

func TestBusPublishSubscribe(t *testing.T) {
	_, mr, client := newTestStore(t)
	bus := NewBus(client, zap.NewNop())
	ctx := context.Background()
	_ = mr

	ch, cancel, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer cancel()

	event := scraper.Event{
		Event:     scraper.EventStatusChanged,
		JobID:     "j1",
		Status:    scraper.JobStatusRunning,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-ch:
		require.Equal(t, scraper.EventStatusChanged, got.Event)
		require.Equal(t, "j1", got.JobID)
		require.Equal(t, scraper.JobStatusRunning, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event did not arrive")
	}

	cancel()
	_, ok := <-ch
	require.False(t, ok)
}
