package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

func TestBusFanOutPerJob(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ch1, cancel1, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer cancel2()
	other, cancelOther, err := bus.Subscribe(ctx, "j2")
	require.NoError(t, err)
	defer cancelOther()

	event := scraper.Event{Event: scraper.EventProgress, JobID: "j1", Progress: 50}
	require.NoError(t, bus.Publish(ctx, event))

	for _, ch := range []<-chan scraper.Event{ch1, ch2} {
		select {
		case got := <-ch:
			require.Equal(t, event.JobID, got.JobID)
			require.Equal(t, 50, got.Progress)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case got := <-other:
		t.Fatalf("unrelated subscriber received %+v", got)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after cancel must not panic or deliver.
	require.NoError(t, bus.Publish(ctx, scraper.Event{Event: scraper.EventCompleted, JobID: "j1"}))
}

func TestBusSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	_, cancel, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			_ = bus.Publish(ctx, scraper.Event{Event: scraper.EventProgress, JobID: "j1", Progress: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBusTerminalEventSurvivesFullBuffer(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, bus.Publish(ctx, scraper.Event{Event: scraper.EventProgress, JobID: "j1", Progress: i}))
	}
	require.NoError(t, bus.Publish(ctx, scraper.Event{
		Event:  scraper.EventCompleted,
		JobID:  "j1",
		Status: scraper.JobStatusCompleted,
	}))

	var sawCompleted bool
drain:
	for {
		select {
		case got := <-ch:
			if got.Event == scraper.EventCompleted {
				sawCompleted = true
			}
		default:
			break drain
		}
	}
	require.True(t, sawCompleted)
}
