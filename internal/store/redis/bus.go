package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

const subscriberBuffer = 16

// Bus implements scraper.EventBus on Redis pub/sub, one channel per job.
// Subscribers in any process sharing the Redis see the same stream.
type Bus struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewBus constructs a Bus.
func NewBus(client redis.UniversalClient, logger *zap.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Publish encodes the event and publishes it on the job's channel.
func (b *Bus) Publish(ctx context.Context, event scraper.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel(event.JobID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription for one job and pumps decoded
// events into the returned channel until cancel is called.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan scraper.Event, func(), error) {
	sub := b.client.Subscribe(ctx, eventChannel(jobID))
	// Force the SUBSCRIBE round trip so a publish right after Subscribe
	// returns is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}

	out := make(chan scraper.Event, subscriberBuffer)
	var once sync.Once
	done := make(chan struct{})

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event scraper.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping undecodable event",
						zap.String("job_id", jobID),
						zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
