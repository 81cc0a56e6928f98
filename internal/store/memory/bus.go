package memory

import (
	"context"
	"sync"

	"github.com/gendonholaholo/shopscrap/internal/scraper"
)

const subscriberBuffer = 16

// Bus implements scraper.EventBus with per-job subscriber fan-out. Publishes
// never block: a subscriber that falls behind loses intermediate events
// rather than stalling the publisher, but the terminal event always lands.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan scraper.Event
	next int
}

// NewBus constructs a Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan scraper.Event)}
}

// Publish fans the event out to every subscriber of its job. A completed
// event evicts the oldest buffered event instead of being dropped, so the
// subscriber always sees the job finish.
func (b *Bus) Publish(_ context.Context, event scraper.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.JobID] {
		if event.Event == scraper.EventCompleted {
			for {
				select {
				case ch <- event:
				case <-ch:
					continue
				}
				break
			}
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener for one job's events.
func (b *Bus) Subscribe(_ context.Context, jobID string) (<-chan scraper.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan scraper.Event, subscriberBuffer)
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan scraper.Event)
	}
	key := b.next
	b.next++
	b.subs[jobID][key] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[jobID]; ok {
			if _, ok := set[key]; ok {
				delete(set, key)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
	return ch, cancel, nil
}
