// Package bus delivers saved events to subscribers and external brokers.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chronicle/chronicle-go/predicate"
	"github.com/chronicle/chronicle-go/storage"
)

// Envelope is the JSON form published to external brokers.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publisher delivers events to one channel: the in-process Bus, a Redis
// channel, a Kafka topic, or an AMQP exchange.
type Publisher interface {
	Publish(ctx context.Context, events ...storage.Event) error
	Close() error
}

const defaultBuffer = 16

// Bus is an in-process publisher that fans events out to predicate-filtered
// subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	closed bool
}

type subscription struct {
	query predicate.Predicate
	ch    chan storage.Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers interest in events matching query; a nil query matches
// everything. The returned cancel func releases the subscription and closes
// the channel. A subscriber that falls behind by more than buffer events
// (default 16) misses the overflow rather than blocking the publisher.
func (b *Bus) Subscribe(query predicate.Predicate, buffer int) (<-chan storage.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscription{query: query, ch: make(chan storage.Event, buffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[id] = sub
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish fans events out to every matching subscription.
func (b *Bus) Publish(ctx context.Context, events ...storage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range events {
		for _, sub := range b.subs {
			if sub.query != nil && !predicate.Matches(sub.query, e.Type, e.Data) {
				continue
			}
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	return nil
}

var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*AMQPPublisher)(nil)
)

// Close releases all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
