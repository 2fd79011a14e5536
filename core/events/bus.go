// Package events is a small in-process pub/sub bus. Job lifecycle events are
// published on it for observers such as the event log gateway; nothing on the
// bus feeds back into the controller.
package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used by Subscribe.
const DefaultBuffer = 64

// TypedEvent is implemented by every payload published on the bus.
type TypedEvent interface {
	EventType() string // Returns a string identifier for the event type.
}

type Bus interface {
	Subscribe(topic string) (<-chan TypedEvent, func(), error)
	SubscribeBuffered(topic string, size int) (<-chan TypedEvent, func(), error)
	Publish(ctx context.Context, topic string, payload TypedEvent)
	// Dropped returns how many deliveries were skipped because a subscriber was full.
	Dropped() uint64
	Close()
}

type bus struct {
	mu      sync.RWMutex
	topics  map[string]map[chan TypedEvent]struct{}
	closed  bool
	dropped atomic.Uint64
}

// New returns a new event bus instance.
func New() Bus {
	return &bus{topics: make(map[string]map[chan TypedEvent]struct{})}
}

func (b *bus) Subscribe(topic string) (<-chan TypedEvent, func(), error) {
	return b.SubscribeBuffered(topic, DefaultBuffer)
}

func (b *bus) SubscribeBuffered(topic string, size int) (<-chan TypedEvent, func(), error) {
	if size < 0 {
		size = 0
	}
	ch := make(chan TypedEvent, size)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}, nil
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan TypedEvent]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			if _, exists := subs[ch]; exists {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
		}
	}
	return ch, cancel, nil
}

// Publish never blocks on a subscriber: a full channel loses the event.
func (b *bus) Publish(ctx context.Context, topic string, payload TypedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	// Sends happen under the read lock so cancel/Close cannot close a channel mid-send.
	for ch := range b.topics[topic] {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for ch := range subs {
			close(ch)
		}
		delete(b.topics, topic)
	}
}
