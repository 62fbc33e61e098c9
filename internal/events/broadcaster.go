package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/infrastructure/logging"
)

// Broadcaster fans events out to every subscriber. Delivery is isolated
// per subscriber: publishing never blocks, and a subscriber whose buffer
// is full loses its own frames only.
type Broadcaster struct {
	log    *logging.Logger
	buffer int

	mu      sync.RWMutex
	subs    map[string]chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up
// to buffer events.
func NewBroadcaster(log *logging.Logger, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{
		log:    log,
		buffer: buffer,
		subs:   make(map[string]chan Event),
	}
}

// Subscribe registers a subscriber under id and returns its event channel.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every subscriber without blocking. Events for a
// given pipeline keep their publish order because each subscriber channel
// is FIFO and publishers for one pipeline are a single goroutine.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.log.Debug("event dropped, subscriber queue full",
				zap.String("subscriber", id),
				zap.String("event", string(ev.Event)),
			)
		}
	}
}

// Dropped returns the number of events dropped across all subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
