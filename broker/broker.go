// Package broker fans a stream of per-connection command events out to any
// number of subscribers (the monitor HTTP/SSE endpoint, the in-process TUI
// dashboard). It is ambient observability, not part of the wire protocol:
// an Intermediary publishes to it but never depends on it being present.
package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an Event.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindQuery
	KindPrepare
	KindExecute
	KindError
	KindAlert
)

// Event describes one observable moment in a connection's lifetime. Count
// is only meaningful on a KindAlert event, where it holds the number of
// occurrences of Query that triggered the alert.
type Event struct {
	ConnID   uuid.UUID
	Kind     Kind
	Query    string
	Count    int
	Duration time.Duration
	Err      error
	At       time.Time
}

// Broker is a simple pub-sub fan-out: Publish never blocks, and a slow or
// absent subscriber never backs up a connection's command loop.
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	capacity    int
}

// New creates a Broker whose subscriber channels each buffer up to
// capacity events before Publish starts dropping for that subscriber.
func New(capacity int) *Broker {
	if capacity <= 0 {
		capacity = 64
	}
	return &Broker{subscribers: make(map[chan Event]struct{}), capacity: capacity}
}

// Subscribe registers a new listener and returns its event channel and an
// unsubscribe function. The caller must call unsubscribe when done.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.capacity)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber. A subscriber whose
// buffer is full has the event dropped rather than blocking the publisher.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close unsubscribes and closes every active subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
