package cluster

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coffersTech/loghell/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 100

var ErrClosed = errors.New("broadcaster closed")

// Broadcaster fans messages out to every current subscriber. Publishing
// never blocks: a subscriber whose queue is full loses its oldest unread
// message.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	size    int
	closed  bool
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster with queues of size messages.
func NewBroadcaster(size int, m *metrics.Metrics) *Broadcaster {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broadcaster{
		subs:    make(map[*Subscription]struct{}),
		size:    size,
		metrics: m,
	}
}

// Subscription receives messages published after it was created.
type Subscription struct {
	b       *Broadcaster
	ch      chan Message
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe attaches a new subscriber. After Close the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan Message, b.size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// HasSubscribers reports whether anyone would receive a Publish.
func (b *Broadcaster) HasSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

// Publish delivers msg to every subscriber. With no subscribers it is a
// successful no-op.
func (b *Broadcaster) Publish(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		select {
		case s.ch <- msg:
			continue
		default:
		}
		// Full: make room by discarding the oldest message.
		select {
		case <-s.ch:
			s.dropped.Add(1)
			b.metrics.BroadcastDropped()
		default:
		}
		select {
		case s.ch <- msg:
		default:
			s.dropped.Add(1)
			b.metrics.BroadcastDropped()
		}
	}
	return nil
}

// Close detaches and closes every subscription. Later Publish calls fail.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(func() { close(s.ch) })
		delete(b.subs, s)
	}
}

// C returns the delivery channel. It is closed when the subscription or
// the broadcaster is closed.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Dropped returns how many messages this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subs, s)
	s.once.Do(func() { close(s.ch) })
}
