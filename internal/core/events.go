package core

import (
	"sync"
	"sync/atomic"

	"facilitycore/pkg/domain"
)

// defaultSubscriberBuffer sizes each subscriber channel. A full buffer means
// that subscriber loses events; publishing never waits.
const defaultSubscriberBuffer = 64

// Broker fans lock and presence events out to subscribers. Delivery is
// best-effort: a publish to a full or torn-down subscriber drops the event
// for that subscriber and never stalls the mutation that produced it.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan domain.Event
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// Subscription is one subscriber's attachment to the broker. Consume from C
// until it is closed.
type Subscription struct {
	C  <-chan domain.Event
	id uint64
	ch chan domain.Event
}

// NewBroker constructs a broker whose subscriber channels buffer up to
// buffer events (the default when non-positive).
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[uint64]chan domain.Event),
		buffer: buffer,
	}
}

// Subscribe attaches a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return &Subscription{C: ch, id: b.nextID, ch: ch}
	}
	b.subs[b.nextID] = ch
	return &Subscription{C: ch, id: b.nextID, ch: ch}
}

// Unsubscribe detaches sub and closes its channel. Safe to call twice.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(ch)
	}
}

// Publish delivers e to every subscriber that has room, dropping it for any
// that does not.
func (b *Broker) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// seed delivers e to a single subscription, with the same drop semantics.
func (b *Broker) seed(sub *Subscription, e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, attached := b.subs[sub.id]; !attached {
		return
	}
	select {
	case sub.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many per-subscriber deliveries have been discarded.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches and closes every subscriber. Further publishes are no-ops.
func (b *Broker) Close() {
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
