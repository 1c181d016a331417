package events

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber buffer used when Subscribe is given a non-positive size.
const DefaultBuffer = 64

// Bus fans events out to explicitly registered subscribers.
//
// Publish never blocks: each subscriber owns a bounded RingChannel, and a slow
// subscriber loses its oldest undelivered events rather than stalling the link.
// Events reach every subscriber in publish order.
type Bus struct {
	subs   *hashmap.Map[uint64, *Subscription]
	nextID atomic.Uint64
	logger *logrus.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:   hashmap.New[uint64, *Subscription](),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		id:  b.nextID.Add(1),
		bus: b,
		rc:  NewRingChannel[Event](buffer),
	}
	b.subs.Set(s.id, s)
	b.logger.WithFields(logrus.Fields{
		"subscription": s.id,
		"buffer":       buffer,
	}).Debug("Event subscriber registered")
	return s
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.subs.Range(func(id uint64, s *Subscription) bool {
		if s.deliver(ev) {
			b.logger.WithFields(logrus.Fields{
				"subscription": id,
				"event":        ev.Kind(),
			}).Warn("Event subscriber is lagging, dropped oldest event")
		}
		return true
	})
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	return b.subs.Len()
}

// Close unregisters and closes every subscriber.
func (b *Bus) Close() {
	b.subs.Range(func(_ uint64, s *Subscription) bool {
		s.Close()
		return true
	})
}

// Subscription is one observer registration on a Bus.
type Subscription struct {
	id  uint64
	bus *Bus
	rc  *RingChannel[Event]

	mu     sync.Mutex
	closed bool
}

// C returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.rc.C()
}

// Dropped returns how many events were discarded because the subscriber lagged.
func (s *Subscription) Dropped() int64 {
	return s.rc.GetMetrics().Overwritten
}

// Close unregisters the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.subs.Del(s.id)
	s.rc.Close()
}

// deliver reports whether an older event had to be dropped.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.rc.Send(ev)
}
