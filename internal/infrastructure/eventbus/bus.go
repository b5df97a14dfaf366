// Package eventbus broadcasts DashboardEvent values to WebSocket
// subscribers (spec.md §4.8). It is one of the three explicit global
// singletons this module allows (spec.md §9), alongside the inference
// gate and the single-instance lockfile.
package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventType enumerates the DashboardEvent variants spec.md §4.8 names.
type EventType string

const (
	EventNodeRegistered       EventType = "NodeRegistered"
	EventEndpointStatusChanged EventType = "EndpointStatusChanged"
	EventMetricsUpdated       EventType = "MetricsUpdated"
	EventNodeRemoved          EventType = "NodeRemoved"
)

// DashboardEvent is the payload broadcast to every subscriber.
type DashboardEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

const subscriberBufferSize = 1024

// Subscription is a single subscriber's view of the bus. It only ever
// receives events published after Subscribe was called — the defining
// "late subscriber" semantic of spec.md §4.8.
type Subscription struct {
	id     uint64
	ch     chan DashboardEvent
	bus    *Bus
	lagged atomic.Uint64
}

// Events returns the channel of events for this subscription.
func (s *Subscription) Events() <-chan DashboardEvent { return s.ch }

// Lagged returns how many events this subscriber has missed because its
// buffer was full. The subscriber is never disconnected for lagging
// (spec.md §4.8: "lag is reported and the subscriber continues").
func (s *Subscription) Lagged() uint64 { return s.lagged.Load() }

// Close unsubscribes and releases the subscription's channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is the process-wide broadcast hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *zap.Logger
}

// New constructs a Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		ch:  make(chan DashboardEvent, subscriberBufferSize),
		bus: b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish fans out an event to every current subscriber. A subscriber
// whose buffer is full has its lag counter incremented instead of
// blocking the publisher or the other subscribers (spec.md §4.8).
func (b *Bus) Publish(evt DashboardEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			lagged := sub.lagged.Add(1)
			b.logger.Warn("dashboard subscriber lagging, event dropped",
				zap.String("type", string(evt.Type)),
				zap.Uint64("subscriber", sub.id),
				zap.Uint64("lagged", lagged),
			)
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
