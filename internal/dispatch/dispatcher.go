// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package dispatch delivers typed session events to in-process
// subscribers. Each subscriber owns a bounded queue; a slow consumer
// loses its own oldest events and never blocks publishers or other
// subscribers.
package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/metrics"
	"github.com/tomtom215/periscope/internal/models"
)

// DefaultQueueSize is the per-subscriber buffer used when a Dispatcher
// is created with a non-positive size.
const DefaultQueueSize = 64

type subscriber struct {
	id    string
	types map[models.EventType]struct{} // nil means all types
	ch    chan models.Event
}

func (s *subscriber) wants(t models.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Dispatcher fans events out to registered subscribers. Publish is
// non-blocking and safe for concurrent use; events reach each
// subscriber in publish order, minus any dropped under backpressure.
type Dispatcher struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	queueSize int
	closed    bool
}

// New creates a Dispatcher whose subscribers buffer up to queueSize
// events each.
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		subs:      make(map[string]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a consumer for the given event types; no types
// means all types. The returned channel is closed on Unsubscribe or
// Close. The id cancels the subscription.
func (d *Dispatcher) Subscribe(types ...models.EventType) (id string, events <-chan models.Event) {
	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan models.Event, d.queueSize),
	}
	if len(types) > 0 {
		sub.types = make(map[models.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(sub.ch)
		return sub.id, sub.ch
	}
	d.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are a no-op.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[id]
	if !ok {
		return
	}
	delete(d.subs, id)
	close(sub.ch)
}

// Publish fans an event out to every interested subscriber. When a
// subscriber's queue is full its oldest event is discarded to make room
// for the new one, and the drop is counted and logged.
func (d *Dispatcher) Publish(ev models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	for _, sub := range d.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Queue full: evict the oldest, then retry once. The retry
			// can still lose to a concurrent drain; that race only means
			// the queue had room after all.
			select {
			case old := <-sub.ch:
				metrics.EventsDropped.WithLabelValues(string(old.Type)).Inc()
				logging.Warn().
					Str("subscriber", sub.id).
					Str("dropped_type", string(old.Type)).
					Str("device_key", old.DeviceKey).
					Msg("subscriber queue full, dropped oldest event")
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
				logging.Warn().
					Str("subscriber", sub.id).
					Str("dropped_type", string(ev.Type)).
					Msg("subscriber queue full, dropped event")
			}
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Close closes every subscriber channel and rejects further publishes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		close(sub.ch)
		delete(d.subs, id)
	}
}
