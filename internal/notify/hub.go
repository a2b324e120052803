// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package notify fans out service events to live subscribers. The hub is
// transport-agnostic: SSE handlers consume a subscriber's event channel
// directly, while WebSocket connections attach a pump on top of the same
// channel. Delivery is per-subscriber ordered and best-effort; there is no
// replay or acknowledgment.
package notify

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/metrics"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

const (
	broadcastBuffer  = 256
	subscriberBuffer = 16
)

// subscriberIDCounter generates unique, monotonically increasing IDs so
// broadcasts iterate subscribers in a consistent order instead of random
// map order.
var subscriberIDCounter atomic.Uint64

// Subscriber is one live event consumer. Events arrive on Events() in the
// order they were broadcast. The channel is closed when the hub evicts the
// subscriber or shuts down.
type Subscriber struct {
	id     uint64
	events chan models.Event
}

// NewSubscriber creates a subscriber with a unique ID. Register it with
// Hub.Register before reading events.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		id:     subscriberIDCounter.Add(1),
		events: make(chan models.Event, subscriberBuffer),
	}
}

// Events returns the subscriber's receive channel.
func (s *Subscriber) Events() <-chan models.Event {
	return s.events
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// SettingsFunc supplies the settings snapshot carried by the connected
// event sent to each new subscriber.
type SettingsFunc func() models.Settings

// Hub maintains the set of active subscribers and broadcasts events to
// them. A subscriber whose channel is full at delivery time is evicted;
// a client that stopped reading does not stall the rest.
type Hub struct {
	settings    SettingsFunc
	subscribers map[*Subscriber]bool
	broadcast   chan models.Event
	Register    chan *Subscriber
	Unregister  chan *Subscriber
	done        chan struct{}
	doneOnce    sync.Once
	mu          sync.RWMutex
}

// NewHub creates a hub. settings is invoked once per new subscriber to
// build its connected event.
func NewHub(settings SettingsFunc) *Hub {
	return &Hub{
		settings:    settings,
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan models.Event, broadcastBuffer),
		Register:    make(chan *Subscriber),
		Unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// Done is closed once the hub has shut down and will no longer service
// Register or Unregister. Handlers select on it so a late send does not
// block forever on a channel with no receiver.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes registrations and broadcasts until ctx is canceled, then
// closes every subscriber channel and returns ctx.Err(). Designed to run
// under suture supervision.
//
// Selection is priority-ordered so behavior stays predictable when several
// channels are ready at once: shutdown first, then subscriber lifecycle,
// then broadcasts.
func (h *Hub) Run(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: subscriber lifecycle (non-blocking check)
		select {
		case sub := <-h.Register:
			h.register(sub)
			continue
		case sub := <-h.Unregister:
			h.unregister(sub)
			continue
		default:
		}

		// Priority 3: broadcasts, or wait for any event
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case sub := <-h.Register:
			h.register(sub)
		case sub := <-h.Unregister:
			h.unregister(sub)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) register(sub *Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	count := len(h.subscribers)
	h.mu.Unlock()

	// The connected event goes only to the new subscriber. Its channel is
	// freshly created, so this send cannot block.
	sub.events <- models.Event{Type: models.EventConnected, Data: h.settings()}

	metrics.Subscribers.Set(float64(count))
	logging.Info().Uint64("subscriber_id", sub.id).Int("subscribers", count).Msg("Subscriber connected")
}

func (h *Hub) unregister(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.events)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	logging.Info().Uint64("subscriber_id", sub.id).Int("subscribers", count).Msg("Subscriber disconnected")
}

// deliver sends an event to all subscribers in ascending ID order. A
// subscriber that cannot accept the event immediately is evicted; its
// channel is closed so the owning handler unwinds.
func (h *Hub) deliver(event models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	var evicted []*Subscriber
	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			evicted = append(evicted, sub)
		}
	}

	for _, sub := range evicted {
		close(sub.events)
		delete(h.subscribers, sub)
		logging.Warn().Uint64("subscriber_id", sub.id).Msg("Subscriber evicted, event channel full")
	}
	if len(evicted) > 0 {
		metrics.Subscribers.Set(float64(len(h.subscribers)))
	}

	metrics.RecordBroadcast(event.Type)
}

// shutdown closes all subscriber channels in ID order.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	for _, sub := range subs {
		close(sub.events)
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()

	h.doneOnce.Do(func() { close(h.done) })

	metrics.Subscribers.Set(0)
	logging.Info().
		Str("component", "notify-hub").
		Int("subscribers_closed", len(subs)).
		Str("reason", ctx.Err().Error()).
		Msg("Hub stopped")
}

// Broadcast enqueues an event for delivery to all subscribers. The event
// is dropped with a warning when the hub's queue is full.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	select {
	case h.broadcast <- models.Event{Type: eventType, Data: data}:
	default:
		logging.Warn().Str("event_type", eventType).Msg("Broadcast queue full, dropping event")
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
