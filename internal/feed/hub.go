// Package feed delivers committed link mutations to live, owner-scoped
// subscribers. Delivery is at-least-once while connected and never
// backfilled: a subscriber that reconnects must reconcile by re-listing.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"qryptic/internal/metrics"
	"qryptic/internal/models"
)

// DefaultBuffer is the per-subscriber event buffer used when none is configured.
const DefaultBuffer = 64

// ErrClosed is returned by Subscribe after the hub has shut down.
var ErrClosed = errors.New("feed closed")

// Subscription is one live connection's interest in an owner's events.
type Subscription struct {
	hub    *Hub
	owner  string
	events chan models.Event
}

// Events returns the delivery channel. It is closed when the subscription is
// closed, dropped for falling behind, or the hub shuts down.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Owner returns the owner the subscription is scoped to.
func (s *Subscription) Owner() string {
	return s.owner
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is the in-process registry of subscriptions keyed by owner.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub creates a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscription for owner.
func (h *Hub) Subscribe(owner string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		hub:    h,
		owner:  owner,
		events: make(chan models.Event, h.buffer),
	}
	set, ok := h.subs[owner]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[owner] = set
	}
	set[sub] = struct{}{}
	metrics.SubscriberAdded()
	return sub, nil
}

// Publish delivers event to every subscription of the record's owner without
// blocking. A subscription whose buffer is full is dropped.
func (h *Hub) Publish(_ context.Context, event models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[event.Record.OwnerID] {
		select {
		case sub.events <- event:
			metrics.RecordFeedEvent(event.Operation)
		default:
			h.logger.Warn("dropping slow feed subscriber", "owner_id", sub.owner)
			metrics.RecordDroppedSubscriber()
			h.removeLocked(sub)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}

// Close closes every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	set, ok := h.subs[sub.owner]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.owner)
	}
	close(sub.events)
	metrics.SubscriberRemoved()
}
