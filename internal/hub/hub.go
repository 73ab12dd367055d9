package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

const subscriberBuffer = 256

// Subscription is one reader's bounded queue of pushed events. Its filter
// can be updated in place so a websocket client can re-scope without
// reconnecting.
type Subscription struct {
	ch      chan model.Event
	mu      sync.RWMutex
	project string
	feature string
}

// Events returns the channel delivering matching events. It is closed
// when the subscription is cancelled or the hub shuts down.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// SetFilter replaces the subscription's project/feature scope. Empty
// strings match everything.
func (s *Subscription) SetFilter(project, feature string) {
	s.mu.Lock()
	s.project = project
	s.feature = feature
	s.mu.Unlock()
}

func (s *Subscription) matches(e model.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project != "" && s.project != e.Project {
		return false
	}
	if s.feature != "" && s.feature != e.Feature {
		return false
	}
	return true
}

// Hub broadcasts freshly appended events to subscribed readers. Delivery
// is best-effort and at-most-once: a full subscriber queue drops the
// event for that subscriber, never blocking ingestion. A missed push is
// recoverable by a follow-up pull against the store.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped int64
	logger  *zap.Logger
}

// New creates an empty Hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a reader scoped to the given project/feature.
// Empty strings match everything.
func (h *Hub) Subscribe(project, feature string) *Subscription {
	sub := &Subscription{
		ch:      make(chan model.Event, subscriberBuffer),
		project: project,
		feature: feature,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a reader and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish fans an event out to every matching subscriber. Non-blocking:
// slow subscribers lose the event.
func (h *Hub) Publish(e model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			n := atomic.AddInt64(&h.dropped, 1)
			h.logger.Debug("dropped push for slow subscriber", zap.Int64("total_dropped", n))
		}
	}
}

// Dropped returns the total number of events dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}
