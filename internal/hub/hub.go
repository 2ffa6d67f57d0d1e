// Package hub fans lifecycle and progress events out to live subscribers.
// Delivery is best-effort per subscriber: a listener that cannot keep up
// drops events rather than blocking the publisher, and reconnecting
// listeners get a one-time replay of the current state, not history.
package hub

import (
	"sync"
	"time"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
)

// subscriberBuffer bounds how far a listener may lag before it loses events.
const subscriberBuffer = 64

// Mirror forwards every published event to an external sink (e.g. an AMQP
// queue). Optional.
type Mirror interface {
	Publish(ev domain.Event) error
	Close() error
}

// ReplayFunc returns the events describing the current state of active
// work, sent once to each new subscriber.
type ReplayFunc func() []domain.Event

// Hub is the event fan-out. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan domain.Event
	nextID int
	replay ReplayFunc
	mirror Mirror
	logger observability.Logger
}

// New creates an empty hub.
func New(logger observability.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

// SetReplaySource installs the provider of subscribe-time state replay.
func (h *Hub) SetReplaySource(fn ReplayFunc) {
	h.mu.Lock()
	h.replay = fn
	h.mu.Unlock()
}

// SetMirror installs an external event sink.
func (h *Hub) SetMirror(m Mirror) {
	h.mu.Lock()
	h.mirror = m
	h.mu.Unlock()
}

// Subscribe registers a listener. The returned channel receives the replay
// events first, then live events until the cancel func is called.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan domain.Event, subscriberBuffer)
	h.subs[id] = ch
	replay := h.replay
	h.mu.Unlock()

	if replay != nil {
		for _, ev := range replay() {
			select {
			case ch <- ev:
			default:
			}
		}
	}

	unsubscribe := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts the event to every current subscriber and the mirror.
// Slow subscribers are skipped, never waited for.
func (h *Hub) Publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	mirror := h.mirror
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()

	if mirror != nil {
		if err := mirror.Publish(ev); err != nil {
			h.logger.Warn("event mirror publish failed", "error", err, "type", string(ev.Type))
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
