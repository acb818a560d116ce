// Package statushub fans credential lifecycle events out to live observers
// and keeps the ephemeral runtime state of every credential.
package statushub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/monitoring"
	"github.com/mixaill76/key_rotator/internal/utils"
)

// Event is one published message.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"data"`
	Time    time.Time `json:"timestamp"`
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	buffer  int
	states  *lru.Cache[string, models.KeyStatus]
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// New creates a hub whose subscribers each buffer up to buffer events.
// stateCacheSize bounds the runtime state map.
func New(buffer, stateCacheSize int, metrics *monitoring.Metrics, logger *slog.Logger) (*Hub, error) {
	if buffer <= 0 {
		buffer = 1
	}
	states, err := lru.New[string, models.KeyStatus](stateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create status cache: %w", err)
	}

	return &Hub{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		states:  states,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Publish delivers the event to every current subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload, Time: utils.NowUTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			h.metrics.RecordStatusEventDropped()
			h.logger.Warn("Status subscriber too slow, dropping event",
				"subscriber_id", id,
				"event", name,
			)
		}
	}
}

// Subscribe registers an observer. The subscription ends when ctx is done or
// Close is called, whichever happens first; its channel is then closed.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		hub:    h,
		events: make(chan Event, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closeOnce.Do(func() {
			close(sub.done)
			close(sub.events)
		})
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetStatusSubscribers(count)
	h.logger.Debug("Status subscriber added", "subscriber_id", sub.id, "subscribers", count)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	close(sub.events)
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetStatusSubscribers(count)
	h.logger.Debug("Status subscriber removed", "subscriber_id", sub.id, "subscribers", count)
}

// SetStatus records a runtime state transition and publishes key_status_update.
func (h *Hub) SetStatus(credentialID string, status models.KeyStatus) {
	h.states.Add(credentialID, status)
	h.Publish(models.EventKeyStatusUpdate, models.KeyStatusPayload{
		CredentialID: credentialID,
		Status:       status,
	})
}

// Status returns the runtime state of credentialID, idle when unknown.
func (h *Hub) Status(credentialID string) models.KeyStatus {
	if s, ok := h.states.Get(credentialID); ok {
		return s
	}
	return models.KeyIdle
}

// Statuses returns a snapshot of every tracked runtime state.
func (h *Hub) Statuses() map[string]models.KeyStatus {
	keys := h.states.Keys()
	out := make(map[string]models.KeyStatus, len(keys))
	for _, k := range keys {
		if s, ok := h.states.Peek(k); ok {
			out[k] = s
		}
	}
	return out
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	hub       *Hub
	id        uint64
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the channel events are delivered on. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}
