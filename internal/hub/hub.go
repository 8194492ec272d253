// Package hub fans rate-cache updates out to connected subscribers. Every
// broadcast carries the full current snapshot, not a diff: a late-joining
// or just-reconnected subscriber is consistent after exactly one message,
// and no client-side reconciliation exists to get wrong.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/observability"
	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/pkg"
)

// Envelope is the bidirectional websocket message frame. Unrecognized
// types are ignored by receivers, never treated as errors.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscriberBuffer bounds the per-subscriber send queue. A subscriber that
// falls further behind loses messages rather than stalling the fan-out;
// the next snapshot supersedes anything dropped.
const subscriberBuffer = 8

// Subscriber is one registered consumer of rate snapshots.
type Subscriber struct {
	ch chan Envelope
}

// C is the subscriber's receive channel. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan Envelope {
	return s.ch
}

// Hub keeps the registry of connected subscribers. It is an explicitly
// constructed, injected dependency: tests run as many isolated hubs as
// they like, and no hidden global broadcasts behind anyone's back.
type Hub struct {
	logger *zap.Logger
	cache  *rates.Cache

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func New(logger *zap.Logger, cache *rates.Cache) *Hub {
	return &Hub{
		logger: logger,
		cache:  cache,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber and immediately queues the current
// snapshot so a fresh connection is consistent without waiting for the
// next feed tick.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Envelope, subscriberBuffer)}
	// Queue the snapshot before the subscriber is visible to Broadcast or
	// Unsubscribe; nothing can close the channel underneath this send.
	if snap := h.cache.Snapshot(); len(snap) > 0 {
		sub.ch <- Envelope{Type: pkg.MsgTypeRatesUpdate, Data: snap}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	observability.SubscribersConnected.Set(float64(n))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// while a broadcast is in flight; safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	n := len(h.subs)
	h.mu.Unlock()

	observability.SubscribersConnected.Set(float64(n))
	if ok {
		close(sub.ch)
	}
}

// Broadcast queues one rates_update envelope with the given snapshot to
// every registered subscriber. Delivery is at-most-once and best-effort:
// a full subscriber queue drops the message rather than blocking.
func (h *Hub) Broadcast(snapshot []domain.Rate) {
	env := Envelope{Type: pkg.MsgTypeRatesUpdate, Data: snapshot}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- env:
		default:
			observability.BroadcastDrops.Inc()
		}
	}
	observability.BroadcastsSent.Inc()
}

// Run rebroadcasts the cache snapshot whenever the feed signals a change,
// until ctx is cancelled. Independent of all order activity.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("broadcast hub stopped")
			return
		case <-h.cache.Updated():
			h.Broadcast(h.cache.Snapshot())
		}
	}
}
