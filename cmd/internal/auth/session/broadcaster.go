package session

import (
	"fmt"
	"log/slog"
	"sync"

	"unisession/cmd/identity"
	"unisession/cmd/internal/metrics"
)

// Event describes a change of the canonical session. Either side may be nil.
type Event struct {
	Previous *identity.CanonicalSession
	Current  *identity.CanonicalSession
}

// Handler receives session change events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Handler
}

// Broadcaster delivers events to subscribers in subscription order.
//
// Delivery is synchronous. A panicking handler is logged and skipped; the
// remaining handlers still run.
type Broadcaster struct {
	log     *slog.Logger
	metrics metrics.Recorder

	mu   sync.Mutex
	next Subscription
	subs []subscriber
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(log *slog.Logger, rec metrics.Recorder) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, metrics: metrics.OrNoop(rec)}
}

// Subscribe registers fn. A nil fn is ignored and returns 0.
func (b *Broadcaster) Subscribe(fn Handler) Subscription {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.subs = append(b.subs, subscriber{id: b.next, fn: fn})
	return b.next
}

// Unsubscribe removes the handler registered under id and reports whether it existed.
func (b *Broadcaster) Unsubscribe(id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber registered at call time and
// returns how many handlers completed without panicking. Each handler gets
// its own copy of the sessions.
func (b *Broadcaster) Publish(ev Event) int {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	source := ""
	if ev.Current != nil {
		source = string(ev.Current.Source)
	}
	b.metrics.SessionBroadcast(source)

	delivered := 0
	for _, s := range subs {
		if b.deliver(s, ev) {
			delivered++
		}
	}
	return delivered
}

func (b *Broadcaster) deliver(s subscriber, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.SubscriberPanic()
			b.log.Error("session.broadcast.subscriber_panic",
				"subscription", uint64(s.id),
				"panic", fmt.Sprint(r),
			)
			ok = false
		}
	}()
	s.fn(Event{Previous: ev.Previous.Clone(), Current: ev.Current.Clone()})
	return true
}
