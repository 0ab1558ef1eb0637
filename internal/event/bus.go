// Package event provides the in-process publish/subscribe bus that decouples
// the task store and trigger scheduler from plugin subscribers.
package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// Standard event types emitted by the core. The namespace is open: plugins
// may emit their own types alongside these.
const (
	ApplicationStart = "application_start"
	ApplicationQuit  = "application_quit"
	TaskCreated      = "task_created"
	TaskUpdated      = "task_updated"
	TaskDeleted      = "task_deleted"
	TaskCompleted    = "task_completed"
	ReminderDue      = "reminder_due"
	ViewChanged      = "view_changed"
	PluginEnabled    = "plugin_enabled"
	PluginDisabled   = "plugin_disabled"
)

// ViewChangedEvent is the payload of a ViewChanged event.
type ViewChangedEvent struct {
	From string
	To   string
}

// Event is a single emitted occurrence of an event type.
type Event struct {
	Type    string
	Payload any
}

// Handler receives an event. A returned error (or panic) is caught by the
// bus, logged, and reported to the fault callback; it never reaches the
// emitter or sibling handlers.
type Handler func(Event) error

// FaultFunc is invoked when a handler fails. Owner is the identity the
// subscription was registered under (empty for core subscriptions).
type FaultFunc func(owner string, e Event, err error)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id    uint64
	typ   string
	owner string
}

// Type returns the event type the subscription is registered for.
func (s *Subscription) Type() string { return s.typ }

// Owner returns the identity the subscription was registered under.
func (s *Subscription) Owner() string { return s.owner }

type subscriber struct {
	id      uint64
	owner   string
	handler Handler
}

// Bus delivers events synchronously, in subscription order, to all current
// subscribers of a type. Events are fire-and-forget: there is no persistence
// or replay, and a subscriber registered after an emit never sees it.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[string][]subscriber
	onFault FaultFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// SetFaultFunc sets the callback invoked when a handler fails.
func (b *Bus) SetFaultFunc(fn FaultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFault = fn
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(typ string, h Handler) *Subscription {
	return b.SubscribeFor("", typ, h)
}

// SubscribeFor registers a handler on behalf of an owner (a plugin ID).
// The owner is carried into fault reports and allows bulk removal with
// UnsubscribeOwner.
func (b *Bus) SubscribeFor(owner, typ string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[typ] = append(b.subs[typ], subscriber{id: b.nextID, owner: owner, handler: h})
	return &Subscription{id: b.nextID, typ: typ, owner: owner}
}

// Unsubscribe removes a subscription. Removing an already-removed
// subscription is a no-op. An in-progress Emit is unaffected: delivery
// passes run over a snapshot of the subscriber list.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.typ]
	for i, sub := range list {
		if sub.id == s.id {
			b.subs[s.typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// UnsubscribeOwner removes every subscription registered under owner and
// returns how many were removed.
func (b *Bus) UnsubscribeOwner(owner string) int {
	if owner == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for typ, list := range b.subs {
		kept := list[:0:0]
		for _, sub := range list {
			if sub.owner == owner {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		b.subs[typ] = kept
	}
	return removed
}

// SubscriberCount returns the number of current subscribers for a type.
func (b *Bus) SubscriberCount(typ string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[typ])
}

// Emit delivers the event synchronously to all current subscribers of typ,
// in subscription order. A failing handler does not prevent delivery to the
// remaining handlers and never propagates to the caller.
func (b *Bus) Emit(typ string, payload any) {
	b.mu.RLock()
	snapshot := append([]subscriber(nil), b.subs[typ]...)
	onFault := b.onFault
	b.mu.RUnlock()

	e := Event{Type: typ, Payload: payload}
	for _, sub := range snapshot {
		if err := b.deliver(sub, e); err != nil {
			slog.Warn("event handler failed",
				"event_type", typ,
				"owner", sub.owner,
				"error", err)
			if onFault != nil {
				onFault(sub.owner, e, err)
			}
		}
	}
}

// deliver invokes one handler, converting a panic into an error.
func (b *Bus) deliver(sub subscriber, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(e)
}
