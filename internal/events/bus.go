// Package events is the explicit event-bus abstraction called for by
// Design Note 9.1: the source's prototype-chain emitter is replaced with a
// typed set of event kinds per component and a plain registration API,
// instead of a global observer.
package events

import "sync"

// Bus is a typed, ordered pub/sub channel for one event kind T. Zero value
// is usable. Not safe to Publish from multiple goroutines concurrently with
// itself, matching the single-loop-owns-state model of §5; Subscribe may be
// called from any goroutine before the loop starts.
type Bus[T any] struct {
	mu        sync.Mutex
	listeners []func(T)
}

// Subscribe registers fn to be called on every future Publish. The
// returned func removes the subscription.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := len(b.listeners)
	b.listeners = append(b.listeners, fn)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if id < len(b.listeners) {
			b.listeners[id] = nil
		}
	}
}

// Publish calls every live subscriber with ev, in subscription order.
func (b *Bus[T]) Publish(ev T) {
	b.mu.Lock()
	snapshot := make([]func(T), len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()
	for _, fn := range snapshot {
		if fn != nil {
			fn(ev)
		}
	}
}
