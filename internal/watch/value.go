// Package watch fans state snapshots out to subscribers.
//
// A Value delivers snapshots in the order they were staged. When several
// goroutines change the owner's state at once, one of them delivers on behalf
// of the others and intermediate snapshots may be skipped, but a subscriber
// never sees an older snapshot after a newer one and always ends on the latest.
package watch

import "sync"

// Value holds the latest snapshot of some state and its subscribers. The zero
// value is ready to use.
type Value[T any] struct {
	mu         sync.Mutex
	latest     T
	version    uint64
	delivered  uint64
	delivering bool
	listeners  map[int]func(T)
	next       int
}

// Subscribe registers fn. The returned function removes it.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.listeners == nil {
		v.listeners = make(map[int]func(T))
	}
	id := v.next
	v.next++
	v.listeners[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

// Stage records snapshot as the latest state. Call it while holding the lock
// that guards the owner's state, so staging order matches mutation order, and
// call Flush once that lock is released.
func (v *Value[T]) Stage(snapshot T) {
	v.mu.Lock()
	v.latest = snapshot
	v.version++
	v.mu.Unlock()
}

// Flush delivers staged snapshots. If another goroutine is already delivering,
// Flush returns at once and that goroutine delivers the latest snapshot before
// it returns. Listeners may call back into the owner.
func (v *Value[T]) Flush() {
	v.mu.Lock()
	if v.delivering {
		v.mu.Unlock()
		return
	}
	v.delivering = true

	for v.delivered != v.version {
		snapshot := v.latest
		v.delivered = v.version
		listeners := make([]func(T), 0, len(v.listeners))
		for _, l := range v.listeners {
			listeners = append(listeners, l)
		}
		v.mu.Unlock()

		v.deliver(listeners, snapshot)

		v.mu.Lock()
	}
	// Cleared under the same lock as the final version check, so a snapshot
	// staged after it is flushed by its own caller.
	v.delivering = false
	v.mu.Unlock()
}

func (v *Value[T]) deliver(listeners []func(T), snapshot T) {
	ok := false
	defer func() {
		if !ok {
			v.mu.Lock()
			v.delivering = false
			v.mu.Unlock()
		}
	}()

	for _, l := range listeners {
		l(snapshot)
	}
	ok = true
}

// Reset removes every subscriber.
func (v *Value[T]) Reset() {
	v.mu.Lock()
	v.listeners = nil
	v.mu.Unlock()
}
