// Package event provides the in-process listener registry shared by every
// event family (content changes, operations, transfers, updates). A Bus maps
// a discriminator to an ordered set of listeners. Registering without a
// discriminator subscribes to every discriminator of the family.
package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener receives one event. Listeners run synchronously on the
// notifying goroutine and must not block for long.
type Listener[E any] func(E)

// Subscription identifies one registration. Funcs are not comparable in Go,
// so removal goes through the handle returned by AddListener.
type Subscription uint64

// scope is the tagged subscription key: either every discriminator or one.
type scope[K comparable] struct {
	all bool
	key K
}

func (s scope[K]) matches(key K) bool {
	return s.all || s.key == key
}

type entry[K comparable, E any] struct {
	id       Subscription
	scope    scope[K]
	listener Listener[E]
}

// Bus is a listener registry for one event family. The zero value is not
// usable; construct with NewBus.
type Bus[K comparable, E any] struct {
	mu      sync.Mutex
	entries []entry[K, E]
	nextID  Subscription
	logger  *slog.Logger
}

// NewBus creates an empty Bus. A nil logger falls back to slog.Default().
func NewBus[K comparable, E any](logger *slog.Logger) *Bus[K, E] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus[K, E]{logger: logger}
}

// AddListener registers l. With no keys, l receives every event of the
// family. With keys, l is registered once per key and receives only events
// for those keys; the single returned Subscription removes all of them.
func (b *Bus[K, E]) AddListener(l Listener[E], keys ...K) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	if len(keys) == 0 {
		b.entries = append(b.entries, entry[K, E]{id: id, scope: scope[K]{all: true}, listener: l})
		return id
	}

	for _, k := range keys {
		b.entries = append(b.entries, entry[K, E]{id: id, scope: scope[K]{key: k}, listener: l})
	}

	return id
}

// RemoveListener drops every registration made under sub. Reports whether
// anything was removed.
func (b *Bus[K, E]) RemoveListener(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	removed := false

	for _, e := range b.entries {
		if e.id == sub {
			removed = true
			continue
		}

		kept = append(kept, e)
	}

	clearTail(b.entries, len(kept))
	b.entries = kept

	return removed
}

// Clear removes the listeners registered for key. Subscribers to all keys
// are left in place. Clearing an empty key is a no-op.
func (b *Bus[K, E]) Clear(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]

	for _, e := range b.entries {
		if !e.scope.all && e.scope.key == key {
			continue
		}

		kept = append(kept, e)
	}

	clearTail(b.entries, len(kept))
	b.entries = kept
}

// ClearAll removes every listener, including subscribers to all keys.
func (b *Bus[K, E]) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = nil
}

// Len returns the number of registrations (a multi-key subscription counts
// once per key).
func (b *Bus[K, E]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.entries)
}

// Notify delivers e to every listener whose subscription matches key, in
// registration order. The listener set is snapshotted first so listeners may
// add or remove registrations without deadlocking. A panicking listener is
// logged and skipped; the remaining listeners still run.
func (b *Bus[K, E]) Notify(key K, e E) {
	b.mu.Lock()
	targets := make([]Listener[E], 0, len(b.entries))

	for _, en := range b.entries {
		if en.scope.matches(key) {
			targets = append(targets, en.listener)
		}
	}
	b.mu.Unlock()

	for _, l := range targets {
		b.deliver(key, l, e)
	}
}

func (b *Bus[K, E]) deliver(key K, l Listener[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				slog.String("key", fmt.Sprint(key)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	l(e)
}

// clearTail zeroes entries past n so dropped listeners can be collected.
func clearTail[K comparable, E any](entries []entry[K, E], n int) {
	for i := n; i < len(entries); i++ {
		entries[i] = entry[K, E]{}
	}
}
