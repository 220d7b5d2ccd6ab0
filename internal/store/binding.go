package store

import "sync"

// Binding exposes one cached key as observable typed state. It keeps a
// decoded mirror of the value and re-reads the store whenever a change
// notification arrives, so every binding of the same key converges without
// a shared in-memory value. Re-reading is idempotent; a coalesced burst of
// notifications settles on the same state as one.
type Binding[T any] struct {
	store    Store
	key      string
	fallback T

	mu    sync.RWMutex
	value T

	changes   chan T
	cancel    func()
	closeOnce sync.Once
	done      chan struct{}
}

// Bind creates a binding for key, seeded from the store (or fallback).
func Bind[T any](s Store, key string, fallback T) *Binding[T] {
	b := &Binding[T]{
		store:    s,
		key:      key,
		fallback: fallback,
		value:    GetJSON(s, key, fallback),
		changes:  make(chan T, 1),
		done:     make(chan struct{}),
	}

	notify, cancel := s.Subscribe(key)
	b.cancel = cancel
	go b.run(notify)

	return b
}

// Load returns the current mirrored value.
func (b *Binding[T]) Load() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Store writes the value through to the cache and updates the mirror
// immediately, without waiting for the notification round-trip.
func (b *Binding[T]) Store(v T) {
	b.mu.Lock()
	b.value = v
	b.mu.Unlock()
	SetJSON(b.store, b.key, v)
}

// Changes returns a channel receiving the refreshed value after external
// updates. Slow consumers see only the most recent value.
func (b *Binding[T]) Changes() <-chan T {
	return b.changes
}

// Close stops watching the key.
func (b *Binding[T]) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.cancel()
	})
}

func (b *Binding[T]) run(notify <-chan struct{}) {
	for {
		select {
		case <-b.done:
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			v := GetJSON(b.store, b.key, b.fallback)
			b.mu.Lock()
			b.value = v
			b.mu.Unlock()

			// Replace any undelivered value so the channel always holds
			// the latest state.
			select {
			case b.changes <- v:
			default:
				select {
				case <-b.changes:
				default:
				}
				select {
				case b.changes <- v:
				default:
				}
			}
		}
	}
}
