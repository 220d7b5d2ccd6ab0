package store

import "sync"

// MemStore is an in-memory Store, used in tests and as the degraded mode
// when the state directory is not writable.
type MemStore struct {
	mu       sync.RWMutex
	values   map[string]string
	notifier *notifier
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		values:   make(map[string]string),
		notifier: newNotifier(),
	}
}

// Get returns the raw value for key.
func (s *MemStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[key]
	return raw, ok
}

// Set writes the raw value, notifying subscribers only on change.
func (s *MemStore) Set(key, raw string) {
	s.mu.Lock()
	prev, had := s.values[key]
	if had && prev == raw {
		s.mu.Unlock()
		return
	}
	s.values[key] = raw
	s.mu.Unlock()

	s.notifier.notify(key)
}

// Delete removes key, notifying subscribers if it existed.
func (s *MemStore) Delete(key string) {
	s.mu.Lock()
	_, had := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()

	if had {
		s.notifier.notify(key)
	}
}

// Subscribe registers for change signals on key.
func (s *MemStore) Subscribe(key string) (<-chan struct{}, func()) {
	return s.notifier.subscribe(key)
}

// Close releases all subscriptions.
func (s *MemStore) Close() error {
	s.notifier.close()
	return nil
}
