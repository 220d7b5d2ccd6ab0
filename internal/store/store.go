// Package store implements the persisted key-value cache and its
// change-notification contract. Values are stored as JSON strings; readers
// that find a missing or undecodable value fall back to a caller-supplied
// default instead of erroring.
package store

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Persisted cache keys. The namespace matches the keys the conversation
// UI has always written, so existing state files stay readable.
const (
	KeyCurrentConversation = "chat.currentConversationId"
	KeySummaries           = "chat.conversationSummaries"
	KeyUserID              = "chat.userId"
	KeyGuestMode           = "chat.guestMode"
	KeyUserProfile         = "chat.userProfile"
	KeyAuthToken           = "chat.authToken"
)

// Store is a persisted key-value cache with change notification. Set
// broadcasts to subscribers of the key only when the stored serialization
// actually changed. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the raw serialized value and whether it was present.
	Get(key string) (string, bool)

	// Set writes the raw serialized value, notifying subscribers on change.
	Set(key, raw string)

	// Delete removes the key, notifying subscribers if it existed.
	Delete(key string)

	// Subscribe returns a channel that receives a signal whenever the key
	// changes, and a cancel function releasing the subscription.
	Subscribe(key string) (<-chan struct{}, func())

	// Close releases watchers and subscriptions.
	Close() error
}

// GetJSON reads and decodes a stored value. Absence or decode failure
// degrades silently to fallback; it never returns an error.
func GetJSON[T any](s Store, key string, fallback T) T {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return fallback
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fallback
	}
	return v
}

// SetJSON encodes and writes a value. Encoding failure is swallowed: a
// cache write must never surface an error to callers.
func SetJSON[T any](s Store, key string, value T) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.Set(key, string(b))
}

// notifier fans change signals out to per-key subscribers.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[string]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[string]chan struct{})}
}

func (n *notifier) subscribe(key string) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	if n.subs[key] == nil {
		n.subs[key] = make(map[string]chan struct{})
	}
	n.subs[key][id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if m, ok := n.subs[key]; ok {
			delete(m, id)
		}
	}
	return ch, cancel
}

// notify signals all subscribers of key without blocking. A subscriber
// with a pending signal simply coalesces; re-reading is idempotent.
func (n *notifier) notify(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[string]map[string]chan struct{})
}
