package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/metrics"
)

const stateFileName = "state.json"

// FileStore persists the cache as a single JSON object file and watches it
// for external modification, so a second process writing the same file
// shows up as change notifications here. This is the cross-process analog
// of a browser storage event.
type FileStore struct {
	path     string
	log      *logger.Logger
	notifier *notifier
	watcher  *fsnotify.Watcher

	mu     sync.RWMutex
	values map[string]string

	closeOnce sync.Once
	done      chan struct{}
}

// NewFileStore opens (or creates) the state file under dir and starts the
// external-change watcher.
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &FileStore{
		path:     filepath.Join(dir, stateFileName),
		log:      log,
		notifier: newNotifier(),
		values:   make(map[string]string),
		done:     make(chan struct{}),
	}
	s.load()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: atomic rename writes replace the
	// inode and a file watch would silently die after the first one.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch state dir: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// Get returns the raw value for key.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[key]
	return raw, ok
}

// Set writes the raw value and persists the file, notifying subscribers
// only on change. Persistence is best effort: a write failure keeps the
// in-memory value and logs.
func (s *FileStore) Set(key, raw string) {
	s.mu.Lock()
	prev, had := s.values[key]
	if had && prev == raw {
		s.mu.Unlock()
		return
	}
	s.values[key] = raw
	s.persistLocked()
	s.mu.Unlock()

	metrics.CacheWritesTotal.WithLabelValues(key).Inc()
	s.notifier.notify(key)
}

// Delete removes key and persists, notifying subscribers if it existed.
func (s *FileStore) Delete(key string) {
	s.mu.Lock()
	_, had := s.values[key]
	if !had {
		s.mu.Unlock()
		return
	}
	delete(s.values, key)
	s.persistLocked()
	s.mu.Unlock()

	s.notifier.notify(key)
}

// Subscribe registers for change signals on key, whether the change came
// from this process or from an external writer.
func (s *FileStore) Subscribe(key string) (<-chan struct{}, func()) {
	return s.notifier.subscribe(key)
}

// Close stops the watcher and releases all subscriptions.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.notifier.close()
	})
	return err
}

func (s *FileStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			for _, key := range s.reload() {
				s.notifier.notify(key)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("state file watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the state file and returns the keys whose values differ
// from the in-memory mirror. A reload triggered by our own persist is a
// no-op because nothing differs.
func (s *FileStore) reload() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.readFile()
	if next == nil {
		return nil
	}

	var changed []string
	for key, raw := range next {
		if prev, ok := s.values[key]; !ok || prev != raw {
			changed = append(changed, key)
		}
	}
	for key := range s.values {
		if _, ok := next[key]; !ok {
			changed = append(changed, key)
		}
	}
	s.values = next
	return changed
}

func (s *FileStore) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if values := s.readFile(); values != nil {
		s.values = values
	}
}

// readFile parses the state file. A missing or corrupt file degrades to
// nil; callers keep whatever state they already have.
func (s *FileStore) readFile() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("read state file", zap.Error(err))
		}
		return nil
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		s.log.Warn("corrupt state file ignored", zap.Error(err))
		return nil
	}
	return values
}

// persistLocked writes the state file atomically. Caller holds s.mu.
func (s *FileStore) persistLocked() {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		s.log.Warn("encode state file", zap.Error(err))
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.log.Warn("write state file", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("replace state file", zap.Error(err))
	}
}
