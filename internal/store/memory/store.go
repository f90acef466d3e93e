// Package memory implements the shared-state store in process. It backs
// tests and single-node deployments; the transaction and watch semantics
// match the redis and postgres implementations.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"myqueue/checkin-service/internal/store"
)

type Store struct {
	mu       sync.Mutex
	entries  map[string][]byte
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	path string
	ch   chan store.Snapshot
}

func New() *Store {
	return &Store{
		entries:  make(map[string][]byte),
		watchers: make(map[int]*watcher),
	}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBytes(s.entries[path]), nil
}

func (s *Store) List(ctx context.Context, path string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(path), nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = copyBytes(value)
	s.notifyLocked(path)
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := map[string]json.RawMessage{}
	if current, ok := s.entries[path]; ok {
		if err := json.Unmarshal(current, &merged); err != nil {
			return err
		}
	}
	for key, value := range fields {
		merged[key] = value
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	s.entries[path] = encoded
	s.notifyLocked(path)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[path]; !ok {
		// deleting a branch removes its subtree
		prefix := path + "/"
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
			}
		}
	}
	delete(s.entries, path)
	s.notifyLocked(path)
	return nil
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFunc) (store.TxnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(copyBytes(s.entries[path]))
	if err != nil {
		return store.TxnResult{}, err
	}
	if next == nil {
		delete(s.entries, path)
	} else {
		s.entries[path] = copyBytes(next)
	}
	s.notifyLocked(path)
	return store.TxnResult{Committed: true, Value: copyBytes(next)}, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan store.Snapshot, func(), error) {
	s.mu.Lock()
	w := &watcher{path: path, ch: make(chan store.Snapshot, 1)}
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	deliver(w.ch, s.snapshotLocked(path))
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			close(w.ch)
			s.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return w.ch, stop, nil
}

func (s *Store) notifyLocked(changed string) {
	for _, w := range s.watchers {
		if !covers(w.path, changed) {
			continue
		}
		deliver(w.ch, s.snapshotLocked(w.path))
	}
}

// deliver keeps only the latest snapshot for a slow consumer; every
// snapshot is the full state, so intermediates are safe to skip.
func deliver(ch chan store.Snapshot, snap store.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (s *Store) snapshotLocked(path string) store.Snapshot {
	if value, ok := s.entries[path]; ok {
		return store.Snapshot{Path: path, Value: copyBytes(value)}
	}
	children := s.childrenLocked(path)
	if len(children) == 0 {
		return store.Snapshot{Path: path}
	}
	return store.Snapshot{Path: path, Children: children}
}

func (s *Store) childrenLocked(path string) map[string][]byte {
	prefix := path + "/"
	children := map[string][]byte{}
	for key, value := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		children[rest] = copyBytes(value)
	}
	if len(children) == 0 {
		return nil
	}
	return children
}

// covers reports whether a change at `changed` is visible to a watch on
// `watched`: the watched path itself, an ancestor, or a descendant.
func covers(watched, changed string) bool {
	if watched == changed {
		return true
	}
	if strings.HasPrefix(changed, watched+"/") {
		return true
	}
	return strings.HasPrefix(watched, changed+"/")
}

func copyBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
