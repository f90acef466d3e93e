// Package postgres implements the shared-state store on PostgreSQL. Leaves
// live in one path-keyed jsonb table; transactions serialize per path with
// an advisory lock; watches are driven by LISTEN/NOTIFY carrying the
// changed path.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"myqueue/checkin-service/internal/store"
)

const notifyChannel = "store_changes"

const listenRetryDelay = time.Second

const schema = `
CREATE TABLE IF NOT EXISTS store_entries (
	path  text PRIMARY KEY,
	value jsonb NOT NULL
)`

type Store struct {
	pool *pgxpool.Pool

	listenCtx  context.Context
	listenStop context.CancelFunc

	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int
	listenUp bool
}

type watcher struct {
	path string
	ch   chan store.Snapshot
}

func NewStore(pool *pgxpool.Pool) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		pool:       pool,
		listenCtx:  ctx,
		listenStop: cancel,
		watchers:   make(map[int]*watcher),
	}
}

// Close stops the notification listener. The pool is owned by the caller.
func (s *Store) Close() {
	s.listenStop()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM store_entries WHERE path = $1`, path).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func (s *Store) List(ctx context.Context, path string) (map[string][]byte, error) {
	prefix := path + "/"
	rows, err := s.pool.Query(ctx, `
		SELECT path, value FROM store_entries
		WHERE path LIKE $1 AND position('/' in substring(path from $2)) = 0
	`, prefix+"%", len(prefix)+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := map[string][]byte{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		children[strings.TrimPrefix(key, prefix)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	return children, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO store_entries (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = excluded.value
	`, path, value)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]json.RawMessage) error {
	_, err := s.Transaction(ctx, path, func(current []byte) ([]byte, error) {
		merged := map[string]json.RawMessage{}
		if current != nil {
			if err := json.Unmarshal(current, &merged); err != nil {
				return nil, err
			}
		}
		for key, value := range fields {
			merged[key] = value
		}
		return json.Marshal(merged)
	})
	return err
}

func (s *Store) Delete(ctx context.Context, path string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM store_entries WHERE path = $1 OR path LIKE $2`, path, path+"/%"); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFunc) (store.TxnResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.TxnResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serializes concurrent writers on the same path, including the
	// absent-row case a row lock cannot cover.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, path); err != nil {
		return store.TxnResult{}, err
	}

	var current []byte
	err = tx.QueryRow(ctx, `SELECT value FROM store_entries WHERE path = $1`, path).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		current = nil
		err = nil
	} else if err != nil {
		return store.TxnResult{}, err
	}

	next, err := fn(current)
	if err != nil {
		return store.TxnResult{}, err
	}

	if next == nil {
		_, err = tx.Exec(ctx, `DELETE FROM store_entries WHERE path = $1`, path)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO store_entries (path, value) VALUES ($1, $2)
			ON CONFLICT (path) DO UPDATE SET value = excluded.value
		`, path, next)
	}
	if err != nil {
		return store.TxnResult{}, err
	}
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return store.TxnResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.TxnResult{}, err
	}
	return store.TxnResult{Committed: true, Value: next}, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan store.Snapshot, func(), error) {
	s.mu.Lock()
	if !s.listenUp {
		s.listenUp = true
		go s.listenLoop(s.listenCtx)
	}
	w := &watcher{path: path, ch: make(chan store.Snapshot, 1)}
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
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

	snap, err := s.snapshot(ctx, path)
	if err != nil {
		stop()
		return nil, nil, err
	}
	s.mu.Lock()
	if _, ok := s.watchers[id]; ok {
		deliver(w.ch, snap)
	}
	s.mu.Unlock()

	return w.ch, stop, nil
}

func (s *Store) listenLoop(ctx context.Context) {
	for {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("store listen error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, notification.Payload)
	}
}

func (s *Store) dispatch(ctx context.Context, changed string) {
	s.mu.Lock()
	targets := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		if covers(w.path, changed) {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		snap, err := s.snapshot(ctx, w.path)
		if err != nil {
			log.Printf("store watch snapshot error for %s: %v", w.path, err)
			continue
		}
		s.mu.Lock()
		if s.stillRegistered(w) {
			deliver(w.ch, snap)
		}
		s.mu.Unlock()
	}
}

func (s *Store) stillRegistered(target *watcher) bool {
	for _, w := range s.watchers {
		if w == target {
			return true
		}
	}
	return false
}

func (s *Store) snapshot(ctx context.Context, path string) (store.Snapshot, error) {
	value, err := s.Get(ctx, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	if value != nil {
		return store.Snapshot{Path: path, Value: value}, nil
	}
	children, err := s.List(ctx, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: path, Children: children}, nil
}

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

func covers(watched, changed string) bool {
	if watched == changed {
		return true
	}
	if strings.HasPrefix(changed, watched+"/") {
		return true
	}
	return strings.HasPrefix(watched, changed+"/")
}
