// Package redis implements the shared-state store on Redis. Transactions
// use optimistic WATCH/MULTI with transparent retry; watches ride a pub/sub
// change feed carrying the changed path, with subscribers re-reading their
// snapshot on every relevant change.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"myqueue/checkin-service/internal/store"
)

const changeChannel = "store:changes"

// txRetryBudget bounds the optimistic retry loop, mirroring the retry
// budget of the original realtime-database transaction primitive.
const txRetryBudget = 25

type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	MaxRetries   int
}

type Store struct {
	client *redis.Client
}

func New(cfg Config) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.MaxRetries > 0 {
		opt.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	value, err := s.client.Get(ctx, path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (s *Store) List(ctx context.Context, path string) (map[string][]byte, error) {
	prefix := path + "/"
	children := map[string][]byte{}

	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rest := strings.TrimPrefix(key, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		value, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		children[rest] = value
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	return children, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, path, value, 0)
	pipe.Publish(ctx, changeChannel, path)
	_, err := pipe.Exec(ctx)
	return err
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
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, path)
	pipe.Publish(ctx, changeChannel, path)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFunc) (store.TxnResult, error) {
	var result store.TxnResult

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, path).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, path)
			} else {
				pipe.Set(ctx, path, next, 0)
			}
			pipe.Publish(ctx, changeChannel, path)
			return nil
		})
		if err != nil {
			return err
		}
		result = store.TxnResult{Committed: true, Value: next}
		return nil
	}

	for attempt := 0; attempt < txRetryBudget; attempt++ {
		err := s.client.Watch(ctx, txn, path)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return store.TxnResult{}, err
		}
		return result, nil
	}
	return store.TxnResult{Committed: false}, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan store.Snapshot, func(), error) {
	pubsub := s.client.Subscribe(ctx, changeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan store.Snapshot, 1)
	watchCtx, cancel := context.WithCancel(ctx)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)

		snap, err := s.snapshot(watchCtx, path)
		if err == nil {
			deliver(out, snap)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if !covers(path, msg.Payload) {
					continue
				}
				snap, err := s.snapshot(watchCtx, path)
				if err != nil {
					continue
				}
				deliver(out, snap)
			}
		}
	}()

	return out, stop, nil
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
