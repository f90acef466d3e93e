package store

import (
	"context"
	"encoding/json"
)

// Store is the shared-state contract the queue core is written against: a
// path-addressed KV tree with point reads, point writes, partial updates,
// CAS transactions on a single path, and change subscriptions.
//
// Paths use `/` separators. A leaf holds a JSON document; a branch has
// children. Get on an absent path returns (nil, nil).
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, path string) (map[string][]byte, error)
	Set(ctx context.Context, path string, value []byte) error
	Update(ctx context.Context, path string, fields map[string]json.RawMessage) error
	Delete(ctx context.Context, path string) error

	// Transaction atomically applies fn to the current value of path. The
	// implementation retries transparently on write contention until it
	// commits or its retry budget is exhausted; Committed is false only in
	// the latter case. fn receives nil when the path is absent and its
	// returned value becomes the new leaf. Errors from fn abort without
	// retrying.
	Transaction(ctx context.Context, path string, fn UpdateFunc) (TxnResult, error)

	// Watch subscribes to path and delivers the full current snapshot on
	// every change under it, starting with the state at subscribe time.
	// Delivery within one watched path is ordered; slow consumers observe
	// the latest snapshot rather than every intermediate one. The returned
	// stop function releases the subscription.
	Watch(ctx context.Context, path string) (<-chan Snapshot, func(), error)
}

type UpdateFunc func(current []byte) ([]byte, error)

type TxnResult struct {
	Committed bool
	Value     []byte
}

// Snapshot is the state of a watched path at one point in time. Leaves
// carry Value; branches carry Children keyed by child name. Both nil means
// the path is absent.
type Snapshot struct {
	Path     string
	Value    []byte
	Children map[string][]byte
}
