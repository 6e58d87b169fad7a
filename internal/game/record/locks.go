package record

import (
	"context"
	"fmt"
	"sync"
)

type lockKey struct {
	kind string
	id   int64
}

type recordLock struct {
	ch   chan struct{}
	refs int
}

// keyedLocks provides mutual exclusion scoped to a single record. Locks are
// created on demand and dropped once the last waiter releases, so the map
// never grows with the table.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*recordLock
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[lockKey]*recordLock)}
}

// acquire blocks until the record lock is held or ctx expires. The returned
// release func must be called exactly once. A ctx expiry surfaces as
// ErrLockTimeout so callers get a retryable error instead of a silent
// proceed.
func (l *keyedLocks) acquire(ctx context.Context, key lockKey) (func(), error) {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &recordLock{ch: make(chan struct{}, 1)}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.ch <- struct{}{}:
		return func() {
			<-rl.ch
			l.drop(key, rl)
		}, nil
	case <-ctx.Done():
		l.drop(key, rl)
		return nil, fmt.Errorf("%w: %s/%d", ErrLockTimeout, key.kind, key.id)
	}
}

func (l *keyedLocks) drop(key lockKey, rl *recordLock) {
	l.mu.Lock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
