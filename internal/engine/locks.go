package engine

import (
	"context"
	"sync"
)

// queueLocks serializes position-changing operations per queue. Acquisition
// honours the caller's context so a stuck queue surfaces as a timeout.
type queueLocks struct {
	mu    sync.Mutex
	locks map[string]*queueLock
}

type queueLock struct {
	ch   chan struct{}
	refs int
}

func newQueueLocks() *queueLocks {
	return &queueLocks{locks: make(map[string]*queueLock)}
}

func (l *queueLocks) acquire(ctx context.Context, queueID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[queueID]
	if !ok {
		lock = &queueLock{ch: make(chan struct{}, 1)}
		l.locks[queueID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.release(queueID, lock)
		}, nil
	case <-ctx.Done():
		l.release(queueID, lock)
		return nil, ctx.Err()
	}
}

func (l *queueLocks) release(queueID string, lock *queueLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, queueID)
	}
}
