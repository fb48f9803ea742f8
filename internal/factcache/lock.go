package factcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers. A writer acquires the full weight.
const maxReaders = 1 << 30

// rwLock is a read/write lock whose acquisition honours a context. Waiters
// are served in arrival order, so a queued writer holds back later readers.
type rwLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newRWLock(timeout time.Duration) *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(maxReaders), timeout: timeout}
}

func (l *rwLock) acquire(ctx context.Context, n int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, n); err != nil {
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	return nil
}

func (l *rwLock) RLock(ctx context.Context) error { return l.acquire(ctx, 1) }
func (l *rwLock) RUnlock()                        { l.sem.Release(1) }
func (l *rwLock) Lock(ctx context.Context) error  { return l.acquire(ctx, maxReaders) }
func (l *rwLock) Unlock()                         { l.sem.Release(maxReaders) }
