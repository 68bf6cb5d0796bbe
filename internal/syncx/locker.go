package syncx

import (
	"context"
	"sync"
	"time"

	"voicerelay/internal/apperr"
)

// Locker is a mutex whose acquisition queues and respects context deadlines.
// Callers that cannot get the lock in time receive a recoverable busy error
// instead of the lock being force-released under them.
type Locker struct {
	ch chan struct{}
}

// NewLocker creates an unlocked Locker.
func NewLocker() *Locker {
	return &Locker{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done. The returned release
// function is idempotent; calling it more than once is a no-op.
func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return l.releaseFunc(), nil
	default:
	}

	select {
	case l.ch <- struct{}{}:
		return l.releaseFunc(), nil
	case <-ctx.Done():
		return nil, apperr.Wrap(ctx.Err(), apperr.CodeBusy, "lock acquisition timed out")
	}
}

// AcquireTimeout is Acquire with an explicit timeout.
func (l *Locker) AcquireTimeout(ctx context.Context, d time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return l.Acquire(ctx)
}

// TryAcquire attempts the lock without blocking.
func (l *Locker) TryAcquire() (func(), bool) {
	select {
	case l.ch <- struct{}{}:
		return l.releaseFunc(), true
	default:
		return nil, false
	}
}

func (l *Locker) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-l.ch })
	}
}
