// Package cache holds the coordination helpers shared by the engine: keyed
// locks that serialise incident detection and the request-id index.
package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the
// caller's context or the locker's acquire timeout expires.
var ErrLockTimeout = errors.New("lock acquire timeout")

// Release gives a held lock back. It is safe to call more than once.
type Release func()

// Locker serialises work per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Close() error
}

// LocalLocker is a keyed mutex valid within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker returns an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Close is a no-op.
func (l *LocalLocker) Close() error { return nil }

var _ Locker = (*LocalLocker)(nil)
