package indexer

import (
	"fmt"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/dshills/ragkb/pkg/types"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
// This replaces sync.Mutex.TryLock() which doesn't exist in Go 1.25.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently taken.
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// acquireRun takes the in-process lock and, when a lock file is configured,
// an exclusive advisory lock on it so that two processes sharing a dedup
// store never ingest at the same time. The returned func releases both.
func (idx *Indexer) acquireRun() (func(), error) {
	if !idx.lock.TryAcquire() {
		return nil, types.ErrIngestionInProgress
	}
	if idx.lockPath == "" {
		return idx.lock.Release, nil
	}

	fl := flock.New(idx.lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		idx.lock.Release()
		return nil, fmt.Errorf("failed to lock %s: %w", idx.lockPath, err)
	}
	if !ok {
		idx.lock.Release()
		return nil, fmt.Errorf("%s is held by another process: %w", idx.lockPath, types.ErrIngestionInProgress)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			idx.log.Warn("failed to release ingestion lock", "path", idx.lockPath, "error", err)
		}
		idx.lock.Release()
	}, nil
}
