// Package lock provides keyed mutual exclusion for sync runs and the rows they
// upsert. Memory serializes within one process; Redis serializes across replicas.
package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotAcquired is returned when a lock is held by someone else.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock that is no longer owned.
	ErrNotHeld = errors.New("lock not held")
)

// Handle is an acquired lock.
type Handle interface {
	Release(ctx context.Context) error
	// Extend resets the lock's TTL. It returns ErrNotHeld once the lock has
	// expired or been released.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker acquires keyed locks.
type Locker interface {
	// TryAcquire returns ErrNotAcquired immediately when the key is held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
	// Acquire waits for the key until ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
}

// Memory is an in-process Locker. TTLs are ignored since a crashed process
// releases everything it held.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	sem  chan struct{}
	refs int
}

// NewMemory constructs an in-process locker.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

// TryAcquire implements Locker.
func (m *Memory) TryAcquire(_ context.Context, key string, _ time.Duration) (Handle, error) {
	entry := m.ref(key)
	select {
	case entry.sem <- struct{}{}:
		return &memoryHandle{owner: m, key: key, entry: entry}, nil
	default:
		m.unref(key, entry)
		return nil, ErrNotAcquired
	}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, key string, _ time.Duration) (Handle, error) {
	entry := m.ref(key)
	select {
	case entry.sem <- struct{}{}:
		return &memoryHandle{owner: m, key: key, entry: entry}, nil
	case <-ctx.Done():
		m.unref(key, entry)
		return nil, ctx.Err()
	}
}

func (m *Memory) ref(key string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (m *Memory) unref(key string, entry *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}

type memoryHandle struct {
	owner    *Memory
	key      string
	entry    *memoryEntry
	released atomic.Bool
}

// Extend only checks ownership; memory locks have no TTL to reset.
func (h *memoryHandle) Extend(context.Context, time.Duration) error {
	if h.released.Load() {
		return ErrNotHeld
	}
	return nil
}

func (h *memoryHandle) Release(context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrNotHeld
	}
	<-h.entry.sem
	h.owner.unref(h.key, h.entry)
	return nil
}
