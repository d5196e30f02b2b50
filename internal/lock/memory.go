package lock

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process keyed mutex. It only serializes requests within one replica.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

type memoryEntry struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memoryEntry)}
}

// Acquire locks every key in sorted order, blocking until all are held or ctx ends.
func (m *Memory) Acquire(ctx context.Context, keys ...string) (func(), error) {
	var releases []func()
	for _, key := range normalizeKeys(keys) {
		release, err := m.acquireOne(ctx, key)
		if err != nil {
			releaseAll(releases)()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		releases = append(releases, release)
	}
	return releaseAll(releases), nil
}

func (m *Memory) acquireOne(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &memoryEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			m.unref(key, e)
		}, nil
	case <-ctx.Done():
		m.unref(key, e)
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}
}

func (m *Memory) unref(key string, e *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
