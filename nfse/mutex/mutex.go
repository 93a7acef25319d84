// Package mutex provides a mutex keyed by an arbitrary comparable value. The portal
// keeps a single live session per account, so logins of the same issuer have to
// take turns while different issuers proceed in parallel.
package mutex

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int // holders plus waiters
}

// KeyedMutex is usable as its zero value and must not be copied after first use.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	table map[K]*entry
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex[K]) Lock(ctx context.Context, key K) error {
	e := m.acquire(key)

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, e)
		return ctx.Err()
	}
}

// TryLock takes key only if nobody holds it.
func (m *KeyedMutex[K]) TryLock(key K) bool {
	e := m.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return true
	default:
		m.release(key, e)
		return false
	}
}

func (m *KeyedMutex[K]) Unlock(key K) {
	m.mu.Lock()
	e, ok := m.table[key]
	m.mu.Unlock()
	if !ok {
		panic("mutex: unlock of unlocked key")
	}

	select {
	case <-e.ch:
	default:
		panic("mutex: unlock of unlocked key")
	}
	m.release(key, e)
}

func (m *KeyedMutex[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.table == nil {
		m.table = make(map[K]*entry)
	}
	e, ok := m.table[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.table[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex[K]) release(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.table, key)
	}
}

func (m *KeyedMutex[K]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}
