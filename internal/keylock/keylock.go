// Package keylock provides mutual exclusion keyed by an identity.
//
// A Map hands out one mutex per key, created on first use and dropped once no
// goroutine holds or waits for it, so operations on the same user serialize
// while operations on different users proceed in parallel.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int // holders plus waiters; guarded by Map.mu
}

// Map is a set of mutexes keyed by K. The zero value is ready to use.
type Map[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

// Lock acquires the mutex for key, blocking until it is available.
func (m *Map[K]) Lock(key K) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[K]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. It panics if key is not locked.
func (m *Map[K]) Unlock(key K) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		m.mu.Unlock()
		panic("keylock: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()

	e.mu.Unlock()
}

// Do runs fn while holding the mutex for key.
func (m *Map[K]) Do(key K, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

// Len returns the number of keys currently held or awaited.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
