// Package lockedmap provides a map guarded by a reader/writer lock that is only
// reachable through scoped callbacks.
//
// The lock is never handed out. Read and Write acquire it, run the callback,
// and release it with defer, so a callback that panics still releases the
// lock. Read callbacks receive a View that cannot mutate the map.
//
// Callbacks run with the lock held: they must not block, perform I/O, or call
// back into the same Map. Values that outlive the callback must be copied out
// before it returns.
//
// Nesting is not detected. A Write issued from inside a Read or Write
// callback waits for the lock its caller holds and never returns, and a
// nested Read can block behind a waiting writer the same way. sync.RWMutex
// is not reentrant and Go exposes no goroutine identity to check against,
// so compound operations must run inside a single callback.
package lockedmap

import "sync"

// Map is a reader/writer-locked map.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// View is read-only access to the map for the duration of a Read callback.
type View[K comparable, V any] struct {
	m map[K]V
}

// Get returns a copy of the value stored under key.
func (v View[K, V]) Get(key K) (V, bool) {
	val, ok := v.m[key]
	return val, ok
}

// Len returns the number of entries.
func (v View[K, V]) Len() int {
	return len(v.m)
}

// Range calls fn for every entry until fn returns false.
func (v View[K, V]) Range(fn func(K, V) bool) {
	for k, val := range v.m {
		if !fn(k, val) {
			return
		}
	}
}

// Read runs fn with shared access. Concurrent Reads are allowed.
func (m *Map[K, V]) Read(fn func(View[K, V])) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(View[K, V]{m: m.m})
}

// Write runs fn with exclusive access.
func (m *Map[K, V]) Write(fn func(map[K]V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.m)
}

// ReadResult runs fn under a read lock and returns its result.
func ReadResult[K comparable, V, R any](m *Map[K, V], fn func(View[K, V]) R) R {
	var r R
	m.Read(func(v View[K, V]) {
		r = fn(v)
	})
	return r
}

// WriteResult runs fn under the write lock and returns its result.
func WriteResult[K comparable, V, R any](m *Map[K, V], fn func(map[K]V) R) R {
	var r R
	m.Write(func(mm map[K]V) {
		r = fn(mm)
	})
	return r
}
