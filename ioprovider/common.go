// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package ioprovider

import (
	"sync"
	"sync/atomic"
)

// statsCounter is the shared atomic ProviderStats accumulator used by every
// backend, grounded on the teacher's style of atomic counters guarding
// lock-free reads (internal/concurrency/ring.go's padded head/tail atomics).
type statsCounter struct {
	requests    atomic.Uint64
	completions atomic.Uint64
	pending     atomic.Int64
	errors      atomic.Uint64
}

func (s *statsCounter) snapshot() ProviderStats {
	return ProviderStats{
		TotalRequests:    s.requests.Load(),
		TotalCompletions: s.completions.Load(),
		Pending:          uint64(s.pending.Load()),
		Errors:           s.errors.Load(),
	}
}

// pendingOp records the correlation context and operation kind for a
// submitted-but-not-yet-completed request, keyed by a per-request
// correlation key. Grounded on reactor/epoll_reactor.go's sync.Map of
// fd -> callback and reactor/iocp_reactor.go's key -> entry map.
type pendingOp struct {
	socket  uintptr
	buf     []byte
	context uint64
	op      Op
}

// pendingMap is a mutex-protected pending-operations map, per spec.md 4.1
// ("each backend maintains a pending-operations map... and a last-error
// string").
type pendingMap struct {
	mu       sync.Mutex
	entries  map[uint64]*pendingOp
	nextKey  uint64
	lastErr  string
}

func newPendingMap() *pendingMap {
	return &pendingMap{entries: make(map[uint64]*pendingOp)}
}

func (m *pendingMap) add(op *pendingOp) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKey++
	key := m.nextKey
	m.entries[key] = op
	return key
}

func (m *pendingMap) take(key uint64) (*pendingOp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	return op, ok
}

// peek returns the pending op for key without removing it, so a caller can
// inspect its direction before deciding whether a readiness event actually
// satisfies it.
func (m *pendingMap) peek(key uint64) (*pendingOp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.entries[key]
	return op, ok
}

func (m *pendingMap) setLastError(s string) {
	m.mu.Lock()
	m.lastErr = s
	m.mu.Unlock()
}

func (m *pendingMap) getLastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
