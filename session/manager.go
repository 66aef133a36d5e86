// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package session

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/netengine/netlog"
)

// Manager maps ConnectionID to its Session and mints fresh ConnectionIDs
// at accept time. Bulk iterations snapshot the map under the mutex and
// release it before invoking per-session methods, preventing the
// lock-order inversion spec.md 5 calls out: Manager.mu must never be held
// across a Session's sendMu/recvMu.
type Manager struct {
	mu       sync.Mutex
	sessions map[ConnectionID]*Session
	nextID   atomic.Uint64
	pool     *Pool
	log      *netlog.Logger
}

// NewManager creates a manager backed by the given pool.
func NewManager(pool *Pool, log *netlog.Logger) *Manager {
	if log == nil {
		log = netlog.Default
	}
	return &Manager{sessions: make(map[ConnectionID]*Session), pool: pool, log: log}
}

// MintID returns a fresh, process-lifetime-unique ConnectionID.
func (m *Manager) MintID() ConnectionID {
	return ConnectionID(m.nextID.Add(1))
}

// Register tracks s under its current ID. It does not acquire a pool slot
// or mint an id; the caller does both (Pool.Acquire, MintID) beforehand.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
}

// Get looks up a session by id.
func (m *Manager) Get(id ConnectionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes the session, releases its pool slot, and drops it from
// the map. Safe to call concurrently and more than once for the same id.
func (m *Manager) Remove(id ConnectionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	if m.pool != nil {
		m.pool.Release(s)
	}
}

// Snapshot returns a copy of all tracked sessions, taken under the lock
// then released — the safe way to bulk-iterate without risking a
// Manager.mu / Session.sendMu lock-order inversion.
func (m *Manager) Snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll snapshots the session map and closes every session outside
// the lock.
func (m *Manager) CloseAll() {
	for _, s := range m.Snapshot() {
		m.Remove(s.ID())
	}
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
