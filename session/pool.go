// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package session

import (
	"errors"
	"sync"

	"github.com/momentics/netengine/netlog"
)

// ErrPoolExhausted is returned by Acquire when no free slot remains.
var ErrPoolExhausted = errors.New("session: pool exhausted")

// Pool is a fixed-capacity pre-allocated array of session slots. Acquire
// pops a free-list index under a mutex and returns the slot's Session;
// Release returns the slot to the free list. This replaces the C++
// source's shared_ptr-with-custom-deleter idiom (spec.md 4.2) — Go has no
// destructor hook, so callers must explicitly call Release when a session
// is retired (SessionManager.Remove does this for sessions it owns).
type Pool struct {
	mu       sync.Mutex
	slots    []*Session
	inUse    []bool
	freeList []int
	log      *netlog.Logger
}

// NewPool pre-allocates capacity sessions.
func NewPool(capacity int, log *netlog.Logger) *Pool {
	if log == nil {
		log = netlog.Default
	}
	p := &Pool{
		slots:    make([]*Session, capacity),
		inUse:    make([]bool, capacity),
		freeList: make([]int, capacity),
		log:      log,
	}
	for i := 0; i < capacity; i++ {
		p.slots[i] = New(log)
		p.slots[i].slotIdx = i
		p.freeList[i] = capacity - 1 - i // pop from the end, index 0 first
	}
	return p
}

// Capacity returns the total number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// Acquire pops a free slot. Returns ErrPoolExhausted if none remain.
func (p *Pool) Acquire() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.freeList) == 0 {
		return nil, ErrPoolExhausted
	}
	idx := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	p.inUse[idx] = true
	return p.slots[idx], nil
}

// Release returns a session's slot to the free list. Releasing a slot that
// is not currently in use (e.g. a second Release for the same Acquire) is
// a no-op. SessionManager.Remove is the caller in this engine.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := s.slotIdx
	if idx < 0 || idx >= len(p.slots) || !p.inUse[idx] {
		return
	}
	p.inUse[idx] = false
	p.freeList = append(p.freeList, idx)
}

// InUseCount returns the number of slots currently checked out.
func (p *Pool) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.freeList)
}
