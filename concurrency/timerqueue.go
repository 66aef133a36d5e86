// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency implements the engine's small scheduling and
// coordination primitives: a single-thread timer heap, a structured
// cancellation/drain scope, a typed bounded channel, and a named-event
// broadcast bus, grounded on the teacher's
// internal/concurrency/scheduler.go heap-based scheduler and
// control/config.go listener-registration pattern.
package concurrency

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/netengine/netlog"
)

// TimerHandle identifies a scheduled timer for Cancel.
type TimerHandle uint64

type timerEntry struct {
	fireAt   time.Time
	handle   TimerHandle
	interval time.Duration
	repeat   bool
	callback func() bool
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue is a single-worker min-heap timer, per spec.md 4.6: ScheduleOnce
// fires once, ScheduleRepeat re-arms while its callback keeps returning
// true, Cancel marks a handle dead and the worker skips it once it
// reaches the top of the heap.
type TimerQueue struct {
	mu        sync.Mutex
	heap      timerHeap
	cancelled map[TimerHandle]struct{}
	nextID    atomic.Uint64

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	log    *netlog.Logger
}

// New constructs a TimerQueue; call Start to spin up its worker goroutine.
func New(log *netlog.Logger) *TimerQueue {
	if log == nil {
		log = netlog.Default
	}
	return &TimerQueue{
		cancelled: make(map[TimerHandle]struct{}),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		log:       log,
	}
}

// Start spawns the timer worker goroutine. Safe to call once.
func (q *TimerQueue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop signals the worker to exit and waits for it.
func (q *TimerQueue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// ScheduleOnce fires cb once after d elapses and returns a handle usable
// with Cancel.
func (q *TimerQueue) ScheduleOnce(d time.Duration, cb func()) TimerHandle {
	return q.schedule(d, 0, false, func() bool {
		cb()
		return false
	})
}

// ScheduleRepeat fires cb every d until cb returns false or Cancel is
// called.
func (q *TimerQueue) ScheduleRepeat(d time.Duration, cb func() bool) TimerHandle {
	return q.schedule(d, d, true, cb)
}

func (q *TimerQueue) schedule(delay, interval time.Duration, repeat bool, cb func() bool) TimerHandle {
	h := TimerHandle(q.nextID.Add(1))
	e := &timerEntry{
		fireAt:   time.Now().Add(delay),
		handle:   h,
		interval: interval,
		repeat:   repeat,
		callback: cb,
	}
	q.mu.Lock()
	heap.Push(&q.heap, e)
	q.mu.Unlock()
	q.kick()
	return h
}

// Cancel marks handle as dead. The worker drops it without firing once it
// reaches the top of the heap (or immediately, if it happens to be there
// already).
func (q *TimerQueue) Cancel(h TimerHandle) {
	q.mu.Lock()
	q.cancelled[h] = struct{}{}
	q.mu.Unlock()
	q.kick()
}

func (q *TimerQueue) kick() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *TimerQueue) run() {
	defer q.wg.Done()
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		q.mu.Lock()
		for q.heap.Len() > 0 {
			top := q.heap[0]
			if _, dead := q.cancelled[top.handle]; dead {
				heap.Pop(&q.heap)
				delete(q.cancelled, top.handle)
				continue
			}
			break
		}
		if q.heap.Len() == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.stop:
				return
			}
		}
		top := q.heap[0]
		wait := time.Until(top.fireAt)
		if wait <= 0 {
			heap.Pop(&q.heap)
			q.mu.Unlock()
			q.fire(top)
			continue
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-q.notify:
		case <-q.stop:
			return
		}
	}
}

func (q *TimerQueue) fire(e *timerEntry) {
	var rearm bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Errorf("timer callback panicked (handle %d): %v", e.handle, r)
			}
		}()
		rearm = e.callback()
	}()
	if !rearm || !e.repeat {
		q.mu.Lock()
		delete(q.cancelled, e.handle)
		q.mu.Unlock()
		return
	}
	q.mu.Lock()
	if _, dead := q.cancelled[e.handle]; dead {
		delete(q.cancelled, e.handle)
		q.mu.Unlock()
		return
	}
	e.fireAt = time.Now().Add(e.interval)
	heap.Push(&q.heap, e)
	q.mu.Unlock()
	q.kick()
}

// Len reports the number of pending (not-yet-fired) timers, including
// cancelled-but-not-yet-skipped ones.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
