// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package dbqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/netengine/netlog"
)

// ErrNotRunning's message is passed to a Task's Callback when the task is
// submitted to a queue that is not running.
var ErrNotRunning = errors.New("dbqueue: queue not running")

// Options configures Queue.Initialize.
type Options struct {
	// WorkerCount is the number of goroutines draining the task queue.
	// WorkerCount > 1 does not preserve per-session ordering; use the
	// dispatcher package's Dispatcher for ordering guarantees.
	WorkerCount int
	// WALPath, if non-empty, enables crash-safe at-least-once delivery.
	WALPath string
	// Database is the capability injected for the concrete task handlers.
	// May be nil, in which case handlers log only (no-DB fallback).
	Database Database
}

// Queue is an asynchronous DB task queue: EnqueueTask never blocks the
// caller on DB I/O, and WorkerCount goroutines drain it concurrently.
// Grounded on original_source/Server/TestServer/src/DBTaskQueue.cpp.
type Queue struct {
	mu    sync.Mutex
	tasks *queue.Queue
	cond  *sync.Cond
	size  atomic.Int64

	running atomic.Bool
	wg      sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64

	db  Database
	wal *wal
	log *netlog.Logger
}

// New constructs a Queue; call Initialize to start workers and recover
// from a prior WAL before submitting tasks.
func New(log *netlog.Logger) *Queue {
	if log == nil {
		log = netlog.Default
	}
	q := &Queue{tasks: queue.New(), log: log}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Initialize starts worker goroutines and recovers any pending tasks left
// by a prior crash. Workers start before recovery so EnqueueTask accepts
// recovered tasks immediately, matching the original's start-workers-then-
// recover ordering.
func (q *Queue) Initialize(opts Options) error {
	if q.running.Load() {
		q.log.Warnf("dbqueue: already running")
		return nil
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.WorkerCount > 1 {
		q.log.Warnf("dbqueue: worker count %d - per-session task ordering is not guaranteed; use dispatcher.Dispatcher for ordering", opts.WorkerCount)
	}

	q.db = opts.Database
	q.wal = newWAL(opts.WALPath, q.log)

	q.running.Store(true)
	for i := 0; i < opts.WorkerCount; i++ {
		q.wg.Add(1)
		go q.workerLoop()
	}

	for _, entry := range q.wal.recover() {
		q.EnqueueTask(Task{Type: entry.typ, SessionID: entry.sessionID, Data: entry.data})
	}
	q.wal.finishRecovery()

	q.log.Infof("dbqueue: initialized with %d worker(s)", opts.WorkerCount)
	return nil
}

// IsRunning reports whether the queue is currently accepting tasks.
func (q *Queue) IsRunning() bool { return q.running.Load() }

// QueueSize returns the current pending task count.
func (q *Queue) QueueSize() int64 { return q.size.Load() }

// ProcessedCount returns the lifetime count of successfully processed tasks.
func (q *Queue) ProcessedCount() uint64 { return q.processed.Load() }

// FailedCount returns the lifetime count of failed tasks.
func (q *Queue) FailedCount() uint64 { return q.failed.Load() }

// EnqueueTask submits a task for asynchronous processing. If a WAL is
// configured, the task is durably recorded as pending before it becomes
// visible to workers, so a crash between these two steps is always
// recoverable on restart.
func (q *Queue) EnqueueTask(t Task) {
	if !q.running.Load() {
		q.log.Errorf("dbqueue: cannot enqueue task - not running")
		if t.Callback != nil {
			t.Callback(false, ErrNotRunning.Error())
		}
		return
	}
	if strings.ContainsRune(t.Data, '\n') {
		q.log.Errorf("dbqueue: task data contains newline - rejected at enqueue")
		if t.Callback != nil {
			t.Callback(false, "task data must not contain a newline")
		}
		return
	}

	if t.walSeq == 0 {
		t.walSeq = q.wal.nextSeq()
		q.wal.writePending(t, t.walSeq)
	}

	q.mu.Lock()
	// Re-check under the lock to close the race window against a
	// concurrent Shutdown.
	if !q.running.Load() {
		q.mu.Unlock()
		q.wal.writeDone(t.walSeq) // pended but never queued: don't replay it
		q.log.Errorf("dbqueue: cannot enqueue task - shutting down")
		if t.Callback != nil {
			t.Callback(false, "dbqueue: shutting down")
		}
		return
	}
	q.tasks.Add(t)
	q.size.Add(1)
	q.cond.Signal()
	q.mu.Unlock()
}

// RecordConnectTime enqueues a connect-time log task.
func (q *Queue) RecordConnectTime(id SessionID, timestamp string) {
	q.EnqueueTask(Task{Type: RecordConnectTime, SessionID: id, Data: timestamp})
}

// RecordDisconnectTime enqueues a disconnect-time log task.
func (q *Queue) RecordDisconnectTime(id SessionID, timestamp string) {
	q.EnqueueTask(Task{Type: RecordDisconnectTime, SessionID: id, Data: timestamp})
}

// UpdatePlayerData enqueues a player-data upsert task.
func (q *Queue) UpdatePlayerData(id SessionID, jsonData string, cb Callback) {
	q.EnqueueTask(Task{Type: UpdatePlayerData, SessionID: id, Data: jsonData, Callback: cb})
}

func (q *Queue) workerLoop() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.tasks.Length() == 0 && q.running.Load() {
			q.cond.Wait()
		}
		if q.tasks.Length() == 0 && !q.running.Load() {
			q.mu.Unlock()
			return
		}
		t := q.tasks.Remove().(Task)
		q.size.Add(-1)
		q.mu.Unlock()

		q.processTask(t)
	}
}

func (q *Queue) processTask(t Task) {
	success, result := q.dispatch(t)
	if success {
		q.processed.Add(1)
	} else {
		q.failed.Add(1)
	}
	if success && t.walSeq != 0 {
		q.wal.writeDone(t.walSeq)
	}
	if t.Callback != nil {
		t.Callback(success, result)
	}
}

func (q *Queue) dispatch(t Task) (success bool, result string) {
	defer func() {
		if r := recover(); r != nil {
			success = false
			result = fmt.Sprintf("panic: %v", r)
			q.log.Errorf("dbqueue: task panic: %v", r)
		}
	}()

	switch t.Type {
	case RecordConnectTime:
		return q.handleRecordConnectTime(t)
	case RecordDisconnectTime:
		return q.handleRecordDisconnectTime(t)
	case UpdatePlayerData:
		return q.handleUpdatePlayerData(t)
	default:
		q.log.Errorf("dbqueue: unknown task type %v", t.Type)
		return false, "unknown task type"
	}
}

func (q *Queue) handleRecordConnectTime(t Task) (bool, string) {
	if q.db == nil || !q.db.IsConnected() {
		q.log.Infof("session %d connected at %s", t.SessionID, t.Data)
		return true, "connect time logged (no DB)"
	}
	if err := q.db.Exec(context.Background(),
		"INSERT INTO SessionConnectLog (session_id, connect_time) VALUES (?, ?)",
		uint64(t.SessionID), t.Data); err != nil {
		q.log.Errorf("handleRecordConnectTime failed: %v", err)
		return false, "db error: " + err.Error()
	}
	return true, "connect time recorded to DB"
}

func (q *Queue) handleRecordDisconnectTime(t Task) (bool, string) {
	if q.db == nil || !q.db.IsConnected() {
		q.log.Infof("session %d disconnected at %s", t.SessionID, t.Data)
		return true, "disconnect time logged (no DB)"
	}
	if err := q.db.Exec(context.Background(),
		"INSERT INTO SessionDisconnectLog (session_id, disconnect_time) VALUES (?, ?)",
		uint64(t.SessionID), t.Data); err != nil {
		q.log.Errorf("handleRecordDisconnectTime failed: %v", err)
		return false, "db error: " + err.Error()
	}
	return true, "disconnect time recorded to DB"
}

func (q *Queue) handleUpdatePlayerData(t Task) (bool, string) {
	if q.db == nil || !q.db.IsConnected() {
		q.log.Infof("player data for session %d (no DB): %s", t.SessionID, t.Data)
		return true, "player data logged (no DB)"
	}
	if err := q.db.Exec(context.Background(),
		"INSERT OR REPLACE INTO PlayerData (session_id, data) VALUES (?, ?)",
		uint64(t.SessionID), t.Data); err != nil {
		q.log.Errorf("handleUpdatePlayerData failed: %v", err)
		return false, "db error: " + err.Error()
	}
	return true, "player data updated to DB"
}

// Shutdown stops accepting new tasks, waits for worker goroutines to exit,
// then synchronously drains and executes whatever remained queued, so no
// accepted task is silently lost on shutdown.
func (q *Queue) Shutdown() {
	if !q.running.Load() {
		return
	}
	q.log.Infof("dbqueue: shutting down...")

	q.mu.Lock()
	q.running.Store(false)
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	remaining := q.tasks.Length()
	var drained []Task
	if remaining > 0 {
		q.log.Warnf("dbqueue: draining %d remaining task(s) before shutdown", remaining)
	}
	for q.tasks.Length() > 0 {
		drained = append(drained, q.tasks.Remove().(Task))
	}
	q.size.Store(0)
	q.mu.Unlock()

	for _, t := range drained {
		q.processTask(t)
	}

	q.wal.close()
	q.log.Infof("dbqueue: shutdown complete - processed %d, failed %d",
		q.processed.Load(), q.failed.Load())
}
