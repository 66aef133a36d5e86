package dbqueue_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/momentics/netengine/dbqueue"
	"github.com/momentics/netengine/fake"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestRecordConnectTimeNoDBFallback(t *testing.T) {
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	q.RecordConnectTime(1, "2026-07-31T00:00:00Z")
	waitFor(t, func() bool { return q.ProcessedCount() == 1 })
	if q.FailedCount() != 0 {
		t.Fatalf("expected 0 failed, got %d", q.FailedCount())
	}
}

func TestUpdatePlayerDataWithDB(t *testing.T) {
	db := fake.NewDatabase()
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 2, Database: db}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	var mu sync.Mutex
	var gotSuccess bool
	var gotResult string
	done := make(chan struct{})

	q.UpdatePlayerData(7, `{"level":3}`, func(success bool, result string) {
		mu.Lock()
		gotSuccess, gotResult = success, result
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotSuccess {
		t.Fatalf("expected success, result=%q", gotResult)
	}
	if len(db.ExecutedQueries()) != 1 {
		t.Fatalf("expected 1 executed query, got %d", len(db.ExecutedQueries()))
	}
}

func TestHandlerFailureIncrementsFailedCount(t *testing.T) {
	db := fake.NewDatabase()
	db.FailNextExec()
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1, Database: db}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	q.RecordConnectTime(3, "2026-07-31T00:00:00Z")
	waitFor(t, func() bool { return q.FailedCount() == 1 })
}

func TestEnqueueRejectsNewlineInData(t *testing.T) {
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	done := make(chan bool, 1)
	q.UpdatePlayerData(1, "line1\nline2", func(success bool, result string) { done <- success })
	select {
	case success := <-done:
		if success {
			t.Fatalf("expected rejection of newline-containing data")
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	if q.ProcessedCount() != 0 || q.FailedCount() != 0 {
		t.Fatalf("rejected-at-enqueue task should not count as processed or failed")
	}
}

func TestEnqueueAfterShutdownInvokesFailureCallback(t *testing.T) {
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	q.Shutdown()

	done := make(chan bool, 1)
	q.UpdatePlayerData(1, "{}", func(success bool, result string) { done <- success })
	select {
	case success := <-done:
		if success {
			t.Fatalf("expected failure callback after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestWALRecoversUnfinishedTaskAcrossRestart(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "queue.wal")

	// Simulate a crash: a "P" record was written (EnqueueTask's
	// writePending) but processing never completed, so no matching "D"
	// record exists.
	seedWAL(t, walPath, "P|0|9|1|2026-07-31T00:00:00Z\n")

	db := fake.NewDatabase()
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1, WALPath: walPath, Database: db}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	waitFor(t, func() bool { return q.ProcessedCount() == 1 })
}

func TestWALSkipsAlreadyCompletedTask(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "queue.wal")

	// A "P" immediately followed by its "D" means the task already
	// completed before the crash; it must not be replayed.
	seedWAL(t, walPath, "P|0|9|1|2026-07-31T00:00:00Z\nD|1\n")

	db := fake.NewDatabase()
	q := dbqueue.New(nil)
	if err := q.Initialize(dbqueue.Options{WorkerCount: 1, WALPath: walPath, Database: db}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer q.Shutdown()

	time.Sleep(50 * time.Millisecond)
	if q.ProcessedCount() != 0 {
		t.Fatalf("expected no replay of a completed task, got %d processed", q.ProcessedCount())
	}
}

func seedWAL(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("seed WAL: %v", err)
	}
}
