package dispatcher_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/netengine/dispatcher"
)

func waitUntil(t *testing.T, cond func() bool) {
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

func testOrderingPerKey(t *testing.T, backend dispatcher.Backend) {
	d := dispatcher.New(nil)
	if err := d.Initialize(dispatcher.Options{WorkerCount: 4, Capacity: 256, Backend: backend}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Shutdown()

	const perKey = 200
	keys := []uint64{1, 2, 3, 4, 5}
	results := make(map[uint64][]int)
	var mu sync.Mutex

	for _, key := range keys {
		key := key
		for i := 0; i < perKey; i++ {
			i := i
			if err := d.Dispatch(key, func() {
				mu.Lock()
				results[key] = append(results[key], i)
				mu.Unlock()
			}); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
		}
	}

	waitUntil(t, func() bool { return d.TotalProcessed() == uint64(len(keys)*perKey) })

	mu.Lock()
	defer mu.Unlock()
	for _, key := range keys {
		seq := results[key]
		if len(seq) != perKey {
			t.Fatalf("key %d: expected %d tasks, got %d", key, perKey, len(seq))
		}
		for i, v := range seq {
			if v != i {
				t.Fatalf("key %d: out-of-order at position %d: got %d", key, i, v)
			}
		}
	}
}

func TestOrderingPerKeyMutexBackend(t *testing.T) {
	testOrderingPerKey(t, dispatcher.Mutex)
}

func TestOrderingPerKeyLockFreeBackend(t *testing.T) {
	testOrderingPerKey(t, dispatcher.LockFree)
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	d := dispatcher.New(nil)
	if err := d.Initialize(dispatcher.Options{WorkerCount: 4, Capacity: 16, Backend: dispatcher.Mutex}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Shutdown()

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(4)

	for k := uint64(0); k < 4; k++ {
		k := k
		if err := d.Dispatch(k, func() {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
		}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	wg.Wait()

	if maxInFlight.Load() < 2 {
		t.Fatalf("expected tasks for distinct keys to overlap, max concurrent was %d", maxInFlight.Load())
	}
}

func TestDispatchRejectsWhenQueueFull(t *testing.T) {
	d := dispatcher.New(nil)
	if err := d.Initialize(dispatcher.Options{WorkerCount: 1, Capacity: 1, Backend: dispatcher.Mutex, Backpressure: dispatcher.Reject}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Shutdown()

	block := make(chan struct{})
	if err := d.Dispatch(0, func() { <-block }); err != nil {
		t.Fatalf("Dispatch 1: %v", err)
	}
	// Give the worker a moment to pick up the first task so the queue is
	// empty again before filling it for the rejection check.
	time.Sleep(20 * time.Millisecond)
	if err := d.Dispatch(0, func() {}); err != nil {
		t.Fatalf("Dispatch 2: %v", err)
	}
	if err := d.Dispatch(0, func() {}); err != dispatcher.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(block)
}

func TestDispatchAfterShutdownErrors(t *testing.T) {
	d := dispatcher.New(nil)
	if err := d.Initialize(dispatcher.Options{WorkerCount: 1, Capacity: 4, Backend: dispatcher.Mutex}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	d.Shutdown()
	if err := d.Dispatch(0, func() {}); err != dispatcher.ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestShutdownDrainsRemainingTasks(t *testing.T) {
	d := dispatcher.New(nil)
	if err := d.Initialize(dispatcher.Options{WorkerCount: 2, Capacity: 64, Backend: dispatcher.LockFree}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		if err := d.Dispatch(uint64(i%2), func() { ran.Add(1) }); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	d.Shutdown()

	if ran.Load() != 20 {
		t.Fatalf("expected all 20 tasks drained and run, got %d", ran.Load())
	}
}
