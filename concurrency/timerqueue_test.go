package concurrency_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/netengine/concurrency"
)

func TestScheduleOnceFiresOnce(t *testing.T) {
	q := concurrency.New(nil)
	q.Start()
	defer q.Stop()

	var fired atomic.Int32
	q.ScheduleOnce(10*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected 1 fire, got %d", got)
	}
}

func TestScheduleRepeatStopsWhenCallbackReturnsFalse(t *testing.T) {
	q := concurrency.New(nil)
	q.Start()
	defer q.Stop()

	var count atomic.Int32
	q.ScheduleRepeat(5*time.Millisecond, func() bool {
		n := count.Add(1)
		return n < 3
	})

	time.Sleep(150 * time.Millisecond)
	if got := count.Load(); got != 3 {
		t.Fatalf("expected exactly 3 fires, got %d", got)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	q := concurrency.New(nil)
	q.Start()
	defer q.Stop()

	var fired atomic.Int32
	h := q.ScheduleOnce(20*time.Millisecond, func() { fired.Add(1) })
	q.Cancel(h)

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %d fires", got)
	}
}

func TestCancelRepeatingTimerStopsFutureFires(t *testing.T) {
	q := concurrency.New(nil)
	q.Start()
	defer q.Stop()

	var count atomic.Int32
	h := q.ScheduleRepeat(5*time.Millisecond, func() bool {
		count.Add(1)
		return true
	})

	time.Sleep(20 * time.Millisecond)
	q.Cancel(h)
	afterCancel := count.Load()

	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got > afterCancel+1 {
		t.Fatalf("expected no further fires after cancel, went from %d to %d", afterCancel, got)
	}
}
