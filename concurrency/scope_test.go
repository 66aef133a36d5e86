package concurrency_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/netengine/concurrency"
)

func TestWaitForDrainReturnsTrueOnceSubmitsComplete(t *testing.T) {
	s := concurrency.NewScope()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(func() { time.Sleep(10 * time.Millisecond) })
		}()
	}
	wg.Wait()

	if !s.WaitForDrain(time.Second) {
		t.Fatal("expected drain to complete")
	}
	if s.InFlight() != 0 {
		t.Fatalf("expected 0 in-flight after drain, got %d", s.InFlight())
	}
}

func TestWaitForDrainTimesOutWhileTaskStillRunning(t *testing.T) {
	s := concurrency.NewScope()
	go s.Submit(func() { time.Sleep(200 * time.Millisecond) })
	time.Sleep(10 * time.Millisecond) // let Submit register in-flight

	if s.WaitForDrain(20 * time.Millisecond) {
		t.Fatal("expected drain to time out while task still running")
	}
	if !s.WaitForDrain(time.Second) {
		t.Fatal("expected drain to eventually succeed")
	}
}

func TestCancelFlagIsCooperative(t *testing.T) {
	s := concurrency.NewScope()
	if s.IsCancelled() {
		t.Fatal("expected not cancelled initially")
	}
	s.Cancel()
	if !s.IsCancelled() {
		t.Fatal("expected cancelled after Cancel")
	}
}
