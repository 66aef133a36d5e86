package concurrency_test

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/netengine/concurrency"
)

func TestTrySendAndReceive(t *testing.T) {
	ch := concurrency.NewChannel[int](2)
	if !ch.TrySend(1) {
		t.Fatal("expected TrySend to succeed")
	}
	if !ch.TrySend(2) {
		t.Fatal("expected TrySend to succeed")
	}
	if ch.TrySend(3) {
		t.Fatal("expected TrySend to fail when full")
	}

	ctx := context.Background()
	v, ok := ch.Receive(ctx)
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
}

func TestSendBlocksUntilContextCancelled(t *testing.T) {
	ch := concurrency.NewChannel[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.Send(ctx, 1)
	if err == nil {
		t.Fatal("expected Send to fail on a full unbuffered channel with no receiver")
	}
}

func TestCloseIsIdempotentAndRejectsFurtherSends(t *testing.T) {
	ch := concurrency.NewChannel[int](1)
	ch.Close()
	ch.Close() // must not panic

	if ch.TrySend(1) {
		t.Fatal("expected TrySend to fail after Close")
	}
	if err := ch.Send(context.Background(), 1); err != concurrency.ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestReceiveDrainsRemainingValuesAfterClose(t *testing.T) {
	ch := concurrency.NewChannel[int](2)
	ch.TrySend(1)
	ch.Close()

	v, ok := ch.Receive(context.Background())
	if !ok || v != 1 {
		t.Fatalf("expected to drain buffered value after close, got (%d, %v)", v, ok)
	}
	_, ok = ch.Receive(context.Background())
	if ok {
		t.Fatal("expected ok=false once channel is drained and closed")
	}
}
