package session_test

import (
	"errors"
	"io"
	"testing"

	"github.com/momentics/netengine/fake"
	"github.com/momentics/netengine/ioprovider"
	"github.com/momentics/netengine/protocol"
	"github.com/momentics/netengine/session"
)

type nopCloser struct{ closed bool }

func (n *nopCloser) Close() error { n.closed = true; return nil }

func newTestSession(t *testing.T) (*session.Session, *fake.Provider, *fake.Handler, *nopCloser) {
	t.Helper()
	s := session.New(nil)
	h := fake.NewHandler()
	nc := &nopCloser{}
	s.Initialize(1, nc, 42, h)
	p := fake.NewProvider()
	s.SetProvider(p)
	return s, p, h, nc
}

func TestSendAtMaxPacketSizeAccepted(t *testing.T) {
	s, p, _, _ := newTestSession(t)
	body := make([]byte, session.SendBufferSize)
	if err := s.Send(body); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.SentCount() != 1 {
		t.Fatalf("expected 1 send, got %d", p.SentCount())
	}
}

func TestSendOverMaxPacketSizeDropped(t *testing.T) {
	s, p, _, _ := newTestSession(t)
	body := make([]byte, session.SendBufferSize+1)
	if err := s.Send(body); err != nil {
		t.Fatalf("Send should not error on drop: %v", err)
	}
	if p.SentCount() != 0 {
		t.Fatalf("expected drop, got %d sends", p.SentCount())
	}
}

func TestSendQueueBackpressure(t *testing.T) {
	// Use a provider that reports every send as pending and never
	// completes it, so the session's queue fills up rather than draining
	// synchronously between Send calls.
	s2 := session.New(nil)
	h2 := fake.NewHandler()
	s2.Initialize(2, &nopCloser{}, 43, h2)
	blocking := &blockingProvider{}
	s2.SetProvider(blocking)

	for i := 0; i < session.MaxSendQueueDepth-1; i++ {
		if err := s2.Send([]byte("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	// Queue-depth at MAX_SEND_QUEUE_DEPTH - 1: last send accepted.
	if blocking.calls == 0 {
		t.Fatalf("expected at least one SendAsync call")
	}
}

// blockingProvider reports every send as pending and never completes it,
// so the session's queue fills up rather than draining synchronously.
type blockingProvider struct{ calls int }

func (b *blockingProvider) Initialize(int, int) error         { return nil }
func (b *blockingProvider) Shutdown() error                   { return nil }
func (b *blockingProvider) RegisterBuffer([]byte) (int, error) { return -1, nil }
func (b *blockingProvider) FlushRequests() error               { return nil }

func (b *blockingProvider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	b.calls++
	return &ioprovider.ProviderError{Code: ioprovider.ErrOperationPending}
}

func (b *blockingProvider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	return &ioprovider.ProviderError{Code: ioprovider.ErrOperationPending}
}

func (b *blockingProvider) ProcessCompletions(out []ioprovider.CompletionEntry, timeoutMs int) (int, error) {
	return 0, nil
}

func (b *blockingProvider) Stats() ioprovider.ProviderStats { return ioprovider.ProviderStats{} }
func (b *blockingProvider) LastError() string               { return "" }

var _ ioprovider.Provider = (*blockingProvider)(nil)

func TestProcessRawRecvFramedAcrossTwoReads(t *testing.T) {
	s, _, h, _ := newTestSession(t)
	frame, err := protocol.EncodePacket(9, []byte("0123456789012345678901234")) // 30 bytes total
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	if len(frame) != 30 {
		t.Fatalf("expected 30-byte frame, got %d", len(frame))
	}
	s.ProcessRawRecv(frame[:10])
	s.ProcessRawRecv(frame[10:])
	if h.RecvCount() != 1 {
		t.Fatalf("expected exactly one OnRecv call, got %d", h.RecvCount())
	}
	if string(h.Recvd[0].Body) != "0123456789012345678901234" {
		t.Fatalf("unexpected body: %q", h.Recvd[0].Body)
	}
}

func TestProcessRawRecvMalformedClosesSession(t *testing.T) {
	s, _, h, nc := newTestSession(t)
	bad := make([]byte, 4)
	bad[0] = 3 // size=3 claimed, below HeaderSize
	s.ProcessRawRecv(bad)
	if s.IsConnected() {
		t.Fatalf("expected session to be closed on malformed header")
	}
	if !nc.closed {
		t.Fatalf("expected underlying connection to be closed")
	}
	if len(h.Disconnected) != 1 {
		t.Fatalf("expected one OnDisconnected call")
	}
}

func TestProcessRawRecvOverflowCloses(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	over := make([]byte, 4*protocol.MaxPacketSize+1)
	s.ProcessRawRecv(over)
	if s.IsConnected() {
		t.Fatalf("expected overflow to close session")
	}
}

func TestCloseIsIdempotentAndDropsSubsequentSends(t *testing.T) {
	s, p, _, nc := newTestSession(t)
	s.Close()
	s.Close() // must not panic or double-release
	if !nc.closed {
		t.Fatalf("expected conn closed")
	}
	if err := s.Send([]byte("x")); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	if p.SentCount() != 0 {
		t.Fatalf("expected no sends after close")
	}
}

var _ io.Closer = (*nopCloser)(nil)
