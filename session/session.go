// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package session implements the engine's per-connection state: stream to
// packet reassembly, the serialized outbound write queue with
// back-pressure, and the one-way Connected -> Disconnected lifecycle.
//
// Grounded line-for-line on original_source's
// NetworkModuleTest/Server/ServerEngine/Network/Core/Session.cpp — the
// mIsSending compare-exchange + TOCTOU re-check protocol in particular is
// carried over exactly as spec.md 4.2 and 9 describe it.
package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/momentics/netengine/ioprovider"
	"github.com/momentics/netengine/netlog"
	"github.com/momentics/netengine/protocol"
)

// State is the session's one-way lifecycle state.
type State int32

const (
	StateNone State = iota
	StateConnected
	StateDisconnected
)

const (
	// SendBufferSize bounds a single Send() payload.
	SendBufferSize = protocol.MaxPacketSize
	// MaxSendQueueDepth bounds the outbound FIFO before back-pressure drops.
	MaxSendQueueDepth = 1024
	// maxAccumSize bounds the receive reassembly buffer (4x MaxPacketSize).
	maxAccumSize = protocol.MaxPacketSize * 4
)

// ConnectionID is a 64-bit monotonically increasing identifier, unique for
// the process lifetime and never reused.
type ConnectionID uint64

// Handler is the capability set a session dispatches to, replacing the
// C++ source's virtual OnRecv/OnConnected/OnDisconnected hooks with a
// plain interface, per spec.md 9's tagged-variant-handler-table note.
type Handler interface {
	OnRecv(id ConnectionID, pkt protocol.Packet)
	OnConnected(id ConnectionID)
	OnDisconnected(id ConnectionID)
}

// Session owns one OS socket connection and has states
// {None, Connected, Disconnected}. State transitions are one-way and
// monotone.
type Session struct {
	id    ConnectionID
	state atomic.Int32

	conn    io.Closer
	fd      uintptr
	provider atomic.Pointer[ioprovider.Provider]

	recvMu     sync.Mutex
	recvBuf    []byte
	recvOffset int

	sendMu        sync.Mutex
	sendQueue     [][]byte
	sendQueueSize atomic.Int64
	isSending     atomic.Bool

	handler Handler
	log     *netlog.Logger

	// slotIdx identifies this session's slot in its owning SessionPool. It is
	// set once by NewPool so Pool.Release can find the slot without a
	// back-reference cycle.
	slotIdx int
}

// ErrClosed is returned by Send after the session has been closed, and
// also for an empty payload.
var ErrClosed = errors.New("session: closed")

// New constructs an unbound session; Initialize must be called before use.
func New(log *netlog.Logger) *Session {
	if log == nil {
		log = netlog.Default
	}
	return &Session{log: log}
}

// Initialize activates the session for a freshly accepted connection.
func (s *Session) Initialize(id ConnectionID, conn io.Closer, fd uintptr, handler Handler) {
	s.id = id
	s.conn = conn
	s.fd = fd
	s.handler = handler
	s.state.Store(int32(StateConnected))
	s.isSending.Store(false)
	s.sendQueueSize.Store(0)
	s.provider.Store(nil)
	s.recvMu.Lock()
	s.recvBuf = s.recvBuf[:0]
	s.recvOffset = 0
	s.recvMu.Unlock()
	s.sendMu.Lock()
	s.sendQueue = nil
	s.sendMu.Unlock()
}

// ID returns the session's ConnectionID.
func (s *Session) ID() ConnectionID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool { return s.State() == StateConnected }

// SetProvider attaches the AsyncIOProvider used for this session's I/O.
func (s *Session) SetProvider(p ioprovider.Provider) {
	s.provider.Store(&p)
}

// FD returns the raw socket handle, for provider registration.
func (s *Session) FD() uintptr { return s.fd }

// Send validates, copies, and enqueues data for asynchronous transmission.
// Over-sized payloads and full queues are dropped silently (logged),
// matching spec.md's "dropping favors latency over completeness" policy.
func (s *Session) Send(data []byte) error {
	if !s.IsConnected() || len(data) == 0 {
		return ErrClosed
	}
	if len(data) > SendBufferSize {
		s.log.Warnf("send size %d exceeds SendBufferSize - packet dropped (session %d)", len(data), s.id)
		return nil
	}
	if s.sendQueueSize.Load() >= MaxSendQueueDepth {
		s.log.Warnf("send queue full - packet dropped (session %d)", s.id)
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.sendMu.Lock()
	s.sendQueue = append(s.sendQueue, buf)
	s.sendQueueSize.Add(1)
	s.sendMu.Unlock()

	s.flushSendQueue()
	return nil
}

// flushSendQueue uses compare-exchange on isSending to select exactly one
// flusher; see postSend for the TOCTOU re-check this protocol depends on.
func (s *Session) flushSendQueue() {
	if !s.isSending.CompareAndSwap(false, true) {
		return
	}
	s.postSend()
}

// postSend is the single-flusher critical path. It must re-validate the
// queue-size counter after releasing isSending: a racing Send may have
// enqueued and lost the CAS race in the window between our "queue is
// empty" read and the flag release below. Without the re-check, that
// enqueued item would be stranded with no flusher. This is the subtlest
// part of the whole engine (spec.md 4.2, 9).
func (s *Session) postSend() {
	if s.sendQueueSize.Load() == 0 {
		s.isSending.Store(false)
		if s.sendQueueSize.Load() > 0 {
			s.flushSendQueue()
		}
		return
	}

	var data []byte
	s.sendMu.Lock()
	if len(s.sendQueue) == 0 {
		s.sendMu.Unlock()
		s.isSending.Store(false)
		return
	}
	data = s.sendQueue[0]
	s.sendQueue = s.sendQueue[1:]
	s.sendQueueSize.Add(-1)
	s.sendMu.Unlock()

	providerPtr := s.provider.Load()
	if providerPtr == nil || *providerPtr == nil {
		s.isSending.Store(false)
		s.Close()
		return
	}
	provider := *providerPtr

	err := provider.SendAsync(s.fd, data, uint64(s.id), 0)
	if perr, ok := err.(*ioprovider.ProviderError); ok && perr.Code == ioprovider.ErrOperationPending {
		// isSending remains true until OnSendComplete is observed.
		return
	}
	if err != nil {
		s.log.Errorf("send failed - session %d: %v", s.id, err)
		s.isSending.Store(false)
		s.Close()
		return
	}
	// Synchronous success (e.g. a fake provider in tests): immediately
	// continue draining.
	s.isSending.Store(false)
	if s.sendQueueSize.Load() > 0 {
		s.flushSendQueue()
	}
}

// OnSendComplete is invoked by the engine's completion worker when a
// previously posted send finishes; it pops and reposts the next queued
// item, or releases isSending with the same TOCTOU re-check as postSend.
func (s *Session) OnSendComplete(result int64) {
	if result < 0 {
		s.Close()
		return
	}
	s.postSend()
}

// ProcessRawRecv feeds one chunk of bytes from the wire into the
// reassembly buffer, extracting and dispatching every complete frame it
// contains. Overflow and malformed framing both close the session.
func (s *Session) ProcessRawRecv(data []byte) {
	var frames [][]byte
	shouldClose := false

	s.recvMu.Lock()
	unread := len(s.recvBuf) - s.recvOffset
	if unread+len(data) > maxAccumSize {
		s.log.Warnf("recv accumulation buffer overflow - session %d", s.id)
		s.recvBuf = s.recvBuf[:0]
		s.recvOffset = 0
		shouldClose = true
	} else {
		s.recvBuf = append(s.recvBuf, data...)

		for len(s.recvBuf)-s.recvOffset >= protocol.HeaderSize {
			hdr := protocol.DecodeHeader(s.recvBuf[s.recvOffset:])
			if err := hdr.Validate(); err != nil {
				s.log.Warnf("invalid packet size %d, resetting stream - session %d", hdr.Size, s.id)
				s.recvBuf = s.recvBuf[:0]
				s.recvOffset = 0
				shouldClose = true
				break
			}
			if len(s.recvBuf)-s.recvOffset < int(hdr.Size) {
				break
			}
			frame := make([]byte, hdr.Size)
			copy(frame, s.recvBuf[s.recvOffset:s.recvOffset+int(hdr.Size)])
			frames = append(frames, frame)
			s.recvOffset += int(hdr.Size)
		}

		if s.recvOffset >= len(s.recvBuf) {
			s.recvBuf = s.recvBuf[:0]
			s.recvOffset = 0
		} else if s.recvOffset > len(s.recvBuf)/2 {
			remaining := len(s.recvBuf) - s.recvOffset
			copy(s.recvBuf, s.recvBuf[s.recvOffset:])
			s.recvBuf = s.recvBuf[:remaining]
			s.recvOffset = 0
		}
	}
	s.recvMu.Unlock()

	if shouldClose {
		s.Close()
		return
	}

	for _, frame := range frames {
		if s.handler != nil {
			s.handler.OnRecv(s.id, protocol.Decode(frame))
		}
	}
}

// Close is idempotent and monotone: only the first caller performs the
// teardown. Concurrent Sends after Close are dropped silently because
// IsConnected() observes the Disconnected state.
func (s *Session) Close() {
	prev := State(s.state.Swap(int32(StateDisconnected)))
	if prev == StateDisconnected {
		return
	}

	// Release-store nil so a concurrent Send's provider load sees it
	// cleared before the underlying connection is actually closed below.
	s.provider.Store(nil)

	if s.conn != nil {
		_ = s.conn.Close()
	}

	s.sendMu.Lock()
	s.sendQueue = nil
	s.sendQueueSize.Store(0)
	s.sendMu.Unlock()

	s.recvMu.Lock()
	s.recvBuf = nil
	s.recvOffset = 0
	s.recvMu.Unlock()

	if s.handler != nil {
		s.handler.OnDisconnected(s.id)
	}
	s.log.Infof("session closed - id %d", s.id)
}
