//go:build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows IOCP AsyncIOProvider backend.
//
// Grounded on reactor/iocp_reactor.go and reactor/reactor_windows.go's
// CreateIoCompletionPort / GetQueuedCompletionStatus usage, generalized
// from a bare FD-readiness reactor to carry send/recv buffers and
// correlation contexts per completion, per spec.md 4.1.
package ioprovider

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

func init() {
	register("iocp", newIOCPProvider)
}

func fallbackChain() []string {
	return []string{"rio", "iocp"}
}

// overlappedCtx embeds a windows.Overlapped so a completion's OVERLAPPED
// pointer resolves back to its correlation context. One overlappedCtx is
// heap-allocated per SendAsync/RecvAsync call.
type overlappedCtx struct {
	windows.Overlapped
	context uint64
	op      Op
	buf     []byte
}

type iocpProvider struct {
	stats      statsCounter
	pend       *pendingMap
	iocp       windows.Handle
	keyCounter atomic.Uint32
	mu         sync.Mutex
	lastErr    string
}

func newIOCPProvider() (Provider, error) {
	return &iocpProvider{pend: newPendingMap()}, nil
}

func (p *iocpProvider) Initialize(queueDepth, maxConcurrent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.iocp != 0 {
		return newErr(ErrAlreadyInitialized, "")
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return newErr(ErrAllocationFailed, err.Error())
	}
	p.iocp = port
	return nil
}

func (p *iocpProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.iocp == 0 {
		return nil
	}
	err := windows.CloseHandle(p.iocp)
	p.iocp = 0
	if err != nil {
		return newErr(ErrOperationFailed, err.Error())
	}
	return nil
}

func (p *iocpProvider) RegisterBuffer(ptr []byte) (int, error) { return -1, nil }

func (p *iocpProvider) associate(socket uintptr) error {
	key := p.keyCounter.Add(1)
	_, err := windows.CreateIoCompletionPort(windows.Handle(socket), p.iocp, uintptr(key), 0)
	if err != nil {
		return newErr(ErrOperationFailed, err.Error())
	}
	return nil
}

func (p *iocpProvider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.associate(socket); err != nil {
		return err
	}
	ctx := &overlappedCtx{context: context, op: OpSend, buf: buf}
	var sent uint32
	wsaBuf := windows.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	err := windows.WSASend(windows.Handle(socket), &wsaBuf, 1, &sent, 0, &ctx.Overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		p.stats.errors.Add(1)
		return newErr(ErrOperationFailed, err.Error())
	}
	p.stats.requests.Add(1)
	p.stats.pending.Add(1)
	return newErr(ErrOperationPending, "")
}

func (p *iocpProvider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.associate(socket); err != nil {
		return err
	}
	ctx := &overlappedCtx{context: context, op: OpRecv, buf: buf}
	var received, recvFlags uint32
	wsaBuf := windows.WSABuf{Len: uint32(len(buf)), Buf: bufPtr(buf)}
	err := windows.WSARecv(windows.Handle(socket), &wsaBuf, 1, &received, &recvFlags, &ctx.Overlapped, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		p.stats.errors.Add(1)
		return newErr(ErrOperationFailed, err.Error())
	}
	p.stats.requests.Add(1)
	p.stats.pending.Add(1)
	return newErr(ErrOperationPending, "")
}

func (p *iocpProvider) FlushRequests() error { return nil }

func (p *iocpProvider) ProcessCompletions(out []CompletionEntry, timeoutMs int) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}

	count := 0
	for count < len(out) {
		var bytes uint32
		var key uintptr
		var overlapped *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
		if err != nil {
			if err == windows.WAIT_TIMEOUT {
				break
			}
			if count == 0 {
				return 0, newErr(ErrOperationFailed, err.Error())
			}
			break
		}
		if overlapped == nil {
			break
		}
		ctx := (*overlappedCtx)(unsafe.Pointer(overlapped))
		out[count] = CompletionEntry{
			Context:        ctx.context,
			Operation:      ctx.op,
			Result:         int64(bytes),
			TimestampNanos: time.Now().UnixNano(),
		}
		count++
		p.stats.completions.Add(1)
		p.stats.pending.Add(-1)
		// Only block-wait on the first iteration; subsequent dequeues are
		// non-blocking drains of whatever is already queued.
		timeout = 0
	}
	return count, nil
}

func (p *iocpProvider) Stats() ProviderStats { return p.stats.snapshot() }
func (p *iocpProvider) LastError() string    { return p.lastErr }

func bufPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
