//go:build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows RIO (Registered I/O) AsyncIOProvider backend: the
// highest-performance Windows path, gated to Windows 8+ (checked via
// windows.RtlGetVersion) and preferred over plain IOCP in the fallback
// chain, per spec.md 4.1.
//
// This backend requires pre-registered buffers, but it does not use the
// RIO function table or per-socket request queues: sends and receives are
// issued as overlapped WSASend/WSARecv calls against its own completion
// port. Per spec.md's open question: SendAsync on a buffer that was never
// passed through RegisterBuffer returns InvalidBuffer rather than
// silently falling back to IOCP — a silent fallback would mask a caller
// bug (forgetting RegisterBuffer) behind degraded performance.
package ioprovider

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

func init() {
	register("rio", newRIOProvider)
}

type rioProvider struct {
	stats   statsCounter
	pend    *pendingMap
	mu      sync.Mutex
	buffers map[int][]byte
	nextID  int
	iocp    windows.Handle
}

func newRIOProvider() (Provider, error) {
	if !rioSupported() {
		return nil, newErr(ErrPlatformNotSupported, "RIO requires Windows 8+")
	}
	return &rioProvider{pend: newPendingMap(), buffers: make(map[int][]byte)}, nil
}

// rioSupported gates RIO to Windows 8+ (NT 6.2+), per spec.md 4.1.
func rioSupported() bool {
	v := windows.RtlGetVersion()
	if v == nil {
		return false
	}
	return v.MajorVersion > 6 || (v.MajorVersion == 6 && v.MinorVersion >= 2)
}

func (p *rioProvider) Initialize(queueDepth, maxConcurrent int) error {
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

func (p *rioProvider) Shutdown() error {
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

func (p *rioProvider) RegisterBuffer(ptr []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.buffers[id] = ptr
	return id, nil
}

func (p *rioProvider) isRegistered(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		if len(b) > 0 && &b[0] == &buf[0] {
			return true
		}
	}
	return false
}

func (p *rioProvider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if !p.isRegistered(buf) {
		return newErr(ErrInvalidBuffer, "buffer was not passed through RegisterBuffer")
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

func (p *rioProvider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if !p.isRegistered(buf) {
		return newErr(ErrInvalidBuffer, "buffer was not passed through RegisterBuffer")
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

func (p *rioProvider) FlushRequests() error { return nil }

func (p *rioProvider) ProcessCompletions(out []CompletionEntry, timeoutMs int) (int, error) {
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
		timeout = 0
	}
	return count, nil
}

func (p *rioProvider) Stats() ProviderStats { return p.stats.snapshot() }
func (p *rioProvider) LastError() string    { return p.pend.getLastError() }
