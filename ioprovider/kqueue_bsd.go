//go:build darwin || freebsd || netbsd || openbsd

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue AsyncIOProvider backend for BSD-family platforms, readiness-based
// like the Linux epoll backend: pending ops record intent, the kernel
// poll happens in ProcessCompletions, which also performs the actual
// send/recv syscall for the ready socket, matching by socket, per spec.md 4.1.
//
// Grounded on the same readiness-dispatch shape as epoll_linux.go,
// adapted to golang.org/x/sys/unix's Kqueue/Kevent calls.
package ioprovider

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	register("kqueue", newKqueueProvider)
}

func fallbackChain() []string {
	return []string{"kqueue"}
}

type kqueueProvider struct {
	stats statsCounter
	pend  *pendingMap

	mu       sync.Mutex
	kq       int
	bySocket map[uintptr][]uint64
	closed   bool
}

func newKqueueProvider() (Provider, error) {
	return &kqueueProvider{pend: newPendingMap(), bySocket: make(map[uintptr][]uint64)}, nil
}

func (p *kqueueProvider) Initialize(queueDepth, maxConcurrent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kq != 0 {
		return newErr(ErrAlreadyInitialized, "")
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return newErr(ErrAllocationFailed, err.Error())
	}
	p.kq = kq
	return nil
}

func (p *kqueueProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.kq != 0 {
		unix.Close(p.kq)
	}
	return nil
}

func (p *kqueueProvider) RegisterBuffer(ptr []byte) (int, error) { return -1, nil }

func (p *kqueueProvider) registerSocket(socket uintptr, filter int16) error {
	ev := unix.Kevent_t{
		Ident:  uint64(socket),
		Filter: filter,
		Flags:  unix.EV_ADD | unix.EV_ONESHOT,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil {
		return newErr(ErrOperationFailed, err.Error())
	}
	return nil
}

func (p *kqueueProvider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.registerSocket(socket, unix.EVFILT_WRITE); err != nil {
		return err
	}
	key := p.pend.add(&pendingOp{socket: socket, buf: buf, context: context, op: OpSend})
	p.mu.Lock()
	p.bySocket[socket] = append(p.bySocket[socket], key)
	p.mu.Unlock()
	p.stats.requests.Add(1)
	p.stats.pending.Add(1)
	return newErr(ErrOperationPending, "")
}

func (p *kqueueProvider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.registerSocket(socket, unix.EVFILT_READ); err != nil {
		return err
	}
	key := p.pend.add(&pendingOp{socket: socket, buf: buf, context: context, op: OpRecv})
	p.mu.Lock()
	p.bySocket[socket] = append(p.bySocket[socket], key)
	p.mu.Unlock()
	p.stats.requests.Add(1)
	p.stats.pending.Add(1)
	return newErr(ErrOperationPending, "")
}

func (p *kqueueProvider) FlushRequests() error { return nil }

func (p *kqueueProvider) ProcessCompletions(out []CompletionEntry, timeoutMs int) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	var tsPtr *unix.Timespec
	var ts unix.Timespec
	if timeoutMs >= 0 {
		ts = unix.NsecToTimespec(int64(timeoutMs) * int64(time.Millisecond))
		tsPtr = &ts
	}

	raw := make([]unix.Kevent_t, len(out))
	n, err := unix.Kevent(p.kq, nil, raw, tsPtr)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, newErr(ErrOperationFailed, err.Error())
	}

	count := 0
	for i := 0; i < n; i++ {
		socket := uintptr(raw[i].Ident)

		p.mu.Lock()
		keys := p.bySocket[socket]
		p.bySocket[socket] = nil
		p.mu.Unlock()

		for _, key := range keys {
			op, ok := p.pend.take(key)
			if !ok {
				continue
			}
			p.stats.pending.Add(-1)

			var result int64
			var errno int
			switch op.op {
			case OpSend:
				n, werr := unix.Write(int(op.socket), op.buf)
				if werr != nil {
					result, errno = -1, errnoOfBSD(werr)
				} else {
					result = int64(n)
				}
			case OpRecv:
				n, rerr := unix.Read(int(op.socket), op.buf)
				if rerr != nil {
					result, errno = -1, errnoOfBSD(rerr)
				} else {
					result = int64(n)
				}
			}
			if count < len(out) {
				out[count] = CompletionEntry{
					Context:        op.context,
					Operation:      op.op,
					Result:         result,
					OSError:        errno,
					TimestampNanos: time.Now().UnixNano(),
				}
				count++
				p.stats.completions.Add(1)
				if result < 0 {
					p.stats.errors.Add(1)
				}
			}
		}
	}
	return count, nil
}

func (p *kqueueProvider) Stats() ProviderStats { return p.stats.snapshot() }
func (p *kqueueProvider) LastError() string    { return p.pend.getLastError() }

func errnoOfBSD(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return -1
}
