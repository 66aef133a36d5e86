//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll AsyncIOProvider backend: readiness-based. Pending ops record
// intent; ProcessCompletions calls epoll_wait, then performs the actual
// send/recv syscall and matches by socket, per spec.md 4.1.
//
// Grounded on reactor/epoll_reactor.go (EpollCreate1/EpollCtl/EpollWait)
// and reactor/reactor_linux.go's factory/Wait shape.
package ioprovider

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	register("epoll", newEpollProvider)
}

func fallbackChain() []string {
	return []string{"io_uring", "epoll"}
}

type epollProvider struct {
	stats statsCounter
	pend  *pendingMap

	mu       sync.Mutex
	epfd     int
	bySocket map[uintptr][]uint64 // socket -> pending correlation keys, FIFO order
	armed    map[uintptr]uint32   // socket -> event bits currently registered with epoll
	closed   bool
}

func newEpollProvider() (Provider, error) {
	return &epollProvider{
		pend:     newPendingMap(),
		bySocket: make(map[uintptr][]uint64),
		armed:    make(map[uintptr]uint32),
	}, nil
}

func (p *epollProvider) Initialize(queueDepth, maxConcurrent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epfd != 0 {
		return newErr(ErrAlreadyInitialized, "")
	}
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return newErr(ErrAllocationFailed, err.Error())
	}
	p.epfd = fd
	return nil
}

func (p *epollProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.epfd != 0 {
		unix.Close(p.epfd)
	}
	return nil
}

func (p *epollProvider) RegisterBuffer(ptr []byte) (int, error) {
	return -1, nil
}

func (p *epollProvider) registerSocket(socket uintptr, events uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armSocketLocked(socket, events)
}

// armSocketLocked ORs events into whatever this socket is already armed
// for and re-registers the union, rather than overwriting it. EPOLL_CTL_MOD
// replaces a socket's entire interest set, so arming a SendAsync's
// EPOLLOUT while a RecvAsync's EPOLLIN is still outstanding (both
// EPOLLONESHOT, not yet fired) must not drop the still-pending direction.
// Must be called with p.mu held.
func (p *epollProvider) armSocketLocked(socket uintptr, events uint32) error {
	combined := p.armed[socket] | events
	ev := &unix.EpollEvent{Events: combined, Fd: int32(socket)}
	if _, known := p.armed[socket]; !known {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(socket), ev); err != nil {
			if err != unix.EEXIST {
				return newErr(ErrOperationFailed, err.Error())
			}
			// the fd is still registered from a prior EPOLLONESHOT that
			// disarmed its interest without removing the registration.
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(socket), ev); err != nil {
				return newErr(ErrOperationFailed, err.Error())
			}
		}
	} else if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(socket), ev); err != nil {
		return newErr(ErrOperationFailed, err.Error())
	}
	p.armed[socket] = combined
	return nil
}

func (p *epollProvider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.registerSocket(socket, unix.EPOLLOUT|unix.EPOLLONESHOT); err != nil {
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

func (p *epollProvider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if err := p.registerSocket(socket, unix.EPOLLIN|unix.EPOLLONESHOT); err != nil {
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

func (p *epollProvider) FlushRequests() error { return nil }

func (p *epollProvider) ProcessCompletions(out []CompletionEntry, timeoutMs int) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	timeout := timeoutMs
	if timeout < -1 {
		timeout = -1
	}
	raw := make([]unix.EpollEvent, len(out))
	n, err := unix.EpollWait(p.epfd, raw, timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, newErr(ErrOperationFailed, err.Error())
	}

	count := 0
	for i := 0; i < n; i++ {
		socket := uintptr(raw[i].Fd)
		ready := raw[i].Events

		p.mu.Lock()
		keys := p.bySocket[socket]
		p.bySocket[socket] = nil
		// EPOLLONESHOT disarms the fd's entire interest set on any
		// delivery, even the direction that wasn't ready; armSocketLocked
		// re-registers below for whatever direction is still outstanding.
		delete(p.armed, socket)
		p.mu.Unlock()

		var leftoverKeys []uint64
		var leftoverBits uint32

		for _, key := range keys {
			op, ok := p.pend.peek(key)
			if !ok {
				continue
			}

			var directionBit uint32
			switch op.op {
			case OpSend:
				directionBit = unix.EPOLLOUT
			case OpRecv:
				directionBit = unix.EPOLLIN
			}
			if ready&(directionBit|unix.EPOLLERR|unix.EPOLLHUP) == 0 {
				// not this op's direction: still pending, re-arm for it.
				leftoverKeys = append(leftoverKeys, key)
				leftoverBits |= directionBit
				continue
			}

			p.pend.take(key)
			p.stats.pending.Add(-1)

			var result int64
			var errno int
			switch op.op {
			case OpSend:
				n, werr := unix.Write(int(op.socket), op.buf)
				if werr != nil {
					result = -1
					errno = errnoOf(werr)
				} else {
					result = int64(n)
				}
			case OpRecv:
				n, rerr := unix.Read(int(op.socket), op.buf)
				if rerr != nil {
					result = -1
					errno = errnoOf(rerr)
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

		if len(leftoverKeys) > 0 {
			p.mu.Lock()
			p.bySocket[socket] = leftoverKeys
			if err := p.armSocketLocked(socket, leftoverBits|unix.EPOLLONESHOT); err != nil {
				p.pend.setLastError(err.Error())
			}
			p.mu.Unlock()
		}
	}
	return count, nil
}

func (p *epollProvider) Stats() ProviderStats { return p.stats.snapshot() }
func (p *epollProvider) LastError() string    { return p.pend.getLastError() }

func errnoOf(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return -1
}
