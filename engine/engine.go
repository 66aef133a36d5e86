// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package engine implements NetworkEngine: the accept loop, the
// completion-worker pool that pumps an ioprovider.Provider, and the
// logic-thread pool that keeps application handlers off the completion
// path, grounded on spec.md 4.3 and on the teacher's
// transport/tcp/listener.go accept-loop shape.
package engine

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/netengine/dispatcher"
	"github.com/momentics/netengine/ioprovider"
	"github.com/momentics/netengine/netlog"
	"github.com/momentics/netengine/protocol"
	"github.com/momentics/netengine/session"
)

// Config configures Engine.Initialize.
type Config struct {
	Port            int
	MaxConnections  int
	WorkerCount     int // completion-worker count; 0 means runtime.NumCPU()
	LogicWorkers    int // logic-thread pool size; 0 means WorkerCount
	ProviderHint    string
	CompletionBatch int // completions drained per ProcessCompletions call; 0 means 64
	Handler         session.Handler
}

const (
	minBackoff = time.Millisecond
	maxBackoff = 500 * time.Millisecond
	// completionTimeoutMs is the ProcessCompletions poll timeout, per
	// spec.md's 50-100ms window for completion workers.
	completionTimeoutMs = 75
)

var ErrAlreadyRunning = errors.New("engine: already running")

// Engine owns the listen socket, the session pool/manager, the async I/O
// provider, and both worker pools (completion + logic).
type Engine struct {
	cfg Config
	log *netlog.Logger

	ln       *net.TCPListener
	provider ioprovider.Provider
	pool     *session.Pool
	manager  *session.Manager
	logic    *dispatcher.Dispatcher

	recvBufs sync.Map // session.ConnectionID -> []byte, the buffer posted to the last RecvAsync

	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New constructs an Engine bound to no socket yet; call Initialize then Start.
func New(log *netlog.Logger) *Engine {
	if log == nil {
		log = netlog.Default
	}
	return &Engine{log: log}
}

// Initialize opens the listen socket, selects the platform I/O provider,
// and sizes the worker pools; it does not yet accept connections.
func (e *Engine) Initialize(cfg Config) error {
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = runtime.NumCPU()
	}
	if cfg.LogicWorkers <= 0 {
		cfg.LogicWorkers = cfg.WorkerCount
	}
	if cfg.CompletionBatch <= 0 {
		cfg.CompletionBatch = 64
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1024
	}
	if cfg.Handler == nil {
		return errors.New("engine: Config.Handler is required")
	}
	e.cfg = cfg

	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return errors.New("engine: expected *net.TCPListener")
	}
	e.ln = tcpLn

	provider, err := ioprovider.Select(cfg.ProviderHint)
	if err != nil {
		tcpLn.Close()
		return err
	}
	if err := provider.Initialize(cfg.MaxConnections, cfg.WorkerCount); err != nil {
		tcpLn.Close()
		return err
	}
	e.provider = provider

	e.pool = session.NewPool(cfg.MaxConnections, e.log)
	e.manager = session.NewManager(e.pool, e.log)

	e.logic = dispatcher.New(e.log)
	if err := e.logic.Initialize(dispatcher.Options{
		WorkerCount:  cfg.LogicWorkers,
		Capacity:     256,
		Backend:      dispatcher.Mutex,
		Backpressure: dispatcher.Block,
	}); err != nil {
		tcpLn.Close()
		return err
	}

	e.log.Infof("engine: initialized on port %d, %d completion worker(s), %d logic worker(s)",
		cfg.Port, cfg.WorkerCount, cfg.LogicWorkers)
	return nil
}

// Addr returns the bound listen address (useful when Config.Port is 0).
func (e *Engine) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Session looks up a live session by ConnectionID, for application
// handlers that need to send a reply from outside the OnRecv callback
// that identified it.
func (e *Engine) Session(id session.ConnectionID) (*session.Session, bool) {
	return e.manager.Get(id)
}

// Start spawns the accept goroutine and Config.WorkerCount completion
// workers. Start does not block.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.acceptLoop(ctx)

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.completionLoop(ctx)
	}
	e.log.Infof("engine: started")
}

// Stop signals shutdown, unblocks workers, joins every goroutine, and
// closes the listener.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	if e.ln != nil {
		_ = e.ln.Close()
	}
	e.wg.Wait()
	e.manager.CloseAll()
	e.logic.Shutdown()
	_ = e.provider.Shutdown()
	e.log.Infof("engine: stopped")
}

// acceptLoop loops Accept with incremental back-off on transient failure,
// per spec.md 4.3.
func (e *Engine) acceptLoop(ctx context.Context) {
	defer e.wg.Done()
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := e.ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				e.log.Warnf("engine: transient accept error: %v (backoff %v)", err, backoff)
				time.Sleep(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			e.log.Errorf("engine: accept error, stopping accept loop: %v", err)
			return
		}
		backoff = minBackoff
		e.onAccept(conn)
	}
}

func (e *Engine) onAccept(conn *net.TCPConn) {
	fd, err := rawFD(conn)
	if err != nil {
		e.log.Errorf("engine: failed to extract raw fd: %v", err)
		conn.Close()
		return
	}

	s, err := e.pool.Acquire()
	if err != nil {
		e.log.Warnf("engine: session pool exhausted, dropping connection")
		conn.Close()
		return
	}

	id := e.manager.MintID()
	handler := &logicHandler{inner: e.cfg.Handler, dispatch: e.logic}
	s.Initialize(id, conn, fd, handler)
	s.SetProvider(e.provider)
	e.manager.Register(s)

	handler.fireConnected(id)

	e.postRecv(s)
}

// postRecv allocates a fresh receive buffer, remembers it so the
// completion handler can find the bytes the kernel wrote into it, and
// arms the next RecvAsync for a session.
func (e *Engine) postRecv(s *session.Session) {
	buf := make([]byte, protocol.MaxPacketSize)
	e.recvBufs.Store(s.ID(), buf)

	err := e.provider.RecvAsync(s.FD(), buf, uint64(s.ID()), 0)
	if perr, ok := err.(*ioprovider.ProviderError); ok && perr.Code == ioprovider.ErrOperationPending {
		return
	}
	if err != nil {
		e.log.Errorf("engine: RecvAsync failed for session %d: %v", s.ID(), err)
		e.recvBufs.Delete(s.ID())
		e.manager.Remove(s.ID())
	}
}

// completionLoop repeatedly calls ProcessCompletions and dispatches each
// entry by its operation tag, per spec.md 4.3.
func (e *Engine) completionLoop(ctx context.Context) {
	defer e.wg.Done()
	entries := make([]ioprovider.CompletionEntry, e.cfg.CompletionBatch)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := e.provider.ProcessCompletions(entries, completionTimeoutMs)
		if err != nil {
			if errors.Is(err, ioprovider.ErrShutdown) {
				return
			}
			e.log.Warnf("engine: ProcessCompletions error: %v", err)
			continue
		}
		for i := 0; i < n; i++ {
			e.handleCompletion(entries[i])
		}
	}
}

func (e *Engine) handleCompletion(c ioprovider.CompletionEntry) {
	id := session.ConnectionID(c.Context)
	s, ok := e.manager.Get(id)
	if !ok {
		return
	}

	switch c.Operation {
	case ioprovider.OpRecv:
		if c.Result <= 0 {
			e.recvBufs.Delete(id)
			e.manager.Remove(id)
			return
		}
		if bufAny, ok := e.recvBufs.Load(id); ok {
			buf := bufAny.([]byte)
			s.ProcessRawRecv(buf[:c.Result])
		}
		if s.IsConnected() {
			e.postRecv(s)
		} else {
			e.recvBufs.Delete(id)
		}
	case ioprovider.OpSend:
		s.OnSendComplete(c.Result)
	}
}
