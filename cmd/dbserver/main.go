// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command dbserver runs the TCP database-server binary: a NetworkEngine
// whose sessions forward player-data updates through a KeyedDispatcher
// (ordered per player) into a DBTaskQueue+WAL, and that calls the
// reconnect-callback hook spec.md 7 names when a connection drops. The
// hook wired up here only logs the disconnect; it does not reconnect.
//
// Grounded on original_source's
// NetworkModuleTest/Server/DBServer/main.cpp: default port 8001, the
// -p/--db-host/--db-port/-l/-h flag surface, and the same
// signal-driven shutdown loop as the game server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/netengine/dbqueue"
	"github.com/momentics/netengine/dispatcher"
	"github.com/momentics/netengine/engine"
	"github.com/momentics/netengine/fake"
	"github.com/momentics/netengine/netlog"
	"github.com/momentics/netengine/protocol"
	"github.com/momentics/netengine/session"
)

const shutdownGrace = 8 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	port := flag.Int("p", 8001, "server port")
	dbHost := flag.String("db-host", "", "backing store host (optional; unset uses log-only fallback)")
	dbPort := flag.Int("db-port", 0, "backing store port")
	logLevelFlag := flag.String("l", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	workers := flag.Int("workers", 0, "completion worker count (0 = NumCPU)")
	walPath := flag.String("wal", "dbserver.wal", "DB task queue write-ahead log path")
	flag.Parse()

	level, err := netlog.ParseLevel(*logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbserver: %v\n", err)
		return 1
	}
	log := netlog.New(os.Stderr, level)

	var db dbqueue.Database
	if *dbHost != "" {
		db = fake.NewDatabase()
		log.Infof("dbserver: backing store %s:%d configured; using in-process fallback store", *dbHost, *dbPort)
	}

	dbq := dbqueue.New(log)
	if err := dbq.Initialize(dbqueue.Options{WorkerCount: 4, WALPath: *walPath, Database: db}); err != nil {
		log.Errorf("dbserver: failed to initialize DB task queue: %v", err)
		return 1
	}
	defer dbq.Shutdown()

	ordered := dispatcher.New(log)
	if err := ordered.Initialize(dispatcher.Options{
		WorkerCount:  4,
		Capacity:     512,
		Backend:      dispatcher.LockFree,
		Backpressure: dispatcher.Reject,
	}); err != nil {
		log.Errorf("dbserver: failed to initialize ordered task queue: %v", err)
		return 1
	}
	defer ordered.Shutdown()

	eng := engine.New(log)
	handler := &dbServerHandler{
		eng:     eng,
		dbq:     dbq,
		ordered: ordered,
		log:     log,
		reconnect: func(id session.ConnectionID) {
			log.Warnf("dbserver: session %d disconnected, reconnect policy: none configured", id)
		},
	}
	if err := eng.Initialize(engine.Config{
		Port:           *port,
		MaxConnections: 4096,
		WorkerCount:    *workers,
		Handler:        handler,
	}); err != nil {
		log.Errorf("dbserver: failed to initialize: %v", err)
		return 1
	}

	eng.Start()
	log.Infof("dbserver: listening on %s. Press Ctrl+C to stop.", eng.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("dbserver: shutting down...")
	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Infof("dbserver: shutdown complete")
	case <-time.After(shutdownGrace):
		log.Warnf("dbserver: shutdown grace period (%v) elapsed, exiting anyway", shutdownGrace)
	}
	return 0
}

// dbServerHandler is the DBServerSession variant spec.md 9 / SPEC_FULL.md
// name: every inbound frame is routed through the ordered (per-session
// key) dispatcher before reaching the DB task queue, so two updates for
// the same session are applied in the order they arrived even though
// other sessions' updates run concurrently. OnDisconnected invokes the
// reconnect-callback hook so the owning process can retry.
type dbServerHandler struct {
	eng       *engine.Engine
	dbq       *dbqueue.Queue
	ordered   *dispatcher.Dispatcher
	log       *netlog.Logger
	reconnect func(session.ConnectionID)
}

func (h *dbServerHandler) OnConnected(id session.ConnectionID) {
	h.dbq.RecordConnectTime(dbqueue.SessionID(id), time.Now().UTC().Format(time.RFC3339))
}

func (h *dbServerHandler) OnDisconnected(id session.ConnectionID) {
	h.dbq.RecordDisconnectTime(dbqueue.SessionID(id), time.Now().UTC().Format(time.RFC3339))
	if h.reconnect != nil {
		h.reconnect(id)
	}
}

func (h *dbServerHandler) OnRecv(id session.ConnectionID, pkt protocol.Packet) {
	data := string(pkt.Body)
	err := h.ordered.Dispatch(uint64(id), func() {
		// The DB task queue runs several workers, so wait for this update
		// to finish before the next task for this session can start.
		done := make(chan struct{})
		h.dbq.UpdatePlayerData(dbqueue.SessionID(id), data, func(success bool, result string) {
			if !success {
				h.log.Warnf("dbserver: player data update failed for session %d: %s", id, result)
			}
			close(done)
		})
		<-done
	})
	if err != nil {
		h.log.Warnf("dbserver: dropped update for session %d: %v", id, err)
	}
}
