// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command gameserver runs the TCP game-server binary: a NetworkEngine
// bound to a configurable port, logging the same way every other
// component in this module does, and shutting down gracefully on
// SIGINT/SIGTERM.
//
// Grounded on original_source's
// NetworkModuleTest/Server/TestServer/main.cpp: same flag surface
// (-p, -d, -l, -h), same signal-driven main loop, same "wait up to ~8s
// for cleanup" shutdown grace window.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/netengine/dbqueue"
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
	port := flag.Int("p", 9000, "server port")
	host := flag.String("host", "", "bind host (informational; listener binds all interfaces)")
	dbConn := flag.String("d", "", "DB connection string (optional; unset uses log-only fallback)")
	logLevelFlag := flag.String("l", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	workers := flag.Int("workers", 0, "completion worker count (0 = NumCPU)")
	walPath := flag.String("wal", "gameserver.wal", "DB task queue write-ahead log path")
	flag.Parse()

	level, err := netlog.ParseLevel(*logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gameserver: %v\n", err)
		return 1
	}
	log := netlog.New(os.Stderr, level)
	_ = host

	var db dbqueue.Database
	if *dbConn != "" {
		db = fake.NewDatabase()
		log.Infof("gameserver: DB connection string provided (%s); using in-process fallback store", *dbConn)
	}

	dbq := dbqueue.New(log)
	if err := dbq.Initialize(dbqueue.Options{WorkerCount: 2, WALPath: *walPath, Database: db}); err != nil {
		log.Errorf("gameserver: failed to initialize DB task queue: %v", err)
		return 1
	}
	defer dbq.Shutdown()

	eng := engine.New(log)
	handler := &gameHandler{eng: eng, dbq: dbq, log: log}
	if err := eng.Initialize(engine.Config{
		Port:           *port,
		MaxConnections: 1024,
		WorkerCount:    *workers,
		Handler:        handler,
	}); err != nil {
		log.Errorf("gameserver: failed to initialize: %v", err)
		return 1
	}

	eng.Start()
	log.Infof("gameserver: listening on %s. Press Ctrl+C to stop.", eng.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("gameserver: shutting down...")
	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Infof("gameserver: shutdown complete")
	case <-time.After(shutdownGrace):
		log.Warnf("gameserver: shutdown grace period (%v) elapsed, exiting anyway", shutdownGrace)
	}
	return 0
}

// gameHandler is the application-level session.Handler for the game
// server: it records connect/disconnect timestamps through the DB task
// queue and echoes every received packet back to the sender, the
// minimal behavior spec.md 8's ping/pong scenario exercises.
type gameHandler struct {
	eng *engine.Engine
	dbq *dbqueue.Queue
	log *netlog.Logger
}

func (h *gameHandler) OnConnected(id session.ConnectionID) {
	h.dbq.RecordConnectTime(dbqueue.SessionID(id), time.Now().UTC().Format(time.RFC3339))
}

func (h *gameHandler) OnDisconnected(id session.ConnectionID) {
	h.dbq.RecordDisconnectTime(dbqueue.SessionID(id), time.Now().UTC().Format(time.RFC3339))
}

func (h *gameHandler) OnRecv(id session.ConnectionID, pkt protocol.Packet) {
	frame, err := protocol.EncodePacket(pkt.ID, pkt.Body)
	if err != nil {
		if errors.Is(err, protocol.ErrPacketTooLarge) {
			h.log.Warnf("gameserver: dropping oversized echo for session %d", id)
		}
		return
	}
	s, ok := h.eng.Session(id)
	if !ok {
		return
	}
	if err := s.Send(frame); err != nil {
		h.log.Warnf("gameserver: echo send to session %d failed: %v", id, err)
	}
}
