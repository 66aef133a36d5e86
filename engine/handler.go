// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package engine

import (
	"github.com/momentics/netengine/dispatcher"
	"github.com/momentics/netengine/protocol"
	"github.com/momentics/netengine/session"
)

// logicHandler adapts a session.Handler so every callback it fires is
// routed through the logic-thread pool keyed by ConnectionID, per
// spec.md 4.3's "completion threads never run user code directly". A slow
// handler stalls the logic worker its key maps to (key % LogicWorkers),
// and with it every connection sharing that worker; a completion worker
// waits only while that logic worker's queue is full (Block backpressure).
type logicHandler struct {
	inner    session.Handler
	dispatch *dispatcher.Dispatcher
}

func (h *logicHandler) fireConnected(id session.ConnectionID) {
	h.OnConnected(id)
}

func (h *logicHandler) OnRecv(id session.ConnectionID, pkt protocol.Packet) {
	_ = h.dispatch.Dispatch(uint64(id), func() {
		h.inner.OnRecv(id, pkt)
	})
}

func (h *logicHandler) OnConnected(id session.ConnectionID) {
	_ = h.dispatch.Dispatch(uint64(id), func() {
		h.inner.OnConnected(id)
	})
}

func (h *logicHandler) OnDisconnected(id session.ConnectionID) {
	_ = h.dispatch.Dispatch(uint64(id), func() {
		h.inner.OnDisconnected(id)
	})
}
