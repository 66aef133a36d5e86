// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package fake

import (
	"sync"

	"github.com/momentics/netengine/protocol"
	"github.com/momentics/netengine/session"
)

// Handler records OnRecv/OnConnected/OnDisconnected calls for assertions.
type Handler struct {
	mu            sync.Mutex
	Recvd         []protocol.Packet
	Connected     []session.ConnectionID
	Disconnected  []session.ConnectionID
}

var _ session.Handler = (*Handler)(nil)

func NewHandler() *Handler { return &Handler{} }

func (h *Handler) OnRecv(id session.ConnectionID, pkt protocol.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Recvd = append(h.Recvd, pkt)
}

func (h *Handler) OnConnected(id session.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Connected = append(h.Connected, id)
}

func (h *Handler) OnDisconnected(id session.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Disconnected = append(h.Disconnected, id)
}

func (h *Handler) RecvCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Recvd)
}
