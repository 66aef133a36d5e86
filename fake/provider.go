// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package fake provides in-memory test doubles for the engine's external
// collaborators (AsyncIOProvider, IDatabase), grounded on the teacher's
// fake/ package convention of hand-rolled fakes over real driver wrappers.
package fake

import (
	"sync"

	"github.com/momentics/netengine/ioprovider"
)

// Provider is a synchronous, in-memory AsyncIOProvider double: SendAsync
// and RecvAsync return immediately (not pending); SendAsync records a copy
// of each buffer, RecvAsync records nothing. This lets session/engine
// tests exercise queue draining without a real socket or completion thread.
type Provider struct {
	mu    sync.Mutex
	Sent  [][]byte
	Fail  bool // when true, SendAsync/RecvAsync report OperationFailed
}

var _ ioprovider.Provider = (*Provider)(nil)

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Initialize(queueDepth, maxConcurrent int) error { return nil }
func (p *Provider) Shutdown() error                                { return nil }
func (p *Provider) RegisterBuffer(ptr []byte) (int, error)         { return -1, nil }

func (p *Provider) SendAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if p.Fail {
		return &ioprovider.ProviderError{Code: ioprovider.ErrOperationFailed, Msg: "fake send failure"}
	}
	p.mu.Lock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.Sent = append(p.Sent, cp)
	p.mu.Unlock()
	return nil
}

func (p *Provider) RecvAsync(socket uintptr, buf []byte, context uint64, flags int) error {
	if p.Fail {
		return &ioprovider.ProviderError{Code: ioprovider.ErrOperationFailed, Msg: "fake recv failure"}
	}
	return nil
}

func (p *Provider) FlushRequests() error { return nil }

func (p *Provider) ProcessCompletions(out []ioprovider.CompletionEntry, timeoutMs int) (int, error) {
	return 0, nil
}

func (p *Provider) Stats() ioprovider.ProviderStats { return ioprovider.ProviderStats{} }
func (p *Provider) LastError() string               { return "" }

// SentCount returns how many sends have been recorded so far.
func (p *Provider) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}
