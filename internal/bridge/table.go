// Package bridge wires a mesh gateway (internal/meshsdk) to an IPv6 TUN
// interface (internal/netiface), maintaining one SinkEndpoint per
// attached sink and forwarding IPv6 traffic in both directions.
package bridge

import (
	"sync"
)

// sinkTable indexes attached sinks both by their SDK id and by their
// derived mesh sink address, so inbound mesh frames (keyed by sink id)
// and outbound TUN packets (keyed by the destination's sink-address
// bits) can both resolve an endpoint in O(1).
type sinkTable struct {
	mu     sync.RWMutex
	byID   map[string]*SinkEndpoint
	byAddr map[uint32]*SinkEndpoint
}

func newSinkTable() *sinkTable {
	return &sinkTable{
		byID:   make(map[string]*SinkEndpoint),
		byAddr: make(map[uint32]*SinkEndpoint),
	}
}

func (t *sinkTable) put(e *SinkEndpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[e.sinkID] = e
	t.byAddr[e.sinkAddr] = e
}

func (t *sinkTable) removeByID(id string) (*SinkEndpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	delete(t.byAddr, e.sinkAddr)
	return e, true
}

func (t *sinkTable) getByID(id string) (*SinkEndpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e, ok
}

func (t *sinkTable) getByAddr(addr uint32) (*SinkEndpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byAddr[addr]
	return e, ok
}

func (t *sinkTable) list() []*SinkEndpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*SinkEndpoint, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, e)
	}
	return out
}
