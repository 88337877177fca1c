package locator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/soltixdb/shardgate/internal/topology"
)

// Modulo routes numeric keys by abs(key) mod len(available).
//
// all is the fixed, order-preserving node list; available is a copy-on-write
// view over it. The last available node is never removed.
type Modulo struct {
	mu        sync.Mutex
	all       []*topology.Node
	available atomic.Pointer[[]*topology.Node]
}

// NewModulo creates a modulo locator over nodes
func NewModulo(nodes []*topology.Node) *Modulo {
	m := &Modulo{}
	m.reset(nodes)
	return m
}

func (m *Modulo) reset(nodes []*topology.Node) {
	m.all = append([]*topology.Node(nil), nodes...)
	avail := append([]*topology.Node(nil), nodes...)
	m.available.Store(&avail)
}

func (m *Modulo) snapshot() []*topology.Node {
	if p := m.available.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Modulo) Locate(key string) (*topology.Node, error) {
	k, err := numericKey(key)
	if err != nil {
		return nil, err
	}
	avail := m.snapshot()
	if len(avail) == 0 {
		return nil, fmt.Errorf("%w: no available nodes for key %s", ErrNodeNotFound, key)
	}
	return avail[k%int64(len(avail))], nil
}

// AddNode re-inserts a known node at its original position
func (m *Modulo) AddNode(node *topology.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := indexOf(m.all, node)
	avail := m.snapshot()
	if pos < 0 || indexOf(avail, node) >= 0 {
		return nil
	}

	next := make([]*topology.Node, 0, len(avail)+1)
	if pos < len(avail) {
		next = append(next, avail[:pos]...)
		next = append(next, m.all[pos])
		next = append(next, avail[pos:]...)
	} else {
		next = append(next, avail...)
		next = append(next, m.all[pos])
	}
	m.available.Store(&next)
	return nil
}

// RemoveNode drops node from the available view. The view never shrinks
// below one node, so a lone survivor keeps owning every key instead of the
// cluster going dark.
func (m *Modulo) RemoveNode(node *topology.Node, skipProbe bool) error {
	if skipProbe {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	avail := m.snapshot()
	m.available.Store(removeGuarded(avail, node))
	return nil
}

func (m *Modulo) ReplaceAll(nodes []*topology.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(nodes)
}

// Available returns the current available view
func (m *Modulo) Available() []*topology.Node {
	return m.snapshot()
}
