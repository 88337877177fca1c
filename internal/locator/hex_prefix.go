package locator

import (
	"fmt"
	"sync/atomic"

	"github.com/soltixdb/shardgate/internal/topology"
)

// HexPrefixMod routes keys by the value of their first hex digit modulo the
// node count. The node set is fixed between ReplaceAll calls.
type HexPrefixMod struct {
	nodes atomic.Pointer[[]*topology.Node]
}

// NewHexPrefixMod creates a hex-prefix locator over nodes
func NewHexPrefixMod(nodes []*topology.Node) *HexPrefixMod {
	h := &HexPrefixMod{}
	h.ReplaceAll(nodes)
	return h
}

func hexValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	}
	return 0, false
}

func (h *HexPrefixMod) Locate(key string) (*topology.Node, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key must not be blank", ErrInvalidKey)
	}
	v, ok := hexValue(key[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q does not start with a hex digit", ErrInvalidKey, key)
	}
	nodes := load(&h.nodes)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes for key %s", ErrNodeNotFound, key)
	}
	return nodes[v%len(nodes)], nil
}

func (h *HexPrefixMod) AddNode(*topology.Node) error {
	return fmt.Errorf("%w: hex prefix mod cannot add nodes", ErrUnsupported)
}

func (h *HexPrefixMod) RemoveNode(_ *topology.Node, skipProbe bool) error {
	if skipProbe {
		return nil
	}
	return fmt.Errorf("%w: hex prefix mod cannot remove nodes", ErrUnsupported)
}

func (h *HexPrefixMod) ReplaceAll(nodes []*topology.Node) {
	next := append([]*topology.Node(nil), nodes...)
	h.nodes.Store(&next)
}
