package locator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/soltixdb/shardgate/internal/topology"
)

// Region routes numeric keys to the first active node whose [Start, End)
// range contains abs(key). When suffix is set the node's SecondShardKey must
// also equal abs(key) mod 10.
type Region struct {
	mu        sync.Mutex
	suffix    bool
	all       atomic.Pointer[[]*topology.Node]
	available atomic.Pointer[[]*topology.Node]
}

// NewRegion creates a range locator over nodes
func NewRegion(nodes []*topology.Node) *Region {
	r := &Region{}
	r.reset(nodes)
	return r
}

// NewRegionSuffix creates a range locator that also matches the key's last
// decimal digit against SecondShardKey
func NewRegionSuffix(nodes []*topology.Node) *Region {
	r := &Region{suffix: true}
	r.reset(nodes)
	return r
}

func (r *Region) reset(nodes []*topology.Node) {
	all := append([]*topology.Node(nil), nodes...)
	avail := append([]*topology.Node(nil), nodes...)
	r.all.Store(&all)
	r.available.Store(&avail)
}

func load(p *atomic.Pointer[[]*topology.Node]) []*topology.Node {
	if v := p.Load(); v != nil {
		return *v
	}
	return nil
}

func (r *Region) Locate(key string) (*topology.Node, error) {
	k, err := numericKey(key)
	if err != nil {
		return nil, err
	}
	if len(load(&r.available)) == 0 {
		return nil, fmt.Errorf("%w: no available nodes for key %s", ErrNodeNotFound, key)
	}

	for _, node := range load(&r.all) {
		start, end, second := node.Range()
		if k < start || k >= end {
			continue
		}
		if r.suffix {
			// range plus suffix is a complete address; status is not consulted
			if second == k%10 {
				return node, nil
			}
			continue
		}
		if node.IsActive() {
			return node, nil
		}
	}
	return nil, fmt.Errorf("%w: no range covers key %s", ErrNodeNotFound, key)
}

func (r *Region) AddNode(node *topology.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	avail := load(&r.available)
	if indexOf(avail, node) >= 0 {
		return nil
	}
	next := make([]*topology.Node, 0, len(avail)+1)
	next = append(next, avail...)
	next = append(next, node)
	r.available.Store(&next)
	return nil
}

// RemoveNode drops node from the available view, keeping at least one node
func (r *Region) RemoveNode(node *topology.Node, skipProbe bool) error {
	if skipProbe {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available.Store(removeGuarded(load(&r.available), node))
	return nil
}

func (r *Region) ReplaceAll(nodes []*topology.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset(nodes)
}
