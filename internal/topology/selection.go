package topology

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

var (
	// ErrNoWritableInstance is returned when a node has no non-deleted master
	ErrNoWritableInstance = errors.New("no writable instance")

	// ErrNoReadableInstance is returned when the read policy yields nothing
	ErrNoReadableInstance = errors.New("no readable instance")
)

// Selector applies the per-node read/write strategies. The random source is
// injectable so tests can pin shuffles and picks.
type Selector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSelector creates a selector over the given random source. A nil source
// falls back to a randomly seeded one.
func NewSelector(src rand.Source) *Selector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{rnd: rand.New(src)}
}

var defaultSelector = NewSelector(nil)

func (s *Selector) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

func (s *Selector) shuffle(list []*Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
}

// Masters returns the non-deleted instances with role MASTER or ALL
func Masters(node *Node) []*Instance {
	return withRole(node, RoleMaster)
}

// Slaves returns the non-deleted instances with role SLAVE or ALL
func Slaves(node *Node) []*Instance {
	return withRole(node, RoleSlave)
}

func withRole(node *Node, expected Role) []*Instance {
	var out []*Instance
	for _, inst := range node.Instances() {
		if inst.Status() == InstanceDeleted {
			continue
		}
		if r := inst.Role(); r == RoleAll || r == expected {
			out = append(out, inst)
		}
	}
	return out
}

// ActiveInstances returns every instance that is not DELETED
func ActiveInstances(node *Node) []*Instance {
	var out []*Instance
	for _, inst := range node.Instances() {
		if inst.Status() != InstanceDeleted {
			out = append(out, inst)
		}
	}
	return out
}

// AliveInstances returns the instances connection initialization should
// cover. It shares the DELETED-only exclusion with ActiveInstances.
func AliveInstances(node *Node) []*Instance {
	var out []*Instance
	for _, inst := range node.Instances() {
		if inst.IsAlive() {
			out = append(out, inst)
		}
	}
	return out
}

// WriteInstances picks the write targets of node per its write strategy
func (s *Selector) WriteInstances(node *Node) ([]*Instance, error) {
	masters := Masters(node)
	if len(masters) == 0 {
		return nil, fmt.Errorf("node %s: %w", node, ErrNoWritableInstance)
	}

	switch node.WriteStrategy() {
	case WriteMultiMaster:
		return masters, nil
	case WriteRandom:
		return []*Instance{masters[s.intN(len(masters))]}, nil
	default:
		return masters[:1], nil
	}
}

// ReadInstances returns the ordered read candidates of node per its read
// strategy. SLAVES always ends with one writer so reads survive the loss of
// every slave.
func (s *Selector) ReadInstances(node *Node) ([]*Instance, error) {
	var out []*Instance

	switch node.ReadStrategy() {
	case ReadMaster:
		writers, err := s.WriteInstances(node)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node, ErrNoReadableInstance)
		}
		out = writers
	case ReadRandom:
		out = ActiveInstances(node)
		if len(out) > 1 {
			s.shuffle(out)
		}
	default:
		out = Slaves(node)
		if len(out) > 1 {
			s.shuffle(out)
		}
		if writers, err := s.WriteInstances(node); err == nil {
			out = append(out, writers[s.intN(len(writers))])
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("node %s: %w", node, ErrNoReadableInstance)
	}
	return out, nil
}

// WriteInstances uses the package default selector
func WriteInstances(node *Node) ([]*Instance, error) {
	return defaultSelector.WriteInstances(node)
}

// ReadInstances uses the package default selector
func ReadInstances(node *Node) ([]*Instance, error) {
	return defaultSelector.ReadInstances(node)
}
