package locator

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/soltixdb/shardgate/internal/topology"
)

var (
	// ErrNodeNotFound is returned when no node owns a key
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnsupported is returned by strategies that cannot mutate their node set
	ErrUnsupported = errors.New("operation not supported by locator")

	// ErrInvalidKey is returned for keys the strategy cannot interpret
	ErrInvalidKey = errors.New("invalid hash key")
)

// Locator maps a key to a shard node. Implementations only consider the nodes
// handed to them and must allow Locate concurrently with ReplaceAll.
type Locator interface {
	// Locate returns the node owning key
	Locate(key string) (*topology.Node, error)

	// AddNode adds node to the candidate set
	AddNode(node *topology.Node) error

	// RemoveNode removes node from the candidate set. A removal with
	// skipProbe set was not confirmed by a liveness probe and is ignored.
	RemoveNode(node *topology.Node, skipProbe bool) error

	// ReplaceAll rebuilds the strategy from scratch
	ReplaceAll(nodes []*topology.Node)
}

// numericKey parses key as a signed 64-bit integer and returns its absolute
// value
func numericKey(key string) (int64, error) {
	v, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidKey, key)
	}
	if v == math.MinInt64 {
		return 0, fmt.Errorf("%w: %q has no absolute value", ErrInvalidKey, key)
	}
	if v < 0 {
		v = -v
	}
	return v, nil
}

func indexOf(nodes []*topology.Node, node *topology.Node) int {
	name := node.Name()
	for i, n := range nodes {
		if n == node || n.Name() == name {
			return i
		}
	}
	return -1
}

// removeGuarded returns a copy of nodes without node. The list is returned
// unchanged when node is absent or is the only entry.
func removeGuarded(nodes []*topology.Node, node *topology.Node) *[]*topology.Node {
	idx := indexOf(nodes, node)
	if len(nodes) <= 1 || idx < 0 {
		return &nodes
	}
	next := make([]*topology.Node, 0, len(nodes)-1)
	next = append(next, nodes[:idx]...)
	next = append(next, nodes[idx+1:]...)
	return &next
}
