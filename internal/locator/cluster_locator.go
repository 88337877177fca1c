package locator

import (
	"fmt"
	"sort"

	"github.com/soltixdb/shardgate/internal/topology"
)

// ClusterLocator is an immutable routing table for one cluster: the active
// nodes at build time and the strategy named by the cluster.
type ClusterLocator struct {
	cluster  string
	strategy topology.ShardStrategy
	nodes    []*topology.Node
	locator  Locator
}

// SortNodes orders nodes by (Start, SecondShardKey, Name)
func SortNodes(nodes []*topology.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		si, _, ki := nodes[i].Range()
		sj, _, kj := nodes[j].Range()
		if si != sj {
			return si < sj
		}
		if ki != kj {
			return ki < kj
		}
		return nodes[i].Name() < nodes[j].Name()
	})
}

// New builds the locator for strategy over nodes as given
func New(strategy topology.ShardStrategy, nodes []*topology.Node) (Locator, error) {
	switch strategy {
	case topology.ShardConsistentHash:
		return NewKetama(nodes), nil
	case topology.ShardMod:
		return NewModulo(nodes), nil
	case topology.ShardRegion:
		return NewRegion(nodes), nil
	case topology.ShardRegionSuffix:
		return NewRegionSuffix(nodes), nil
	case topology.ShardHexPrefixMod:
		return NewHexPrefixMod(nodes), nil
	default:
		return nil, fmt.Errorf("unsupported shard strategy %q", strategy)
	}
}

// NewClusterLocator snapshots the active nodes of cluster and builds its
// strategy
func NewClusterLocator(cluster *topology.Cluster) (*ClusterLocator, error) {
	nodes := cluster.ActiveNodes()
	SortNodes(nodes)

	strategy := cluster.ShardStrategy()
	loc, err := New(strategy, nodes)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", cluster.Name(), err)
	}
	return &ClusterLocator{
		cluster:  cluster.Name(),
		strategy: strategy,
		nodes:    nodes,
		locator:  loc,
	}, nil
}

// NodeFor returns the node owning key
func (l *ClusterLocator) NodeFor(key string) (*topology.Node, error) {
	return l.locator.Locate(key)
}

func (l *ClusterLocator) Strategy() topology.ShardStrategy {
	return l.strategy
}

// Nodes returns the sorted node snapshot the locator was built from
func (l *ClusterLocator) Nodes() []*topology.Node {
	return append([]*topology.Node(nil), l.nodes...)
}

func (l *ClusterLocator) Cluster() string {
	return l.cluster
}

// Locator exposes the underlying strategy
func (l *ClusterLocator) Locator() Locator {
	return l.locator
}
