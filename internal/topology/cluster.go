package topology

import (
	"encoding/json"
	"sync"
	"time"
)

// ClusterRecord is the persisted form of a Cluster
type ClusterRecord struct {
	Name                  string        `json:"name" yaml:"name"`
	AddTime               time.Time     `json:"addTime" yaml:"addTime,omitempty"`
	LastModifyTime        time.Time     `json:"lastModifyTime" yaml:"lastModifyTime,omitempty"`
	Status                ClusterStatus `json:"status" yaml:"status,omitempty"`
	ShardStrategy         ShardStrategy `json:"shardStrategy" yaml:"shardStrategy,omitempty"`
	Type                  ClusterType   `json:"clusterType" yaml:"clusterType,omitempty"`
	NodeWarmupDurationSec int           `json:"nodeWarmupDurationSec" yaml:"nodeWarmupDurationSec,omitempty"`
}

func (r *ClusterRecord) applyDefaults() {
	if r.Status == "" {
		r.Status = ClusterNormal
	}
	if r.ShardStrategy == "" {
		r.ShardStrategy = ShardConsistentHash
	}
	if r.Type == "" {
		r.Type = TypeRedis
	}
}

// Cluster is the ownership root of the topology graph
type Cluster struct {
	mu    sync.RWMutex
	rec   ClusterRecord
	nodes cowList[*Node]
}

// NewCluster creates a cluster from its record
func NewCluster(rec ClusterRecord, nodes ...*Node) *Cluster {
	rec.applyDefaults()
	c := &Cluster{rec: rec}
	c.nodes.reset(nodes)
	return c
}

func (c *Cluster) Record() ClusterRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec
}

func (c *Cluster) Update(fn func(r *ClusterRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.rec)
}

func (c *Cluster) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec.Name
}

func (c *Cluster) Status() ClusterStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec.Status
}

func (c *Cluster) ShardStrategy() ShardStrategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec.ShardStrategy
}

func (c *Cluster) Type() ClusterType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec.Type
}

// Nodes returns an immutable snapshot in insertion order
func (c *Cluster) Nodes() []*Node {
	return c.nodes.snapshot()
}

// ActiveNodes returns the ACTIVE nodes in insertion order
func (c *Cluster) ActiveNodes() []*Node {
	all := c.nodes.snapshot()
	active := make([]*Node, 0, len(all))
	for _, n := range all {
		if n.IsActive() {
			active = append(active, n)
		}
	}
	return active
}

func (c *Cluster) FindNode(name string) *Node {
	for _, n := range c.nodes.snapshot() {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

func (c *Cluster) AddNode(n *Node) {
	c.nodes.append(n)
}

// ReplaceNode swaps the node with the same name, or appends it
func (c *Cluster) ReplaceNode(n *Node) {
	name := n.Name()
	c.nodes.replaceOrAppend(n, func(existing *Node) bool {
		return existing.Name() == name
	})
}

// RemoveNode detaches the named node and marks it CLOSED
func (c *Cluster) RemoveNode(name string) *Node {
	removed, ok := c.nodes.remove(func(existing *Node) bool {
		return existing.Name() == name
	})
	if !ok {
		return nil
	}
	removed.SetStatus(NodeClosed)
	return removed
}

func (c *Cluster) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Record())
}

func (c *Cluster) UnmarshalJSON(data []byte) error {
	var rec ClusterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.applyDefaults()
	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()
	return nil
}
