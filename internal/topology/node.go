package topology

import (
	"encoding/json"
	"sync"
	"time"
)

// NodeRecord is the persisted form of a Node
type NodeRecord struct {
	ClusterName     string        `json:"clusterName" yaml:"clusterName,omitempty"`
	Name            string        `json:"name" yaml:"name"`
	AddTime         time.Time     `json:"addTime" yaml:"addTime,omitempty"`
	LastModifyTime  time.Time     `json:"lastModifyTime" yaml:"lastModifyTime,omitempty"`
	WriteStrategy   WriteStrategy `json:"writeStrategy" yaml:"writeStrategy,omitempty"`
	ReadStrategy    ReadStrategy  `json:"readStrategy" yaml:"readStrategy,omitempty"`
	Status          NodeStatus    `json:"status" yaml:"status,omitempty"`
	Priority        int           `json:"priority" yaml:"priority,omitempty"`
	Start           int64         `json:"start" yaml:"start"`
	End             int64         `json:"end" yaml:"end"`
	SecondShardKey  int64         `json:"secondShardKey" yaml:"secondShardKey"`
	WarmupBeginTime time.Time     `json:"warmupBeginTime" yaml:"warmupBeginTime,omitempty"`
}

func (r *NodeRecord) applyDefaults() {
	if r.WriteStrategy == "" {
		r.WriteStrategy = WriteMaster
	}
	if r.ReadStrategy == "" {
		r.ReadStrategy = ReadSlaves
	}
	if r.Status == "" {
		r.Status = NodeActive
	}
}

// Node is one logical shard. It owns its instances; the cluster is referenced
// by name only.
type Node struct {
	mu        sync.RWMutex
	rec       NodeRecord
	instances cowList[*Instance]
}

// NewNode creates a node from its record
func NewNode(rec NodeRecord, instances ...*Instance) *Node {
	rec.applyDefaults()
	n := &Node{rec: rec}
	n.instances.reset(instances)
	return n
}

func (n *Node) Record() NodeRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec
}

func (n *Node) Update(fn func(r *NodeRecord)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(&n.rec)
}

func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.Name
}

func (n *Node) ClusterName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.ClusterName
}

func (n *Node) Status() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.Status
}

func (n *Node) SetStatus(status NodeStatus) {
	n.Update(func(r *NodeRecord) { r.Status = status })
}

func (n *Node) IsActive() bool {
	return n.Status() == NodeActive
}

// Range returns [start, end) and the secondary shard key
func (n *Node) Range() (start, end, secondShardKey int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.Start, n.rec.End, n.rec.SecondShardKey
}

func (n *Node) ReadStrategy() ReadStrategy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.ReadStrategy
}

func (n *Node) WriteStrategy() WriteStrategy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rec.WriteStrategy
}

// Instances returns an immutable snapshot in insertion order
func (n *Node) Instances() []*Instance {
	return n.instances.snapshot()
}

func (n *Node) FindInstance(name string) *Instance {
	for _, inst := range n.instances.snapshot() {
		if inst.Name() == name {
			return inst
		}
	}
	return nil
}

func (n *Node) AddInstance(inst *Instance) {
	n.instances.append(inst)
}

// ReplaceInstance swaps the instance with the same name, or appends it
func (n *Node) ReplaceInstance(inst *Instance) {
	name := inst.Name()
	n.instances.replaceOrAppend(inst, func(existing *Instance) bool {
		return existing.Name() == name
	})
}

func (n *Node) RemoveInstance(name string) *Instance {
	removed, _ := n.instances.remove(func(existing *Instance) bool {
		return existing.Name() == name
	})
	return removed
}

func (n *Node) String() string {
	rec := n.Record()
	return rec.ClusterName + "/" + rec.Name
}

func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Record())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var rec NodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.applyDefaults()
	n.mu.Lock()
	n.rec = rec
	n.mu.Unlock()
	return nil
}
