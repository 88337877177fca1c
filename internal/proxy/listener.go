package proxy

import (
	"github.com/soltixdb/shardgate/internal/topology"
)

// The StoreProxy is the first listener of its own dispatcher and applies
// every topology event to the served cluster. All methods hold mu.

func (p *StoreProxy) ClusterDataChanged(c *topology.Cluster) {
	p.mu.Lock()
	defer p.mu.Unlock()

	served := p.cluster.Load()
	next := c.Record()
	if next.ShardStrategy != served.ShardStrategy() {
		p.logger.Warn("Shard strategy change is not applied live, run a rehash",
			"current", string(served.ShardStrategy()), "requested", string(next.ShardStrategy))
	}
	served.Update(func(r *topology.ClusterRecord) {
		r.AddTime = next.AddTime
		r.LastModifyTime = next.LastModifyTime
		r.Name = next.Name
		r.Status = next.Status
		r.NodeWarmupDurationSec = next.NodeWarmupDurationSec
	})
	p.logger.Info("Cluster updated", "status", string(next.Status))
}

func (p *StoreProxy) NodeAdded(n *topology.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cluster := p.cluster.Load()
	if cluster.FindNode(n.Name()) != nil {
		return
	}
	cluster.AddNode(n)
	p.logger.Info("Node added", "node", n.Name(), "status", string(n.Status()))
}

func (p *StoreProxy) NodeDataChanged(n *topology.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cluster := p.cluster.Load()
	existing := cluster.FindNode(n.Name())
	if existing == nil {
		p.logger.Warn("Changed node is unknown, adding it", "node", n.Name())
		cluster.AddNode(n)
		return
	}

	wasStatus := existing.Status()
	next := n.Record()
	existing.Update(func(r *topology.NodeRecord) {
		r.AddTime = next.AddTime
		r.LastModifyTime = next.LastModifyTime
		r.ReadStrategy = next.ReadStrategy
		r.WriteStrategy = next.WriteStrategy
		r.Status = next.Status
		r.Priority = next.Priority
		r.Start = next.Start
		r.End = next.End
		r.SecondShardKey = next.SecondShardKey
		r.WarmupBeginTime = next.WarmupBeginTime
	})

	if wasStatus != topology.NodeActive && next.Status == topology.NodeActive {
		p.initNodePools(p.ctx, existing)
	}
	if wasStatus != next.Status {
		p.logger.Info("Node status changed", "node", n.Name(), "from", string(wasStatus), "to", string(next.Status))
		p.rebuildLocator()
	}
}

func (p *StoreProxy) NodeDeleted(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := p.cluster.Load().RemoveNode(name)
	if removed == nil {
		return
	}
	for _, inst := range removed.Instances() {
		p.registry.Remove(inst.Endpoint())
	}
	p.rebuildLocator()
	p.logger.Info("Node removed", "node", name)
}

func (p *StoreProxy) InstanceAdded(inst *topology.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.cluster.Load().FindNode(inst.NodeName())
	if node == nil {
		p.logger.Warn("Instance added to unknown node", "node", inst.NodeName(), "instance", inst.Name())
		return
	}
	p.addInstance(node, inst)
}

// addInstance builds the pool before the instance becomes selectable
func (p *StoreProxy) addInstance(node *topology.Node, inst *topology.Instance) {
	if inst.IsAlive() {
		if err := p.registry.Init(p.ctx, inst, false); err != nil {
			p.logger.Error("Failed to create pool", "node", node.Name(), "instance", inst.Name(), "error", err)
		}
	}
	node.ReplaceInstance(inst)
	p.logger.Info("Instance added", "node", node.Name(), "instance", inst.Name(), "endpoint", inst.Endpoint())
}

func (p *StoreProxy) InstanceDataChanged(inst *topology.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.cluster.Load().FindNode(inst.NodeName())
	if node == nil {
		p.logger.Warn("Instance changed on unknown node", "node", inst.NodeName(), "instance", inst.Name())
		return
	}
	existing := node.FindInstance(inst.Name())
	if existing == nil {
		p.addInstance(node, inst)
		return
	}

	prev := existing.Record()
	next := inst.Record()
	existing.Update(func(r *topology.InstanceRecord) {
		r.AddTime = next.AddTime
		r.LastModifyTime = next.LastModifyTime
		r.MSStatus = next.MSStatus
		r.Status = next.Status
		r.HostName = next.HostName
		r.ReplicationState = next.ReplicationState
		r.Priority = next.Priority
	})

	switch {
	case prev.Endpoint() != next.Endpoint():
		// new pool first so the instance never points at a missing handle
		if next.Status != topology.InstanceDeleted {
			if err := p.registry.Init(p.ctx, inst, false); err != nil {
				p.logger.Error("Failed to create pool for moved instance", "instance", inst.Name(), "endpoint", next.Endpoint(), "error", err)
			}
		}
		existing.Update(func(r *topology.InstanceRecord) {
			r.Domain = next.Domain
			r.Port = next.Port
		})
		p.registry.Remove(prev.Endpoint())
		p.logger.Info("Instance moved", "instance", inst.Name(), "from", prev.Endpoint(), "to", next.Endpoint())

	case prev.Status != next.Status && next.Status != topology.InstanceDeleted:
		if err := p.registry.Init(p.ctx, existing, true); err != nil {
			p.logger.Error("Failed to rebuild pool", "instance", inst.Name(), "error", err)
		}
		p.logger.Info("Instance status changed", "instance", inst.Name(), "from", string(prev.Status), "to", string(next.Status))

	case next.Status == topology.InstanceDeleted:
		if p.registry.Remove(prev.Endpoint()) {
			p.logger.Info("Instance deleted", "instance", inst.Name(), "endpoint", prev.Endpoint())
		}
	}
}

func (p *StoreProxy) InstanceDeleted(nodeName, instanceName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.cluster.Load().FindNode(nodeName)
	if node == nil {
		return
	}
	removed := node.RemoveInstance(instanceName)
	if removed == nil {
		return
	}
	p.registry.Remove(removed.Endpoint())
	p.logger.Info("Instance removed", "node", nodeName, "instance", instanceName)
}
