package events

import "github.com/soltixdb/shardgate/internal/topology"

// ClusterListener receives cluster-level changes and rehash commands
type ClusterListener interface {
	ClusterDataChanged(c *topology.Cluster)
	ClusterRehash(status topology.RehashStatus)
}

// NodeListener receives node changes
type NodeListener interface {
	NodeAdded(n *topology.Node)
	NodeDataChanged(n *topology.Node)
	NodeDeleted(name string)
}

// InstanceListener receives instance changes
type InstanceListener interface {
	InstanceAdded(i *topology.Instance)
	InstanceDataChanged(i *topology.Instance)
	InstanceDeleted(nodeName, instanceName string)
}

// Observer sees every delivered event after the listeners ran
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
