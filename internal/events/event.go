package events

import (
	"fmt"
	"time"

	"github.com/soltixdb/shardgate/internal/topology"
)

// Kind identifies a topology change
type Kind int

const (
	ClusterChanged Kind = iota + 1
	NodeAdded
	NodeChanged
	NodeRemoved
	InstanceAdded
	InstanceChanged
	InstanceRemoved
	Rehash
)

var kindNames = map[Kind]string{
	ClusterChanged:  "cluster_changed",
	NodeAdded:       "node_added",
	NodeChanged:     "node_changed",
	NodeRemoved:     "node_removed",
	InstanceAdded:   "instance_added",
	InstanceChanged: "instance_changed",
	InstanceRemoved: "instance_removed",
	Rehash:          "rehash",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Category groups kinds by the listener interface that handles them
type Category string

const (
	CategoryCluster  Category = "cluster"
	CategoryNode     Category = "node"
	CategoryInstance Category = "instance"
)

// Category returns the listener category of k
func (k Kind) Category() Category {
	switch k {
	case NodeAdded, NodeChanged, NodeRemoved:
		return CategoryNode
	case InstanceAdded, InstanceChanged, InstanceRemoved:
		return CategoryInstance
	default:
		return CategoryCluster
	}
}

// Event is one queued topology change. Only the payload fields matching
// Kind are set.
type Event struct {
	Kind     Kind
	Cluster  string
	Time     time.Time
	Data     *topology.Cluster
	Node     *topology.Node
	Instance *topology.Instance
	NodeName string
	Name     string // removed node or instance
	Status   topology.RehashStatus
}

func (e Event) String() string {
	switch e.Kind {
	case ClusterChanged:
		return fmt.Sprintf("%s %s", e.Kind, e.Cluster)
	case NodeAdded, NodeChanged:
		return fmt.Sprintf("%s %s/%s", e.Kind, e.Cluster, e.Node.Name())
	case InstanceAdded, InstanceChanged:
		return fmt.Sprintf("%s %s/%s/%s", e.Kind, e.Cluster, e.Instance.NodeName(), e.Instance.Name())
	case NodeRemoved:
		return fmt.Sprintf("%s %s/%s", e.Kind, e.Cluster, e.Name)
	case InstanceRemoved:
		return fmt.Sprintf("%s %s/%s/%s", e.Kind, e.Cluster, e.NodeName, e.Name)
	case Rehash:
		return fmt.Sprintf("%s %s %s", e.Kind, e.Cluster, e.Status)
	}
	return e.Kind.String()
}

func stamp(e Event) Event {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	return e
}

func NewClusterChanged(c *topology.Cluster) Event {
	return stamp(Event{Kind: ClusterChanged, Cluster: c.Name(), Data: c})
}

func NewNodeAdded(cluster string, n *topology.Node) Event {
	return stamp(Event{Kind: NodeAdded, Cluster: cluster, Node: n})
}

func NewNodeChanged(cluster string, n *topology.Node) Event {
	return stamp(Event{Kind: NodeChanged, Cluster: cluster, Node: n})
}

func NewNodeRemoved(cluster, node string) Event {
	return stamp(Event{Kind: NodeRemoved, Cluster: cluster, Name: node})
}

func NewInstanceAdded(cluster string, i *topology.Instance) Event {
	return stamp(Event{Kind: InstanceAdded, Cluster: cluster, Instance: i})
}

func NewInstanceChanged(cluster string, i *topology.Instance) Event {
	return stamp(Event{Kind: InstanceChanged, Cluster: cluster, Instance: i})
}

func NewInstanceRemoved(cluster, node, instance string) Event {
	return stamp(Event{Kind: InstanceRemoved, Cluster: cluster, NodeName: node, Name: instance})
}

func NewRehash(cluster string, status topology.RehashStatus) Event {
	return stamp(Event{Kind: Rehash, Cluster: cluster, Status: status})
}
