package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/soltixdb/shardgate/internal/topology"
)

// ErrBadData marks a topology tree that cannot be served as stored
var ErrBadData = errors.New("BAD DATA")

// treeLoader reads a cluster subtree. Strict loaders reject duplicate node or
// instance names; lenient ones keep the first occurrence.
type treeLoader struct {
	store  Store
	typ    topology.ClusterType
	strict bool
}

func (l treeLoader) cluster(ctx context.Context, name string, withNodes bool) (*topology.Cluster, error) {
	data, err := l.store.Get(ctx, ClusterPath(l.typ, name))
	if err != nil {
		return nil, err
	}
	cluster, err := topology.DecodeCluster(data)
	if err != nil {
		return nil, err
	}
	if cluster.Name() == "" {
		cluster.Update(func(r *topology.ClusterRecord) { r.Name = name })
	}
	if !withNodes {
		return cluster, nil
	}

	nodeNames, err := l.store.Children(ctx, ClusterPath(l.typ, name))
	if err != nil {
		return nil, err
	}
	for _, nodeKey := range nodeNames {
		node, err := l.node(ctx, name, nodeKey)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if cluster.FindNode(node.Name()) != nil {
			if l.strict {
				return nil, fmt.Errorf("%w: duplicate node name %s", ErrBadData, node.Name())
			}
			continue
		}
		cluster.AddNode(node)
	}
	return cluster, nil
}

func (l treeLoader) node(ctx context.Context, cluster, nodeKey string) (*topology.Node, error) {
	path := NodePath(l.typ, cluster, nodeKey)
	data, err := l.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	node, err := topology.DecodeNode(data)
	if err != nil {
		return nil, err
	}
	node.Update(func(r *topology.NodeRecord) {
		if r.Name == "" {
			r.Name = nodeKey
		}
		r.ClusterName = cluster
	})

	instanceNames, err := l.store.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, instKey := range instanceNames {
		inst, err := l.instance(ctx, cluster, nodeKey, instKey)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if node.FindInstance(inst.Name()) != nil {
			if l.strict {
				return nil, fmt.Errorf("%w: duplicate instance name %s", ErrBadData, inst.Name())
			}
			continue
		}
		node.AddInstance(inst)
	}
	return node, nil
}

func (l treeLoader) instance(ctx context.Context, cluster, nodeKey, instKey string) (*topology.Instance, error) {
	data, err := l.store.Get(ctx, InstancePath(l.typ, cluster, nodeKey, instKey))
	if err != nil {
		return nil, err
	}
	inst, err := topology.DecodeInstance(data)
	if err != nil {
		return nil, err
	}
	inst.Update(func(r *topology.InstanceRecord) {
		if r.Name == "" {
			r.Name = instKey
		}
		r.NodeName = nodeKey
	})
	return inst, nil
}

// LoadCluster reads the full topology of a cluster, rejecting duplicate
// node or instance names
func LoadCluster(ctx context.Context, store Store, t topology.ClusterType, name string) (*topology.Cluster, error) {
	return treeLoader{store: store, typ: t, strict: true}.cluster(ctx, name, true)
}
