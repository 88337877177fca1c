package metadata

import "github.com/soltixdb/shardgate/internal/topology"

// ClientsRoot holds the rehash status channels of every cluster
const ClientsRoot = "/clients"

// ClusterPath is /{root}/{cluster}
func ClusterPath(t topology.ClusterType, cluster string) string {
	return JoinPath(t.RootPath(), cluster)
}

// NodePath is /{root}/{cluster}/{node}
func NodePath(t topology.ClusterType, cluster, node string) string {
	return JoinPath(t.RootPath(), cluster, node)
}

// InstancePath is /{root}/{cluster}/{node}/{instance}
func InstancePath(t topology.ClusterType, cluster, node, instance string) string {
	return JoinPath(t.RootPath(), cluster, node, instance)
}

// ControlPath is the persistent rehash control channel of a cluster
func ControlPath(t topology.ClusterType, cluster string) string {
	return JoinPath(ClientsRoot, string(t), cluster)
}

// ClientPath is the ephemeral per-client status channel
func ClientPath(t topology.ClusterType, cluster, client string) string {
	return JoinPath(ClientsRoot, string(t), cluster, client)
}
