package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// ErrClusterHasClients is returned when deleting a cluster that still has
// registered clients
var ErrClusterHasClients = errors.New("cluster has clients")

// ClusterManager reads and writes the topology tree of one cluster type
type ClusterManager struct {
	store  Store
	typ    topology.ClusterType
	status *StatusManager
	names  *Cache[[]string]
	logger *logging.Logger
}

// NewClusterManager creates a manager rooted at t.RootPath()
func NewClusterManager(store Store, t topology.ClusterType, logger *logging.Logger) *ClusterManager {
	return &ClusterManager{
		store:  store,
		typ:    t,
		status: NewStatusManager(store, logger),
		names:  NewCache[[]string](2 * time.Second),
		logger: logger,
	}
}

func (m *ClusterManager) Type() topology.ClusterType {
	return m.typ
}

// Status returns the rehash status manager sharing this manager's store
func (m *ClusterManager) Status() *StatusManager {
	return m.status
}

// EnsureRoot creates the type root when missing
func (m *ClusterManager) EnsureRoot(ctx context.Context) error {
	if _, err := m.store.Create(ctx, m.typ.RootPath(), []byte(m.typ)); err != nil {
		return fmt.Errorf("failed to create cluster root %s: %w", m.typ.RootPath(), err)
	}
	return nil
}

func (m *ClusterManager) loader() treeLoader {
	return treeLoader{store: m.store, typ: m.typ}
}

// FindCluster returns the named cluster, optionally with its nodes and
// instances. A missing cluster yields ErrNotFound.
func (m *ClusterManager) FindCluster(ctx context.Context, name string, withNodes bool) (*topology.Cluster, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty cluster name", ErrNotFound)
	}
	return m.loader().cluster(ctx, name, withNodes)
}

// FindClusterNames lists cluster names accepted by match (all when nil)
func (m *ClusterManager) FindClusterNames(ctx context.Context, match func(string) bool) ([]string, error) {
	all, ok := m.names.Get(m.typ.RootPath())
	if !ok {
		var err error
		all, err = m.store.Children(ctx, m.typ.RootPath())
		if err != nil {
			return nil, err
		}
		m.names.Set(m.typ.RootPath(), all)
	}

	names := make([]string, 0, len(all))
	for _, name := range all {
		if match == nil || match(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// FindClusters returns the clusters whose whole name matches pattern
func (m *ClusterManager) FindClusters(ctx context.Context, pattern *regexp.Regexp, withNodes bool) ([]*topology.Cluster, error) {
	return m.findClusters(ctx, -1, withNodes, func(name string) bool {
		loc := pattern.FindStringIndex(name)
		return loc != nil && loc[0] == 0 && loc[1] == len(name)
	})
}

// FindClustersByPrefix returns up to limit clusters (all when limit <= 0)
// whose name starts with prefix, with nodes
func (m *ClusterManager) FindClustersByPrefix(ctx context.Context, prefix string, limit int) ([]*topology.Cluster, error) {
	return m.findClusters(ctx, limit, true, func(name string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

func (m *ClusterManager) findClusters(ctx context.Context, limit int, withNodes bool, match func(string) bool) ([]*topology.Cluster, error) {
	names, err := m.FindClusterNames(ctx, match)
	if err != nil {
		return nil, err
	}

	clusters := make([]*topology.Cluster, 0, len(names))
	for _, name := range names {
		cluster, err := m.loader().cluster(ctx, name, withNodes)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		clusters = append(clusters, cluster)
		if limit > 0 && len(clusters) >= limit {
			break
		}
	}
	return clusters, nil
}

// SaveCluster creates or overwrites the cluster record. Nodes are not
// written.
func (m *ClusterManager) SaveCluster(ctx context.Context, cluster *topology.Cluster) error {
	rec := cluster.Record()
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("cluster name is required")
	}
	rec.Type = m.typ
	if err := m.putJSON(ctx, ClusterPath(m.typ, rec.Name), rec); err != nil {
		return err
	}
	m.names.Delete(m.typ.RootPath())
	return nil
}

// SaveNode creates or overwrites a node record, creating an empty cluster
// record when the cluster does not exist yet
func (m *ClusterManager) SaveNode(ctx context.Context, cluster string, node *topology.Node) error {
	rec := node.Record()
	if strings.TrimSpace(cluster) == "" || strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("cluster and node names are required")
	}
	rec.ClusterName = cluster

	if err := m.ensureCluster(ctx, cluster); err != nil {
		return err
	}
	return m.putJSON(ctx, NodePath(m.typ, cluster, rec.Name), rec)
}

// SaveInstance creates or overwrites an instance record, creating its node
// (and cluster) when missing
func (m *ClusterManager) SaveInstance(ctx context.Context, cluster string, inst *topology.Instance) error {
	rec := inst.Record()
	if strings.TrimSpace(cluster) == "" || strings.TrimSpace(rec.NodeName) == "" || strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("cluster, node and instance names are required")
	}

	nodePath := NodePath(m.typ, cluster, rec.NodeName)
	exists, err := m.store.Exists(ctx, nodePath)
	if err != nil {
		return err
	}
	if !exists {
		now := time.Now().UTC()
		node := topology.NewNode(topology.NodeRecord{
			ClusterName:    cluster,
			Name:           rec.NodeName,
			AddTime:        now,
			LastModifyTime: now,
		})
		if err := m.SaveNode(ctx, cluster, node); err != nil {
			return err
		}
	}
	return m.putJSON(ctx, InstancePath(m.typ, cluster, rec.NodeName, rec.Name), rec)
}

func (m *ClusterManager) ensureCluster(ctx context.Context, cluster string) error {
	data, err := json.Marshal(topology.NewCluster(topology.ClusterRecord{Name: cluster, Type: m.typ}).Record())
	if err != nil {
		return fmt.Errorf("failed to marshal cluster: %w", err)
	}
	created, err := m.store.Create(ctx, ClusterPath(m.typ, cluster), data)
	if err != nil {
		return err
	}
	if created {
		m.names.Delete(m.typ.RootPath())
	}
	return nil
}

func (m *ClusterManager) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return m.store.Put(ctx, key, data)
}

// FindNode returns a node with its instances
func (m *ClusterManager) FindNode(ctx context.Context, cluster, node string) (*topology.Node, error) {
	return m.loader().node(ctx, cluster, node)
}

// FindNodes returns every node of cluster with instances
func (m *ClusterManager) FindNodes(ctx context.Context, cluster string) ([]*topology.Node, error) {
	c, err := m.loader().cluster(ctx, cluster, true)
	if err != nil {
		return nil, err
	}
	return c.Nodes(), nil
}

func (m *ClusterManager) FindInstance(ctx context.Context, cluster, node, instance string) (*topology.Instance, error) {
	return m.loader().instance(ctx, cluster, node, instance)
}

func (m *ClusterManager) FindInstances(ctx context.Context, cluster, node string) ([]*topology.Instance, error) {
	n, err := m.loader().node(ctx, cluster, node)
	if err != nil {
		return nil, err
	}
	return n.Instances(), nil
}

// DeleteInstance removes one instance record
func (m *ClusterManager) DeleteInstance(ctx context.Context, cluster, node, instance string) error {
	path := InstancePath(m.typ, cluster, node, instance)
	if err := m.mustExist(ctx, path); err != nil {
		return err
	}
	return m.store.Delete(ctx, path, false)
}

// DeleteNode removes a node and its instances
func (m *ClusterManager) DeleteNode(ctx context.Context, cluster, node string) error {
	path := NodePath(m.typ, cluster, node)
	if err := m.mustExist(ctx, path); err != nil {
		return err
	}
	return m.store.Delete(ctx, path, true)
}

// DeleteCluster removes the whole cluster tree. It is refused while any
// client is registered on the cluster's status channel.
func (m *ClusterManager) DeleteCluster(ctx context.Context, cluster string) error {
	m.logger.Info("Deleting cluster", "cluster", cluster, "type", string(m.typ))

	clients, err := m.status.ClientStatuses(ctx, m.typ, cluster)
	if err != nil {
		return err
	}
	if len(clients) > 0 {
		return fmt.Errorf("%w: not allowed to delete the cluster %s, it has clients %v", ErrClusterHasClients, cluster, clients)
	}

	path := ClusterPath(m.typ, cluster)
	if err := m.mustExist(ctx, path); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, path, true); err != nil {
		return err
	}
	m.names.Delete(m.typ.RootPath())
	return nil
}

func (m *ClusterManager) mustExist(ctx context.Context, path string) error {
	ok, err := m.store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil
}
