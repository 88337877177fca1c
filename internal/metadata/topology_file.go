package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soltixdb/shardgate/internal/topology"
	"gopkg.in/yaml.v3"
)

// TopologyFile is the document form of one cluster, used by clusterctl
// apply/show and the admin API
type TopologyFile struct {
	Cluster topology.ClusterRecord `json:"cluster" yaml:"cluster"`
	Nodes   []NodeSpec             `json:"nodes" yaml:"nodes"`
}

// NodeSpec is a node record with its instances
type NodeSpec struct {
	topology.NodeRecord `yaml:",inline"`
	Instances           []topology.InstanceRecord `json:"instances" yaml:"instances"`
}

// ParseTopologyFile decodes and validates a YAML topology document
func ParseTopologyFile(data []byte) (*TopologyFile, error) {
	var f TopologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse topology file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate normalizes enum spellings and checks names and ranges
func (f *TopologyFile) Validate() error {
	c := &f.Cluster
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("cluster name is required")
	}
	if c.ShardStrategy != "" {
		s, err := topology.ParseShardStrategy(string(c.ShardStrategy))
		if err != nil {
			return err
		}
		c.ShardStrategy = s
	}
	if c.Status != "" {
		s, err := topology.ParseClusterStatus(string(c.Status))
		if err != nil {
			return err
		}
		c.Status = s
	}

	seen := make(map[string]bool, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("node %d of cluster %s has no name", i, c.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate node %s in cluster %s", n.Name, c.Name)
		}
		seen[n.Name] = true
		if n.End < n.Start {
			return fmt.Errorf("node %s: end %d is before start %d", n.Name, n.End, n.Start)
		}
		if err := normalizeNode(&n.NodeRecord); err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}

		instances := make(map[string]bool, len(n.Instances))
		for j := range n.Instances {
			inst := &n.Instances[j]
			if strings.TrimSpace(inst.Name) == "" || strings.TrimSpace(inst.Domain) == "" || inst.Port <= 0 {
				return fmt.Errorf("node %s: instance %d needs name, domain and port", n.Name, j)
			}
			if instances[inst.Name] {
				return fmt.Errorf("node %s: duplicate instance %s", n.Name, inst.Name)
			}
			instances[inst.Name] = true
			if err := normalizeInstance(inst); err != nil {
				return fmt.Errorf("instance %s/%s: %w", n.Name, inst.Name, err)
			}
		}
	}
	return nil
}

func normalizeNode(r *topology.NodeRecord) error {
	if r.Status != "" {
		s, err := topology.ParseNodeStatus(string(r.Status))
		if err != nil {
			return err
		}
		r.Status = s
	}
	if r.ReadStrategy != "" {
		s, err := topology.ParseReadStrategy(string(r.ReadStrategy))
		if err != nil {
			return err
		}
		r.ReadStrategy = s
	}
	if r.WriteStrategy != "" {
		s, err := topology.ParseWriteStrategy(string(r.WriteStrategy))
		if err != nil {
			return err
		}
		r.WriteStrategy = s
	}
	return nil
}

func normalizeInstance(r *topology.InstanceRecord) error {
	if r.Status != "" {
		s, err := topology.ParseInstanceStatus(string(r.Status))
		if err != nil {
			return err
		}
		r.Status = s
	}
	if r.MSStatus != "" {
		s, err := topology.ParseRole(string(r.MSStatus))
		if err != nil {
			return err
		}
		r.MSStatus = s
	}
	return nil
}

// ExportTopology converts a loaded cluster into its document form
func ExportTopology(c *topology.Cluster) *TopologyFile {
	f := &TopologyFile{Cluster: c.Record(), Nodes: make([]NodeSpec, 0)}
	for _, n := range c.Nodes() {
		spec := NodeSpec{NodeRecord: n.Record(), Instances: make([]topology.InstanceRecord, 0)}
		for _, inst := range n.Instances() {
			spec.Instances = append(spec.Instances, inst.Record())
		}
		f.Nodes = append(f.Nodes, spec)
	}
	return f
}

// YAML renders the document
func (f *TopologyFile) YAML() ([]byte, error) {
	return yaml.Marshal(f)
}

// Apply writes the cluster, its nodes and their instances. Existing records
// are overwritten; records absent from f are left in place.
func (m *ClusterManager) Apply(ctx context.Context, f *TopologyFile) error {
	now := time.Now().UTC()
	rec := f.Cluster
	if rec.AddTime.IsZero() {
		rec.AddTime = now
	}
	rec.LastModifyTime = now
	if err := m.SaveCluster(ctx, topology.NewCluster(rec)); err != nil {
		return fmt.Errorf("failed to save cluster %s: %w", rec.Name, err)
	}

	for _, spec := range f.Nodes {
		node := spec.NodeRecord
		if node.AddTime.IsZero() {
			node.AddTime = now
		}
		node.LastModifyTime = now
		if err := m.SaveNode(ctx, rec.Name, topology.NewNode(node)); err != nil {
			return fmt.Errorf("failed to save node %s/%s: %w", rec.Name, node.Name, err)
		}
		for _, inst := range spec.Instances {
			inst.NodeName = node.Name
			if inst.AddTime.IsZero() {
				inst.AddTime = now
			}
			inst.LastModifyTime = now
			if err := m.SaveInstance(ctx, rec.Name, topology.NewInstance(inst)); err != nil {
				return fmt.Errorf("failed to save instance %s/%s/%s: %w", rec.Name, node.Name, inst.Name, err)
			}
		}
	}
	m.logger.Info("Topology applied", "cluster", rec.Name, "nodes", len(f.Nodes))
	return nil
}
