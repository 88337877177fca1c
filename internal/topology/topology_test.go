package topology

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) (string, error)
		input   string
		want    string
		wantErr bool
	}{
		{"cluster status legacy", wrap(ParseClusterStatus), "nomal", "NORMAL", false},
		{"cluster status upper", wrap(ParseClusterStatus), "REHASH", "REHASH", false},
		{"cluster status bad", wrap(ParseClusterStatus), "busy", "", true},
		{"write strategy lower", wrap(ParseWriteStrategy), "multi_master", "MULTI_MASTER", false},
		{"write strategy legacy typo", wrap(ParseWriteStrategy), "MUILTI_MASTER", "MULTI_MASTER", false},
		{"rehash mixed case", wrap(ParseRehashStatus), "SyN", "syn", false},
		{"rehash unknown", wrap(ParseRehashStatus), "pending", "", true},
		{"shard strategy", wrap(ParseShardStrategy), "region_suffix", "REGION_SUFFIX", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func wrap[T ~string](fn func(string) (T, error)) func(string) (string, error) {
	return func(s string) (string, error) {
		v, err := fn(s)
		return string(v), err
	}
}

func TestClusterTypeRootPath(t *testing.T) {
	assert.Equal(t, "/clusters", TypeRedis.RootPath())
	assert.Equal(t, "/mongoclusters", TypeMongoDB.RootPath())
	assert.Equal(t, "/mysqlclusters", TypeMySQL.RootPath())
}

func TestDecodeAppliesDefaults(t *testing.T) {
	node, err := DecodeNode([]byte(`{"clusterName":"c1","name":"n1","start":0,"end":100}`))
	require.NoError(t, err)

	rec := node.Record()
	assert.Equal(t, NodeActive, rec.Status)
	assert.Equal(t, ReadSlaves, rec.ReadStrategy)
	assert.Equal(t, WriteMaster, rec.WriteStrategy)

	cluster, err := DecodeCluster([]byte(`{"name":"c1","status":"nomal"}`))
	require.NoError(t, err)
	assert.Equal(t, ClusterNormal, cluster.Status())
	assert.Equal(t, ShardConsistentHash, cluster.ShardStrategy())
	assert.Equal(t, TypeRedis, cluster.Type())

	_, err = DecodeInstance([]byte(`{"name":"m","status":"sleeping"}`))
	assert.Error(t, err)
}

func TestInstanceJSONRoundTrip(t *testing.T) {
	inst := NewInstance(InstanceRecord{NodeName: "n1", Name: "m", Domain: "10.0.0.1", Port: 6379, MSStatus: RoleMaster})

	data, err := json.Marshal(inst)
	require.NoError(t, err)

	decoded, err := DecodeInstance(data)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:6379", decoded.Endpoint())
	assert.Equal(t, InstanceActive, decoded.Status())
	assert.Equal(t, ReplicationInitial, decoded.Record().ReplicationState)
}

func TestClusterNodeMutation(t *testing.T) {
	c := NewCluster(ClusterRecord{Name: "c1"})
	n1 := NewNode(NodeRecord{ClusterName: "c1", Name: "n1"})
	n2 := NewNode(NodeRecord{ClusterName: "c1", Name: "n2", Status: NodeDisable})
	c.AddNode(n1)
	c.AddNode(n2)

	snapshot := c.Nodes()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, []*Node{n1}, c.ActiveNodes())

	removed := c.RemoveNode("n1")
	require.NotNil(t, removed)
	assert.Equal(t, NodeClosed, removed.Status())
	assert.Nil(t, c.FindNode("n1"))
	assert.Len(t, snapshot, 2, "earlier snapshots stay intact")
	assert.Nil(t, c.RemoveNode("missing"))

	replacement := NewNode(NodeRecord{ClusterName: "c1", Name: "n2"})
	c.ReplaceNode(replacement)
	assert.Same(t, replacement, c.FindNode("n2"))
	assert.Len(t, c.Nodes(), 1)
}

func TestNodeReplaceInstanceIsIdempotent(t *testing.T) {
	n := NewNode(NodeRecord{Name: "n1"})
	a := NewInstance(InstanceRecord{NodeName: "n1", Name: "a", Domain: "h", Port: 1})
	n.ReplaceInstance(a)
	n.ReplaceInstance(NewInstance(a.Record()))

	assert.Len(t, n.Instances(), 1)
	assert.NotNil(t, n.RemoveInstance("a"))
	assert.Empty(t, n.Instances())
	assert.Nil(t, n.RemoveInstance("a"))
}
