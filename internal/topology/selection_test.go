package topology

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(read ReadStrategy, write WriteStrategy, instances ...InstanceRecord) *Node {
	n := NewNode(NodeRecord{ClusterName: "c1", Name: "n1", ReadStrategy: read, WriteStrategy: write})
	for _, rec := range instances {
		rec.NodeName = "n1"
		n.AddInstance(NewInstance(rec))
	}
	return n
}

func names(list []*Instance) []string {
	out := make([]string, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.Name())
	}
	return out
}

func TestWriteInstances(t *testing.T) {
	instances := []InstanceRecord{
		{Name: "m1", Domain: "h", Port: 1, MSStatus: RoleMaster},
		{Name: "s1", Domain: "h", Port: 2, MSStatus: RoleSlave},
		{Name: "m2", Domain: "h", Port: 3, MSStatus: RoleAll},
		{Name: "m3", Domain: "h", Port: 4, MSStatus: RoleMaster, Status: InstanceDeleted},
	}
	sel := NewSelector(rand.NewPCG(1, 2))

	t.Run("master picks first", func(t *testing.T) {
		got, err := sel.WriteInstances(newTestNode(ReadSlaves, WriteMaster, instances...))
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, names(got))
	})

	t.Run("multi master returns all masters", func(t *testing.T) {
		got, err := sel.WriteInstances(newTestNode(ReadSlaves, WriteMultiMaster, instances...))
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, names(got))
	})

	t.Run("random returns exactly one master", func(t *testing.T) {
		node := newTestNode(ReadSlaves, WriteRandom, instances...)
		for i := 0; i < 50; i++ {
			got, err := sel.WriteInstances(node)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Contains(t, []string{"m1", "m2"}, got[0].Name())
		}
	})

	for _, strategy := range []WriteStrategy{WriteMaster, WriteMultiMaster, WriteRandom} {
		t.Run("no master is an error for "+string(strategy), func(t *testing.T) {
			node := newTestNode(ReadSlaves, strategy, InstanceRecord{Name: "s1", Domain: "h", Port: 2, MSStatus: RoleSlave})
			_, err := sel.WriteInstances(node)
			assert.True(t, errors.Is(err, ErrNoWritableInstance))
		})
	}
}

func TestReadInstances(t *testing.T) {
	sel := NewSelector(rand.NewPCG(3, 4))

	t.Run("slaves with writer fallback", func(t *testing.T) {
		node := newTestNode(ReadSlaves, WriteMaster,
			InstanceRecord{Name: "m", Domain: "h", Port: 1, MSStatus: RoleMaster},
			InstanceRecord{Name: "s", Domain: "h", Port: 2, MSStatus: RoleSlave},
		)
		got, err := sel.ReadInstances(node)
		require.NoError(t, err)
		assert.Equal(t, []string{"s", "m"}, names(got))
	})

	t.Run("slaves strategy without slaves still yields a writer", func(t *testing.T) {
		node := newTestNode(ReadSlaves, WriteMaster,
			InstanceRecord{Name: "m", Domain: "h", Port: 1, MSStatus: RoleMaster},
		)
		got, err := sel.ReadInstances(node)
		require.NoError(t, err)
		assert.Equal(t, []string{"m"}, names(got))
	})

	t.Run("deleted slaves are excluded", func(t *testing.T) {
		node := newTestNode(ReadSlaves, WriteMaster,
			InstanceRecord{Name: "m", Domain: "h", Port: 1, MSStatus: RoleMaster},
			InstanceRecord{Name: "s", Domain: "h", Port: 2, MSStatus: RoleSlave, Status: InstanceDeleted},
		)
		got, err := sel.ReadInstances(node)
		require.NoError(t, err)
		assert.Equal(t, []string{"m"}, names(got))
	})

	t.Run("master strategy mirrors writes", func(t *testing.T) {
		node := newTestNode(ReadMaster, WriteMultiMaster,
			InstanceRecord{Name: "m1", Domain: "h", Port: 1, MSStatus: RoleMaster},
			InstanceRecord{Name: "m2", Domain: "h", Port: 2, MSStatus: RoleMaster},
			InstanceRecord{Name: "s", Domain: "h", Port: 3, MSStatus: RoleSlave},
		)
		got, err := sel.ReadInstances(node)
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, names(got))
	})

	t.Run("random covers every live instance", func(t *testing.T) {
		node := newTestNode(ReadRandom, WriteMaster,
			InstanceRecord{Name: "a", Domain: "h", Port: 1, MSStatus: RoleMaster},
			InstanceRecord{Name: "b", Domain: "h", Port: 2, MSStatus: RoleSlave, Status: InstanceDown},
			InstanceRecord{Name: "c", Domain: "h", Port: 3, MSStatus: RoleSlave, Status: InstanceDeleted},
		)
		got, err := sel.ReadInstances(node)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, names(got))
	})

	t.Run("empty node is an error", func(t *testing.T) {
		_, err := sel.ReadInstances(newTestNode(ReadSlaves, WriteMaster))
		assert.True(t, errors.Is(err, ErrNoReadableInstance))
	})
}

func TestAliveInstances(t *testing.T) {
	node := newTestNode(ReadSlaves, WriteMaster,
		InstanceRecord{Name: "a", Domain: "h", Port: 1, Status: InstanceDown},
		InstanceRecord{Name: "b", Domain: "h", Port: 2, Status: InstanceDeleted},
	)
	assert.Equal(t, []string{"a"}, names(AliveInstances(node)))
	assert.Equal(t, []string{"a"}, names(ActiveInstances(node)))
}
