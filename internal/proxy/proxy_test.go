package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/pool"
	"github.com/soltixdb/shardgate/internal/topology"
)

const (
	testCluster = "c1"
	testClient  = "10.0.0.9#1#test"

	masterN1 = "10.0.0.1:6379"
	slaveN1  = "10.0.0.2:6379"
	masterA  = "10.0.0.3:6379"
	masterB  = "10.0.0.4:6379"
)

type harness struct {
	coord  *Coordinator
	store  *metadata.MemoryStore
	dialer *pool.MemoryDialer
}

func put(t *testing.T, s metadata.Store, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), key, data))
}

func nodePath(node string) string {
	return metadata.NodePath(topology.TypeRedis, testCluster, node)
}

func instancePath(node, inst string) string {
	return metadata.InstancePath(topology.TypeRedis, testCluster, node, inst)
}

// seed writes a region cluster: n1 [0,100) with a master and a slave, n2
// [100,200) with two masters written to in turn
func seed(t *testing.T, s metadata.Store) {
	t.Helper()
	put(t, s, metadata.ClusterPath(topology.TypeRedis, testCluster),
		topology.ClusterRecord{Name: testCluster, ShardStrategy: topology.ShardRegion})

	put(t, s, nodePath("n1"), topology.NodeRecord{Name: "n1", Start: 0, End: 100})
	put(t, s, instancePath("n1", "m"),
		topology.InstanceRecord{Name: "m", Domain: "10.0.0.1", Port: 6379, MSStatus: topology.RoleMaster})
	put(t, s, instancePath("n1", "s"),
		topology.InstanceRecord{Name: "s", Domain: "10.0.0.2", Port: 6379, MSStatus: topology.RoleSlave})

	put(t, s, nodePath("n2"), topology.NodeRecord{Name: "n2", Start: 100, End: 200, WriteStrategy: topology.WriteMultiMaster})
	put(t, s, instancePath("n2", "a"),
		topology.InstanceRecord{Name: "a", Domain: "10.0.0.3", Port: 6379, MSStatus: topology.RoleMaster})
	put(t, s, instancePath("n2", "b"),
		topology.InstanceRecord{Name: "b", Domain: "10.0.0.4", Port: 6379, MSStatus: topology.RoleMaster})
}

func newHarness(t *testing.T, tweak func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Client.Name = testClient
	cfg.Client.RehashGrace = 10 * time.Millisecond
	cfg.Client.LoadRetries = 1
	cfg.Pool.InitConns = 1
	cfg.FailFast.RetryDelay = time.Hour
	if tweak != nil {
		tweak(cfg)
	}

	h := &harness{store: metadata.NewMemoryStore()}
	seed(t, h.store)

	coord, err := NewCoordinator(cfg, h.store, logging.NewNop(),
		WithDialerFactory(func(obs pool.Observer) pool.Dialer {
			h.dialer = pool.NewMemoryDialer(obs)
			return h.dialer
		}),
		WithDispatcherConfig(events.DispatcherConfig{
			PollTimeout: 5 * time.Millisecond,
			Interval:    5 * time.Millisecond,
		}),
		WithSelector(topology.NewSelector(rand.NewPCG(1, 2))),
	)
	require.NoError(t, err)
	h.coord = coord
	t.Cleanup(coord.Stop)
	return h
}

func (h *harness) register(t *testing.T) *StoreProxy {
	t.Helper()
	p, err := h.coord.Register(context.Background(), testCluster)
	require.NoError(t, err)
	return p
}

func TestCommandReadSet(t *testing.T) {
	reads := []Command{"get", "GET", "hgetall", "zrangebyscore", "zrevrangewithscores", "ttl"}
	for _, c := range reads {
		assert.True(t, c.IsRead(), c)
	}
	writes := []Command{"set", "del", "incr", "zadd", "hset", "expire"}
	for _, c := range writes {
		assert.False(t, c.IsRead(), c)
	}
}

func TestOperationArgv(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want []interface{}
	}{
		{"plain", Operation{Command: "SET", Key: "k", Args: []interface{}{"v"}}, []interface{}{"set", "k", "v"}},
		{"no args", Operation{Command: "get", Key: "k"}, []interface{}{"get", "k"}},
		{"withscores", Operation{Command: "zrangewithscores", Key: "k", Args: []interface{}{0, -1}},
			[]interface{}{"zrange", "k", 0, -1, "WITHSCORES"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.argv())
		})
	}
}

func TestNewCoordinatorRequiresClientName(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewCoordinator(cfg, metadata.NewMemoryStore(), logging.NewNop())
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.coord.Register(context.Background(), "")
	assert.True(t, errors.Is(err, ErrEmptyCluster))

	p := h.register(t)
	again := h.register(t)
	assert.Same(t, p, again)
	assert.Equal(t, []string{testCluster}, h.coord.Names())
	assert.True(t, h.coord.Serving(testCluster))
	assert.False(t, h.coord.Serving("other"))

	assert.ElementsMatch(t, []string{masterN1, slaveN1, masterA, masterB}, h.coord.Registry().Endpoints())

	status, err := metadata.NewStatusManager(h.store, logging.NewNop()).
		ClientStatus(context.Background(), topology.TypeRedis, testCluster, testClient)
	require.NoError(t, err)
	assert.Equal(t, topology.RehashNormal, status)
}

func TestRegisterMissingCluster(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.coord.Register(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, metadata.ErrNotFound))
	assert.Empty(t, h.coord.Names())
}

func TestRegisterStopsWithCallerContext(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Client.LoadRetries = 10 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.coord.Register(ctx, "missing")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "retries end with the caller context")
	assert.Empty(t, h.coord.Names())
}

func TestRegisterConcurrentShareOneProxy(t *testing.T) {
	h := newHarness(t, nil)

	const n = 8
	got := make([]*StoreProxy, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := h.coord.Register(context.Background(), testCluster)
			assert.NoError(t, err)
			got[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range got[1:] {
		assert.Same(t, got[0], p)
	}
	ok, err := h.store.Exists(context.Background(), metadata.ClientPath(topology.TypeRedis, testCluster, testClient))
	require.NoError(t, err)
	assert.True(t, ok, "no duplicate registration removed the shared client path")
}

func TestLocate(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	node, err := h.coord.Locate(testCluster, "42")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.Name())

	node, err = h.coord.Locate(testCluster, "-150")
	require.NoError(t, err)
	assert.Equal(t, "n2", node.Name())

	_, err = h.coord.Locate(testCluster, "500")
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	assert.Contains(t, err.Error(), "unable to locate node by hashkey: 500")

	_, err = h.coord.Locate(testCluster, "")
	assert.True(t, errors.Is(err, ErrEmptyKey))

	_, err = h.coord.Locate("other", "42")
	assert.True(t, errors.Is(err, ErrNotRegistered))

	_, err = h.coord.Locate("", "42")
	assert.True(t, errors.Is(err, ErrEmptyCluster))
}

func TestEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	n1, err := h.coord.Locate(testCluster, "1")
	require.NoError(t, err)
	writes, err := h.coord.WriteEndpoints(n1)
	require.NoError(t, err)
	assert.Equal(t, []string{masterN1}, writes)

	reads, err := h.coord.ReadEndpoints(testCluster, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{slaveN1, masterN1}, reads)

	n2, err := h.coord.Locate(testCluster, "101")
	require.NoError(t, err)
	writes, err = h.coord.WriteEndpoints(n2)
	require.NoError(t, err)
	assert.Equal(t, []string{masterA, masterB}, writes)
}

func TestExecuteWriteAndRead(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)
	ctx := context.Background()

	reply, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)

	v, ok := h.dialer.Value(masterN1, "7")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// the slave has its own keyspace, a miss is a reply and not a failure
	_, err = h.coord.Execute(ctx, testCluster, Operation{Command: "get", Key: "7"})
	assert.True(t, errors.Is(err, redis.Nil))

	_, err = h.coord.Execute(ctx, testCluster, Operation{Command: "get"})
	assert.True(t, errors.Is(err, ErrEmptyKey))

	snap := h.coord.Monitor().Swap()
	assert.NotEmpty(t, snap.Entries)
}

func TestExecuteReadFailover(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.FailFast.ProbeAttempts = 1 })
	h.register(t)
	ctx := context.Background()

	_, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
	require.NoError(t, err)

	h.dialer.SetDown(slaveN1, true)
	reply, err := h.coord.Execute(ctx, testCluster, Operation{Command: "get", Key: "7"})
	require.NoError(t, err)
	assert.Equal(t, "v", reply)

	// the failed read triggers a probe that takes the slave out
	assert.Eventually(t, func() bool { return !h.coord.Usable(slaveN1) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{slaveN1}, h.coord.Health().Removed())

	reply, err = h.coord.Execute(ctx, testCluster, Operation{Command: "get", Key: "7"})
	require.NoError(t, err)
	assert.Equal(t, "v", reply)
}

func TestExecuteWriteFailureProbesMaster(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.FailFast.ProbeAttempts = 1 })
	h.register(t)
	ctx := context.Background()

	h.dialer.SetDown(masterN1, true)
	_, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pool.ErrEndpointDown))

	assert.Eventually(t, func() bool { return h.coord.Health().IsRemoved(masterN1) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.coord.Usable(masterN1))
	assert.True(t, h.coord.Usable(slaveN1))

	_, err = h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
	assert.True(t, errors.Is(err, ErrNoUsableConn))
}

func TestExecuteReadAllDown(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	h.dialer.SetDown(slaveN1, true)
	h.dialer.SetDown(masterN1, true)
	_, err := h.coord.Execute(context.Background(), testCluster, Operation{Command: "get", Key: "7"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pool.ErrEndpointDown))
}

func TestExecuteWriteStopsAtFirstError(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)
	ctx := context.Background()

	_, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "150", Args: []interface{}{"v"}})
	require.NoError(t, err)
	for _, ep := range []string{masterA, masterB} {
		v, ok := h.dialer.Value(ep, "150")
		require.True(t, ok, ep)
		assert.Equal(t, "v", v)
	}

	h.dialer.SetDown(masterA, true)
	_, err = h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "151", Args: []interface{}{"w"}})
	require.Error(t, err)
	_, ok := h.dialer.Value(masterB, "151")
	assert.False(t, ok, "later masters are not written after a failure")
}

func TestUsableWithBreaker(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.FailFast.Enabled = true
		cfg.FailFast.MinFailures = 2
		cfg.FailFast.Ratio = 0.5
		// keeps the health checker probing for the whole test
		cfg.FailFast.ProbeAttempts = 50
	})
	h.register(t)
	ctx := context.Background()

	assert.True(t, h.coord.Usable(masterN1))

	h.dialer.SetDown(masterN1, true)
	for i := 0; i < 3; i++ {
		_, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
		require.Error(t, err)
	}
	h.coord.Breaker().Evaluate()

	assert.False(t, h.coord.Usable(masterN1))
	assert.False(t, h.coord.Health().IsRemoved(masterN1), "breaker opens before probes confirm the failure")

	_, err := h.coord.Execute(ctx, testCluster, Operation{Command: "set", Key: "7", Args: []interface{}{"v"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUsableConn))
	assert.Contains(t, err.Error(), "unable to find usable connection under node c1/n1 for key 7")

	h.dialer.SetDown(masterN1, false)
	h.coord.Breaker().Recover(ctx)
	assert.True(t, h.coord.Usable(masterN1))
}

func TestNodeDisableRemovesRoute(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	rec := &nodeRecorder{}
	require.NoError(t, h.coord.OnNodeChanged(testCluster, rec))

	put(t, h.store, nodePath("n2"), topology.NodeRecord{
		Name: "n2", Start: 100, End: 200, WriteStrategy: topology.WriteMultiMaster, Status: topology.NodeDisable,
	})

	assert.Eventually(t, func() bool {
		_, err := h.coord.Locate(testCluster, "150")
		return errors.Is(err, ErrNodeNotFound)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.changed()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"n2"}, rec.changed())

	node, err := h.coord.Locate(testCluster, "42")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.Name())
}

func TestInstanceMoved(t *testing.T) {
	h := newHarness(t, nil)
	p := h.register(t)

	put(t, h.store, instancePath("n1", "s"),
		topology.InstanceRecord{Name: "s", Domain: "10.0.0.2", Port: 6380, MSStatus: topology.RoleSlave})

	moved := "10.0.0.2:6380"
	assert.Eventually(t, func() bool {
		_, added := h.coord.Registry().Get(moved)
		_, kept := h.coord.Registry().Get(slaveN1)
		return added && !kept
	}, 2*time.Second, 10*time.Millisecond)

	reads, err := h.coord.ReadEndpoints(testCluster, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{moved, masterN1}, reads)

	// replaying the change is a no-op
	before := h.coord.Registry().Len()
	dials := h.dialer.Dials(moved)
	inst := topology.NewInstance(topology.InstanceRecord{
		NodeName: "n1", Name: "s", Domain: "10.0.0.2", Port: 6380, MSStatus: topology.RoleSlave,
	})
	p.InstanceDataChanged(inst)
	p.InstanceDataChanged(inst)
	assert.Equal(t, before, h.coord.Registry().Len())
	assert.Equal(t, dials, h.dialer.Dials(moved))
}

func TestInstanceDownThenDeleted(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	put(t, h.store, instancePath("n1", "s"), topology.InstanceRecord{
		Name: "s", Domain: "10.0.0.2", Port: 6379, MSStatus: topology.RoleSlave, Status: topology.InstanceDown,
	})
	coord := h.coord
	assert.Eventually(t, func() bool {
		proxy, err := coord.Proxy(testCluster)
		if err != nil {
			return false
		}
		inst := proxy.Cluster().FindNode("n1").FindInstance("s")
		return inst != nil && inst.Status() == topology.InstanceDown
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := h.coord.Registry().Get(slaveN1)
	assert.True(t, ok, "a DOWN instance keeps its pool")

	put(t, h.store, instancePath("n1", "s"), topology.InstanceRecord{
		Name: "s", Domain: "10.0.0.2", Port: 6379, MSStatus: topology.RoleSlave, Status: topology.InstanceDeleted,
	})
	assert.Eventually(t, func() bool {
		_, ok := h.coord.Registry().Get(slaveN1)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	reads, err := h.coord.ReadEndpoints(testCluster, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{masterN1}, reads)
}

func TestInstanceDeleted(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	require.NoError(t, h.store.Delete(context.Background(), instancePath("n2", "b"), false))
	assert.Eventually(t, func() bool {
		_, ok := h.coord.Registry().Get(masterB)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	n2, err := h.coord.Locate(testCluster, "150")
	require.NoError(t, err)
	writes, err := h.coord.WriteEndpoints(n2)
	require.NoError(t, err)
	assert.Equal(t, []string{masterA}, writes)
}

func TestRehashSynFailureKeepsServedTopology(t *testing.T) {
	h := newHarness(t, nil)
	p := h.register(t)
	served := p.Cluster()

	// a second node named n1 makes every reload fail
	put(t, h.store, nodePath("n1-copy"), topology.NodeRecord{Name: "n1", Start: 300, End: 400})
	p.ClusterRehash(topology.RehashSyn)

	status, err := metadata.NewStatusManager(h.store, logging.NewNop()).
		ClientStatus(context.Background(), topology.TypeRedis, testCluster, testClient)
	require.NoError(t, err)
	assert.Equal(t, topology.RehashFail, status)
	assert.Nil(t, p.Staged())
	assert.Same(t, served, p.Cluster())

	node, err := h.coord.Locate(testCluster, "42")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.Name())
}

func TestRehashWithoutSynFails(t *testing.T) {
	h := newHarness(t, nil)
	p := h.register(t)

	p.ClusterRehash(topology.RehashRehash)
	assert.Equal(t, topology.RehashFail, p.RehashStatus())
}

func TestRehashSwapsTopology(t *testing.T) {
	h := newHarness(t, nil)
	p := h.register(t)
	ctx := context.Background()
	status := metadata.NewStatusManager(h.store, logging.NewNop())

	put(t, h.store, nodePath("n3"), topology.NodeRecord{Name: "n3", Start: 200, End: 300})
	put(t, h.store, instancePath("n3", "m"),
		topology.InstanceRecord{Name: "m", Domain: "10.0.0.5", Port: 6379, MSStatus: topology.RoleMaster})

	// a new shard is not routed before the rehash
	assert.Eventually(t, func() bool { return p.Cluster().FindNode("n3") != nil }, 2*time.Second, 10*time.Millisecond)
	_, err := h.coord.Locate(testCluster, "250")
	assert.True(t, errors.Is(err, ErrNodeNotFound))

	require.NoError(t, status.UpdateClusterStatus(ctx, topology.TypeRedis, testCluster, topology.RehashSyn))
	assert.Eventually(t, func() bool {
		s, err := status.ClientStatus(ctx, topology.TypeRedis, testCluster, testClient)
		return err == nil && s == topology.RehashAck
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, p.Staged())

	require.NoError(t, status.UpdateClusterStatus(ctx, topology.TypeRedis, testCluster, topology.RehashRehash))
	assert.Eventually(t, func() bool {
		s, err := status.ClientStatus(ctx, topology.TypeRedis, testCluster, testClient)
		return err == nil && s == topology.RehashNormal
	}, 2*time.Second, 10*time.Millisecond)

	node, err := h.coord.Locate(testCluster, "250")
	require.NoError(t, err)
	assert.Equal(t, "n3", node.Name())
	assert.Nil(t, p.Staged())
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	got := make(chan string, 1)
	ep, err := h.coord.Subscribe(context.Background(), testCluster, "7", func(channel, payload string) {
		got <- channel + "=" + payload
	}, "news")
	require.NoError(t, err)
	assert.Equal(t, masterN1, ep)

	assert.Equal(t, 1, h.dialer.Publish(masterN1, "news", "hi"))
	select {
	case msg := <-got:
		assert.Equal(t, "news=hi", msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	_, err = h.coord.Subscribe(context.Background(), testCluster, "7", func(string, string) {})
	assert.Error(t, err)
}

func TestObserverSeesEvents(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var kinds []events.Kind
	h.coord.AddObserver(events.ObserverFunc(func(e events.Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}))
	h.register(t)

	require.NoError(t, h.store.Delete(context.Background(), instancePath("n2", "b"), false))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == events.InstanceRemoved {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnregister(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t)

	require.NoError(t, h.coord.Unregister(testCluster))
	assert.True(t, errors.Is(h.coord.Unregister(testCluster), ErrNotRegistered))
	_, err := h.coord.Locate(testCluster, "42")
	assert.True(t, errors.Is(err, ErrNotRegistered))

	ctx := context.Background()
	clientPath := metadata.ClientPath(topology.TypeRedis, testCluster, testClient)
	h.store.ExpireSession(ctx)
	ok, err := h.store.Exists(ctx, clientPath)
	require.NoError(t, err)
	assert.False(t, ok, "an unregistered cluster is not rejoined on a new session")
}

type nodeRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *nodeRecorder) NodeAdded(*topology.Node) {}

func (r *nodeRecorder) NodeDataChanged(n *topology.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, n.Name())
}

func (r *nodeRecorder) NodeDeleted(string) {}

func (r *nodeRecorder) changed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}
