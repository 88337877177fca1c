package watcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/topology"
)

const (
	// initPollInterval is how often watch handling re-checks the initialized flag
	initPollInterval = 10 * time.Millisecond

	resyncBackoffMin = time.Second
	resyncBackoffMax = 30 * time.Second
)

// ClusterClient turns changes under /{root}/{cluster} into ordered topology
// events. It keeps a skeleton of known node and instance names to tell
// additions from updates.
type ClusterClient struct {
	store  metadata.Store
	typ    topology.ClusterType
	name   string
	queue  *events.Queue
	logger *logging.Logger

	initialized atomic.Bool

	mu       sync.Mutex
	skeleton map[string]map[string]struct{}

	resyncMu sync.Mutex
	onResync func(*topology.Cluster)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClusterClient creates a watcher for one cluster
func NewClusterClient(store metadata.Store, t topology.ClusterType, name string, queue *events.Queue, logger *logging.Logger) *ClusterClient {
	return &ClusterClient{
		store:    store,
		typ:      t,
		name:     name,
		queue:    queue,
		logger:   logger.With("cluster", name, "component", "cluster_client"),
		skeleton: make(map[string]map[string]struct{}),
	}
}

func (c *ClusterClient) Name() string { return c.name }

func (c *ClusterClient) Type() topology.ClusterType { return c.typ }

// Initialized reports whether the last Load finished
func (c *ClusterClient) Initialized() bool { return c.initialized.Load() }

// OnResync registers fn to receive a freshly loaded topology after the watch
// had to be re-established
func (c *ClusterClient) OnResync(fn func(*topology.Cluster)) {
	c.resyncMu.Lock()
	defer c.resyncMu.Unlock()
	c.onResync = fn
}

// Load reads the full cluster topology and rebuilds the skeleton. Pending
// events are dropped; the loaded tree already reflects them. A failed load
// keeps the previous skeleton and initialized state.
func (c *ClusterClient) Load(ctx context.Context) (*topology.Cluster, error) {
	wasInitialized := c.initialized.Swap(false)
	if dropped := c.queue.Clear(); dropped > 0 {
		c.logger.Info("Dropped pending events before reload", "count", dropped)
	}

	cluster, err := metadata.LoadCluster(ctx, c.store, c.typ, c.name)
	if err != nil {
		c.initialized.Store(wasInitialized)
		return nil, fmt.Errorf("failed to load cluster %s: %w", c.name, err)
	}

	skeleton := make(map[string]map[string]struct{})
	for _, node := range cluster.Nodes() {
		names := make(map[string]struct{})
		for _, inst := range node.Instances() {
			names[inst.Name()] = struct{}{}
		}
		skeleton[node.Name()] = names
	}

	c.mu.Lock()
	c.skeleton = skeleton
	c.mu.Unlock()
	c.initialized.Store(true)

	c.logger.Info("Cluster loaded", "nodes", len(skeleton))
	return cluster, nil
}

// Start watches the cluster subtree until Stop
func (c *ClusterClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	root := metadata.ClusterPath(c.typ, c.name)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		watchLoop(ctx, c.store, root, c.logger,
			func(ev metadata.Event) { c.handle(ctx, root, ev) },
			c.resync)
	}()
}

func (c *ClusterClient) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// resync reloads the cluster until it succeeds or ctx ends
func (c *ClusterClient) resync(ctx context.Context) {
	backoff := resyncBackoffMin
	var cluster *topology.Cluster
	for {
		var err error
		cluster, err = c.Load(ctx)
		if err == nil {
			break
		}
		c.logger.Error("Failed to resync cluster after watch loss", "error", err, "retry_in", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff *= 2; backoff > resyncBackoffMax {
			backoff = resyncBackoffMax
		}
	}
	c.resyncMu.Lock()
	fn := c.onResync
	c.resyncMu.Unlock()
	if fn != nil {
		fn(cluster)
	}
}

func (c *ClusterClient) handle(ctx context.Context, root string, ev metadata.Event) {
	segs, ok := metadata.Relative(root, ev.Key)
	if !ok {
		return
	}

	switch len(segs) {
	case 0:
		c.handleCluster(ev)
	case 1:
		c.handleNode(ctx, segs[0], ev)
	case 2:
		c.handleInstance(ctx, segs[0], segs[1], ev)
	}
}

func (c *ClusterClient) handleCluster(ev metadata.Event) {
	if ev.Type == metadata.EventDelete {
		c.logger.Warn("Cluster record deleted")
		return
	}
	cluster, err := topology.DecodeCluster(ev.Value)
	if err != nil {
		c.logger.Error("Failed to decode cluster record", "key", ev.Key, "error", err)
		return
	}
	if cluster.Name() == "" {
		cluster.Update(func(r *topology.ClusterRecord) { r.Name = c.name })
	}
	c.queue.Push(events.NewClusterChanged(cluster))
}

func (c *ClusterClient) handleNode(ctx context.Context, name string, ev metadata.Event) {
	if ev.Type == metadata.EventDelete {
		c.mu.Lock()
		delete(c.skeleton, name)
		c.mu.Unlock()
		c.queue.Push(events.NewNodeRemoved(c.name, name))
		return
	}

	node, err := topology.DecodeNode(ev.Value)
	if err != nil {
		c.logger.Error("Failed to decode node", "key", ev.Key, "error", err)
		return
	}
	node.Update(func(r *topology.NodeRecord) {
		if r.Name == "" {
			r.Name = name
		}
		r.ClusterName = c.name
	})

	if c.hasNode(name) {
		c.queue.Push(events.NewNodeChanged(c.name, node))
		return
	}
	if !c.checkAndWait(ctx) {
		return
	}

	c.mu.Lock()
	_, known := c.skeleton[name]
	if !known {
		c.skeleton[name] = make(map[string]struct{})
	}
	c.mu.Unlock()

	if known {
		c.queue.Push(events.NewNodeChanged(c.name, node))
	} else {
		c.queue.Push(events.NewNodeAdded(c.name, node))
	}
}

func (c *ClusterClient) handleInstance(ctx context.Context, nodeName, name string, ev metadata.Event) {
	if ev.Type == metadata.EventDelete {
		c.queue.Push(events.NewInstanceRemoved(c.name, nodeName, name))
		c.mu.Lock()
		if insts, ok := c.skeleton[nodeName]; ok {
			delete(insts, name)
		}
		c.mu.Unlock()
		return
	}

	inst, err := topology.DecodeInstance(ev.Value)
	if err != nil {
		c.logger.Error("Failed to decode instance", "key", ev.Key, "error", err)
		return
	}
	inst.Update(func(r *topology.InstanceRecord) {
		if r.Name == "" {
			r.Name = name
		}
		r.NodeName = nodeName
	})

	if c.hasInstance(nodeName, name) {
		c.queue.Push(events.NewInstanceChanged(c.name, inst))
		return
	}
	if !c.checkAndWait(ctx) {
		return
	}

	c.mu.Lock()
	insts, ok := c.skeleton[nodeName]
	if !ok {
		insts = make(map[string]struct{})
		c.skeleton[nodeName] = insts
	}
	_, known := insts[name]
	insts[name] = struct{}{}
	c.mu.Unlock()

	if known {
		c.queue.Push(events.NewInstanceChanged(c.name, inst))
	} else {
		c.queue.Push(events.NewInstanceAdded(c.name, inst))
	}
}

func (c *ClusterClient) hasNode(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.skeleton[name]
	return ok
}

func (c *ClusterClient) hasInstance(node, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	insts, ok := c.skeleton[node]
	if !ok {
		return false
	}
	_, ok = insts[name]
	return ok
}

// checkAndWait blocks until the cluster finished loading. It returns false
// when ctx ends first.
func (c *ClusterClient) checkAndWait(ctx context.Context) bool {
	if c.initialized.Load() {
		return true
	}
	ticker := time.NewTicker(initPollInterval)
	defer ticker.Stop()
	for !c.initialized.Load() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
