package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/locator"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/pool"
	"github.com/soltixdb/shardgate/internal/topology"
	"github.com/soltixdb/shardgate/internal/watcher"
)

// loadRetryDelay separates attempts of the initial topology load
const loadRetryDelay = time.Second

// StoreProxy serves one cluster: it owns the served topology, its locator,
// the staged topology of a running rehash, and the event pipeline feeding
// them.
type StoreProxy struct {
	name     string
	registry *pool.Registry
	logger   *logging.Logger

	queue      *events.Queue
	client     *watcher.ClusterClient
	peer       *watcher.PeerClient
	dispatcher *events.Dispatcher

	graceSyn    time.Duration
	graceFinish time.Duration
	loadRetries int

	// mu serializes every topology mutation of this cluster
	mu      sync.Mutex
	staged  *topology.Cluster
	cluster atomic.Pointer[topology.Cluster]
	locator atomic.Pointer[locator.ClusterLocator]

	ctx    context.Context
	cancel context.CancelFunc
}

type proxyConfig struct {
	store       metadata.Store
	typ         topology.ClusterType
	clientName  string
	registry    *pool.Registry
	dispatch    events.DispatcherConfig
	grace       time.Duration
	loadRetries int
	logger      *logging.Logger
}

func newStoreProxy(name string, cfg proxyConfig) *StoreProxy {
	logger := cfg.logger.ForCluster(name)
	queue := events.NewQueue()
	p := &StoreProxy{
		name:        name,
		registry:    cfg.registry,
		logger:      logger.With("component", "store_proxy"),
		queue:       queue,
		client:      watcher.NewClusterClient(cfg.store, cfg.typ, name, queue, logger),
		peer:        watcher.NewPeerClient(cfg.store, cfg.typ, name, cfg.clientName, queue, logger),
		dispatcher:  events.NewDispatcher(name, queue, cfg.dispatch, logger),
		graceSyn:    cfg.grace,
		graceFinish: cfg.grace,
		loadRetries: cfg.loadRetries,
	}

	p.dispatcher.AddClusterListener(p)
	p.dispatcher.AddNodeListener(p)
	p.dispatcher.AddInstanceListener(p)
	p.client.OnResync(p.resync)
	return p
}

// open loads the topology, builds its pools and locator, and starts the
// pipeline. The load stops when either ctx or parent ends; the pipeline
// runs until parent ends or close.
func (p *StoreProxy) open(ctx, parent context.Context) error {
	p.ctx, p.cancel = context.WithCancel(parent)

	loadCtx, stopLoad := context.WithCancel(p.ctx)
	defer stopLoad()
	defer context.AfterFunc(ctx, stopLoad)()

	cluster, err := p.loadWithRetry(loadCtx)
	if err != nil {
		p.cancel()
		return err
	}
	p.initPools(loadCtx, cluster)

	loc, err := locator.NewClusterLocator(cluster)
	if err != nil {
		p.cancel()
		return err
	}
	p.cluster.Store(cluster)
	p.locator.Store(loc)

	p.client.Start(p.ctx)
	if err := p.peer.Start(p.ctx); err != nil {
		p.client.Stop()
		p.cancel()
		return err
	}
	p.dispatcher.Start(p.ctx)

	p.logger.Info("Cluster registered",
		"strategy", string(cluster.ShardStrategy()), "nodes", len(cluster.Nodes()), "active", len(loc.Nodes()))
	return nil
}

func (p *StoreProxy) loadWithRetry(ctx context.Context) (*topology.Cluster, error) {
	attempts := p.loadRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		cluster, err := p.client.Load(ctx)
		if err == nil {
			return cluster, nil
		}
		lastErr = err
		// broken data will not fix itself
		if errors.Is(err, metadata.ErrBadData) || i == attempts {
			break
		}
		p.logger.Warn("Failed to load cluster, retrying", "attempt", i, "error", err)
		select {
		case <-time.After(loadRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("cluster %s unreachable: %w", p.name, lastErr)
}

// initPools creates missing pools for alive instances of active nodes.
// Failures are logged; the retry task heals them.
func (p *StoreProxy) initPools(ctx context.Context, cluster *topology.Cluster) {
	for _, node := range cluster.ActiveNodes() {
		p.initNodePools(ctx, node)
	}
}

func (p *StoreProxy) initNodePools(ctx context.Context, node *topology.Node) {
	for _, inst := range topology.AliveInstances(node) {
		if err := p.registry.Init(ctx, inst, false); err != nil {
			p.logger.Error("Failed to create pool", "node", node.Name(), "instance", inst.Name(), "error", err)
		}
	}
}

// rebuildLocator replaces the locator from the served topology. Caller
// holds mu.
func (p *StoreProxy) rebuildLocator() {
	cluster := p.cluster.Load()
	loc, err := locator.NewClusterLocator(cluster)
	if err != nil {
		p.logger.Error("Failed to rebuild locator, keeping the previous one", "error", err)
		return
	}
	p.locator.Store(loc)
	p.logger.Info("Locator rebuilt", "active", len(loc.Nodes()))
}

// resync replaces the served topology after the watch was lost
func (p *StoreProxy) resync(cluster *topology.Cluster) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initPools(p.ctx, cluster)
	p.cluster.Store(cluster)
	p.rebuildLocator()
	p.logger.Info("Served topology resynchronized")
}

func (p *StoreProxy) Name() string { return p.name }

// Cluster returns the served topology
func (p *StoreProxy) Cluster() *topology.Cluster { return p.cluster.Load() }

// Staged returns the topology staged by a SYN, if any
func (p *StoreProxy) Staged() *topology.Cluster {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staged
}

// Locator returns the current routing table
func (p *StoreProxy) Locator() *locator.ClusterLocator { return p.locator.Load() }

// Locate returns the ACTIVE node owning key
func (p *StoreProxy) Locate(key string) (*topology.Node, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	node, err := p.locator.Load().NodeFor(key)
	if err != nil {
		return nil, fmt.Errorf("unable to locate node by hashkey: %s: %w", key, err)
	}
	if !node.IsActive() {
		return nil, fmt.Errorf("the node %s/%s is not active: %w", p.name, node.Name(), ErrNodeInactive)
	}
	return node, nil
}

// ReportStatus publishes this client's rehash status
func (p *StoreProxy) ReportStatus(ctx context.Context, status topology.RehashStatus) error {
	return p.peer.Refresh(ctx, status)
}

// RehashStatus returns the last reported status
func (p *StoreProxy) RehashStatus() topology.RehashStatus { return p.peer.Status() }

func (p *StoreProxy) close() {
	p.dispatcher.Stop()
	p.client.Stop()
	p.peer.Stop(context.Background())
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("Cluster unregistered")
}
