package proxy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/failfast"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/monitor"
	"github.com/soltixdb/shardgate/internal/pool"
	"github.com/soltixdb/shardgate/internal/topology"
)

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithDialerFactory replaces the go-redis dialer. The factory receives the
// observer that feeds the breaker.
func WithDialerFactory(fn func(pool.Observer) pool.Dialer) Option {
	return func(c *Coordinator) { c.dialerFactory = fn }
}

// WithDispatcherConfig overrides the event loop timing
func WithDispatcherConfig(cfg events.DispatcherConfig) Option {
	return func(c *Coordinator) { c.dispatch = cfg }
}

// WithSelector sets the instance selector
func WithSelector(s *topology.Selector) Option {
	return func(c *Coordinator) { c.selector = s }
}

// WithClientName sets the name this process registers under
func WithClientName(name string) Option {
	return func(c *Coordinator) { c.clientName = name }
}

// Coordinator owns all process-scoped routing state: the registered
// clusters, the pool registry, the fail-fast signals, the latency monitor
// and the background tasks.
type Coordinator struct {
	cfg        *config.Config
	store      metadata.Store
	typ        topology.ClusterType
	clientName string
	logger     *logging.Logger

	dialerFactory func(pool.Observer) pool.Dialer
	dispatch      events.DispatcherConfig
	selector      *topology.Selector

	registry *pool.Registry
	breaker  *failfast.Breaker
	isolator *failfast.Isolator
	health   *failfast.HealthChecker
	monitor  *monitor.Monitor
	retry    *pool.RetryTask
	stats    *pool.StatsMonitor

	mu        sync.RWMutex
	proxies   map[string]*StoreProxy
	opening   map[string]chan struct{}
	observers []events.Observer

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewCoordinator wires every component from cfg. store is not closed by
// the coordinator.
func NewCoordinator(cfg *config.Config, store metadata.Store, logger *logging.Logger, opts ...Option) (*Coordinator, error) {
	poolOpts, err := pool.OptionsFromConfig(cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool config: %w", err)
	}

	dispatch := events.DefaultDispatcherConfig()
	dispatch.Interval = cfg.Client.EventPollInterval

	c := &Coordinator{
		cfg:        cfg,
		store:      store,
		typ:        cfg.Client.Type(),
		clientName: cfg.Client.Name,
		logger:     logger,
		dispatch:   dispatch,
		selector:   topology.NewSelector(nil),
		proxies:    make(map[string]*StoreProxy),
		opening:    make(map[string]chan struct{}),
		dialerFactory: func(obs pool.Observer) pool.Dialer {
			return pool.NewRedisDialer(obs)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clientName == "" {
		return nil, errors.New("client name is required")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.registry = pool.NewRegistry(c.dialerFactory(pool.ObserverFunc(c.observeCommand)), poolOpts, logger)
	c.breaker = failfast.NewBreaker(cfg.FailFast, c.pingListed, logger)
	c.isolator = failfast.NewIsolator(failfast.DefaultIsolatorStrategy())
	c.health = failfast.NewHealthChecker(cfg.FailFast, c.registry.Ping, c.nodeActive, c.isolator, logger)
	c.monitor = monitor.New(cfg.Monitor.ReportInterval, logger)
	c.retry = pool.NewRetryTask(c.registry, c.Clusters, cfg.Pool.RetryDelay, cfg.Pool.RetryInterval, logger)
	c.stats = pool.NewStatsMonitor(c.registry, cfg.Pool.MonitorInterval, cfg.Monitor.TopN, logger)
	return c, nil
}

// observeCommand feeds every backend command outcome to the breaker
func (c *Coordinator) observeCommand(endpoint, command string, elapsed time.Duration, err error) {
	if pool.IsConnError(err) {
		c.breaker.RecordFailure(endpoint)
		return
	}
	c.breaker.RecordSuccess(endpoint)
}

// pingListed pings a short-circuited endpoint; one without a pool has
// nothing left to short-circuit
func (c *Coordinator) pingListed(ctx context.Context, endpoint string) error {
	err := c.registry.Ping(ctx, endpoint)
	if errors.Is(err, pool.ErrNoConn) {
		return nil
	}
	return err
}

func (c *Coordinator) nodeActive(cluster, node string) bool {
	p, err := c.proxy(cluster)
	if err != nil {
		return false
	}
	n := p.Cluster().FindNode(node)
	return n != nil && n.IsActive()
}

// AddObserver hands every dispatched event of every cluster to o
func (c *Coordinator) AddObserver(o events.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
	for _, p := range c.proxies {
		p.dispatcher.AddObserver(o)
	}
}

// Register loads cluster and starts serving it. Registering a cluster twice
// returns the existing proxy; concurrent registrations of one cluster share
// a single load. ctx bounds the load only, the proxy lives until Unregister
// or Stop.
func (c *Coordinator) Register(ctx context.Context, clusterName string) (*StoreProxy, error) {
	if clusterName == "" {
		return nil, ErrEmptyCluster
	}

	for {
		c.mu.Lock()
		if p, ok := c.proxies[clusterName]; ok {
			c.mu.Unlock()
			return p, nil
		}
		wait, busy := c.opening[clusterName]
		if !busy {
			break
		}
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	done := make(chan struct{})
	c.opening[clusterName] = done
	observers := append([]events.Observer(nil), c.observers...)
	c.mu.Unlock()

	p := newStoreProxy(clusterName, proxyConfig{
		store:       c.store,
		typ:         c.typ,
		clientName:  c.clientName,
		registry:    c.registry,
		dispatch:    c.dispatch,
		grace:       c.cfg.Client.RehashGrace,
		loadRetries: c.cfg.Client.LoadRetries,
		logger:      c.logger,
	})
	for _, o := range observers {
		p.dispatcher.AddObserver(o)
	}
	err := p.open(ctx, c.ctx)

	c.mu.Lock()
	delete(c.opening, clusterName)
	close(done)
	if err == nil {
		c.proxies[clusterName] = p
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterAll registers every cluster concurrently
func (c *Coordinator) RegisterAll(ctx context.Context, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := c.Register(gctx, name)
			return err
		})
	}
	return g.Wait()
}

// Unregister stops serving cluster
func (c *Coordinator) Unregister(clusterName string) error {
	c.mu.Lock()
	p, ok := c.proxies[clusterName]
	delete(c.proxies, clusterName)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("cluster %s: %w", clusterName, ErrNotRegistered)
	}
	p.close()
	return nil
}

func (c *Coordinator) proxy(clusterName string) (*StoreProxy, error) {
	if clusterName == "" {
		return nil, ErrEmptyCluster
	}
	c.mu.RLock()
	p, ok := c.proxies[clusterName]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cluster %s not registered: %w", clusterName, ErrNotRegistered)
	}
	return p, nil
}

// Proxy returns the proxy of a registered cluster
func (c *Coordinator) Proxy(clusterName string) (*StoreProxy, error) {
	return c.proxy(clusterName)
}

// Names returns the registered cluster names
func (c *Coordinator) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.proxies))
	for name := range c.proxies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Serving reports whether clusterName is registered and routes to at least
// one active node
func (c *Coordinator) Serving(clusterName string) bool {
	p, err := c.proxy(clusterName)
	if err != nil {
		return false
	}
	l := p.Locator()
	return l != nil && len(l.Nodes()) > 0
}

// Clusters returns the served topology of every registered cluster
func (c *Coordinator) Clusters() []*topology.Cluster {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*topology.Cluster, 0, len(c.proxies))
	for _, p := range c.proxies {
		out = append(out, p.Cluster())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Locate returns the active node owning key in cluster
func (c *Coordinator) Locate(clusterName, key string) (*topology.Node, error) {
	p, err := c.proxy(clusterName)
	if err != nil {
		return nil, err
	}
	return p.Locate(key)
}

// WriteEndpoints returns the write targets of node
func (c *Coordinator) WriteEndpoints(node *topology.Node) ([]string, error) {
	insts, err := c.selector.WriteInstances(node)
	if err != nil {
		return nil, err
	}
	return endpoints(insts), nil
}

// ReadEndpoints returns the ordered read candidates for key. node may be
// nil, in which case it is located first.
func (c *Coordinator) ReadEndpoints(clusterName, key string, node *topology.Node) ([]string, error) {
	if node == nil {
		var err error
		if node, err = c.Locate(clusterName, key); err != nil {
			return nil, err
		}
	}
	insts, err := c.selector.ReadInstances(node)
	if err != nil {
		return nil, fmt.Errorf("unable to find readable instances under node %s/%s located by hashkey %s: %w",
			clusterName, node.Name(), key, ErrNoReadable)
	}
	return endpoints(insts), nil
}

func endpoints(insts []*topology.Instance) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Endpoint()
	}
	return out
}

// Usable reports whether endpoint may take calls: it is neither
// short-circuited nor flagged removed
func (c *Coordinator) Usable(endpoint string) bool {
	return !c.breaker.IsOpen(endpoint) && !c.health.IsRemoved(endpoint)
}

// usable filters candidates and returns the skipped ones
func (c *Coordinator) usable(candidates []string) (ok, skipped []string) {
	for _, ep := range candidates {
		if c.Usable(ep) {
			ok = append(ok, ep)
		} else {
			skipped = append(skipped, ep)
		}
	}
	return ok, skipped
}

// OnClusterChanged registers l for cluster events of clusterName
func (c *Coordinator) OnClusterChanged(clusterName string, l events.ClusterListener) error {
	p, err := c.proxy(clusterName)
	if err != nil {
		return err
	}
	p.dispatcher.AddClusterListener(l)
	return nil
}

func (c *Coordinator) OnNodeChanged(clusterName string, l events.NodeListener) error {
	p, err := c.proxy(clusterName)
	if err != nil {
		return err
	}
	p.dispatcher.AddNodeListener(l)
	return nil
}

func (c *Coordinator) OnInstanceChanged(clusterName string, l events.InstanceListener) error {
	p, err := c.proxy(clusterName)
	if err != nil {
		return err
	}
	p.dispatcher.AddInstanceListener(l)
	return nil
}

// ReportStatus publishes this client's rehash status for clusterName
func (c *Coordinator) ReportStatus(ctx context.Context, clusterName string, status topology.RehashStatus) error {
	p, err := c.proxy(clusterName)
	if err != nil {
		return err
	}
	return p.ReportStatus(ctx, status)
}

func (c *Coordinator) ClientName() string { return c.clientName }

func (c *Coordinator) Type() topology.ClusterType { return c.typ }

func (c *Coordinator) Registry() *pool.Registry { return c.registry }

func (c *Coordinator) Breaker() *failfast.Breaker { return c.breaker }

func (c *Coordinator) Health() *failfast.HealthChecker { return c.health }

func (c *Coordinator) Isolator() *failfast.Isolator { return c.isolator }

func (c *Coordinator) Monitor() *monitor.Monitor { return c.monitor }

func (c *Coordinator) PoolStats() *pool.StatsMonitor { return c.stats }

// Start launches the background tasks. They stop with ctx or Stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	go func() {
		select {
		case <-ctx.Done():
			c.cancel()
		case <-c.ctx.Done():
		}
	}()

	c.breaker.Start(c.ctx)
	c.health.Start()
	if c.cfg.Monitor.Enabled {
		c.monitor.Start(c.ctx)
		c.stats.Start(c.ctx)
	}
	c.retry.Start(c.ctx)
	c.logger.Info("Coordinator started", "client", c.clientName, "type", string(c.typ))
}

// Stop unregisters every cluster, stops the background tasks and closes
// every pool
func (c *Coordinator) Stop() {
	c.mu.Lock()
	proxies := c.proxies
	c.proxies = make(map[string]*StoreProxy)
	c.mu.Unlock()

	var g errgroup.Group
	for _, p := range proxies {
		p := p
		g.Go(func() error {
			p.close()
			return nil
		})
	}
	_ = g.Wait()

	c.cancel()
	c.retry.Stop()
	c.stats.Stop()
	c.monitor.Stop()
	c.breaker.Stop()
	c.health.Stop()
	c.registry.Close()
	c.logger.Info("Coordinator stopped")
}
