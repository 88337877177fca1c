package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
)

// DispatcherConfig controls the consumer loop timing
type DispatcherConfig struct {
	InitialDelay time.Duration // before the first run
	PollTimeout  time.Duration // wait for an event within a run
	Interval     time.Duration // sleep between runs
}

// DefaultDispatcherConfig returns 1s / 10ms / 100ms
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		InitialDelay: time.Second,
		PollTimeout:  10 * time.Millisecond,
		Interval:     100 * time.Millisecond,
	}
}

// Dispatcher is the single consumer of a cluster's event queue. Listeners of
// the event's category run in registration order; a panicking listener is
// logged and skipped so the rest still see the event.
type Dispatcher struct {
	cluster string
	queue   *Queue
	cfg     DispatcherConfig
	logger  *logging.Logger

	mu        sync.RWMutex
	clusters  []ClusterListener
	nodes     []NodeListener
	instances []InstanceListener
	observers []Observer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(cluster string, queue *Queue, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		cluster: cluster,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With("cluster", cluster, "component", "dispatcher"),
	}
}

func (d *Dispatcher) AddClusterListener(l ClusterListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clusters = append(d.clusters, l)
}

func (d *Dispatcher) AddNodeListener(l NodeListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = append(d.nodes, l)
}

func (d *Dispatcher) AddInstanceListener(l InstanceListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances = append(d.instances, l)
}

func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Start launches the consumer loop
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop ends the loop and waits for the in-flight event
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	if !sleep(ctx, d.cfg.InitialDelay) {
		return
	}
	for {
		d.Drain(ctx)
		if !sleep(ctx, d.cfg.Interval) {
			return
		}
	}
}

// Drain delivers events until the queue stays empty for one poll timeout
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for {
		e, ok := d.queue.Poll(ctx, d.cfg.PollTimeout)
		if !ok {
			return n
		}
		d.Dispatch(e)
		n++
	}
}

// Dispatch delivers e synchronously
func (d *Dispatcher) Dispatch(e Event) {
	d.logger.Info("Processing topology event", "event", e.String())

	d.mu.RLock()
	clusters := d.clusters
	nodes := d.nodes
	instances := d.instances
	observers := d.observers
	d.mu.RUnlock()

	switch e.Kind.Category() {
	case CategoryCluster:
		for _, l := range clusters {
			d.safely(e, func() {
				if e.Kind == Rehash {
					l.ClusterRehash(e.Status)
				} else {
					l.ClusterDataChanged(e.Data)
				}
			})
		}
	case CategoryNode:
		for _, l := range nodes {
			d.safely(e, func() {
				switch e.Kind {
				case NodeAdded:
					l.NodeAdded(e.Node)
				case NodeChanged:
					l.NodeDataChanged(e.Node)
				case NodeRemoved:
					l.NodeDeleted(e.Name)
				}
			})
		}
	case CategoryInstance:
		for _, l := range instances {
			d.safely(e, func() {
				switch e.Kind {
				case InstanceAdded:
					l.InstanceAdded(e.Instance)
				case InstanceChanged:
					l.InstanceDataChanged(e.Instance)
				case InstanceRemoved:
					l.InstanceDeleted(e.NodeName, e.Name)
				}
			})
		}
	}

	for _, o := range observers {
		d.safely(e, func() { o.Observe(e) })
	}
}

func (d *Dispatcher) safely(e Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Listener failed", "event", e.String(), "error", fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
