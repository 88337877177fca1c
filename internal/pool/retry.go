package pool

import (
	"context"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/failfast"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// ClusterSource lists the clusters whose pools are kept alive
type ClusterSource func() []*topology.Cluster

// RetryTask periodically creates missing pools and rebuilds failed ones for
// alive instances of ACTIVE nodes. Each endpoint is retried with
// exponential back-off.
type RetryTask struct {
	registry *Registry
	source   ClusterSource
	timer    *failfast.AttenuationTimer
	delay    time.Duration
	interval time.Duration
	logger   *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRetryTask(registry *Registry, source ClusterSource, delay, interval time.Duration, logger *logging.Logger) *RetryTask {
	return &RetryTask{
		registry: registry,
		source:   source,
		timer:    failfast.NewAttenuationTimer(failfast.DefaultAttenuationMin, failfast.DefaultAttenuationMax),
		delay:    delay,
		interval: interval,
		logger:   logger.With("component", "pool_retry"),
	}
}

// RunOnce performs one pass and returns how many pools it tried to build
func (t *RetryTask) RunOnce(ctx context.Context) int {
	attempts := 0
	for _, cluster := range t.source() {
		for _, node := range cluster.ActiveNodes() {
			for _, inst := range topology.AliveInstances(node) {
				endpoint := inst.Endpoint()
				_, exists := t.registry.Get(endpoint)
				failed := t.registry.Failed(endpoint)
				if exists && !failed {
					t.timer.Remove(endpoint)
					continue
				}
				if !t.timer.OnTime(endpoint) {
					continue
				}

				attempts++
				if err := t.registry.Init(ctx, inst, failed); err != nil {
					t.logger.Warn("Pool retry failed",
						"cluster", cluster.Name(), "node", node.Name(), "endpoint", endpoint,
						"next_in", t.timer.Interval(endpoint), "error", err)
					continue
				}
				if !t.registry.Failed(endpoint) {
					t.timer.Remove(endpoint)
					t.logger.Info("Pool restored", "cluster", cluster.Name(), "endpoint", endpoint)
				}
			}
		}
	}
	return attempts
}

// Start runs the task after the initial delay and then every interval
func (t *RetryTask) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			t.RunOnce(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (t *RetryTask) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}
