package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soltixdb/shardgate/internal/pool"
	"github.com/soltixdb/shardgate/internal/topology"
)

// Execute routes op to the node owning op.Key. Reads try each usable read
// candidate in order and move on only on connection failures; writes go to
// every usable write endpoint and stop at the first error.
func (c *Coordinator) Execute(ctx context.Context, clusterName string, op Operation) (interface{}, error) {
	if op.Key == "" {
		return nil, ErrEmptyKey
	}
	node, err := c.Locate(clusterName, op.Key)
	if err != nil {
		return nil, err
	}

	var candidates []string
	if op.Command.IsRead() {
		candidates, err = c.ReadEndpoints(clusterName, op.Key, node)
	} else {
		candidates, err = c.WriteEndpoints(node)
	}
	if err != nil {
		return nil, err
	}

	targets, skipped := c.usable(candidates)
	if len(targets) == 0 {
		return nil, fmt.Errorf("unable to find usable connection under node %s/%s for key %s, fail-fast: %v: %w",
			clusterName, node.Name(), op.Key, skipped, ErrNoUsableConn)
	}

	if op.Command.IsRead() {
		return c.read(ctx, clusterName, node, targets, op)
	}
	return c.write(ctx, clusterName, node, targets, op)
}

func (c *Coordinator) read(ctx context.Context, clusterName string, node *topology.Node, targets []string, op Operation) (interface{}, error) {
	var lastErr error
	for _, ep := range targets {
		reply, err := c.call(ctx, clusterName, ep, op)
		if err == nil || !pool.IsConnError(err) {
			return reply, err
		}
		lastErr = err
		c.health.ReportFailure(clusterName, node.Name(), ep)
		c.logger.Warn("Read failed, trying next instance", "cluster", clusterName, "endpoint", ep, "error", err)
	}
	return nil, lastErr
}

func (c *Coordinator) write(ctx context.Context, clusterName string, node *topology.Node, targets []string, op Operation) (interface{}, error) {
	var reply interface{}
	for _, ep := range targets {
		r, err := c.call(ctx, clusterName, ep, op)
		if err != nil {
			if pool.IsConnError(err) {
				c.health.ReportFailure(clusterName, node.Name(), ep)
			}
			return nil, err
		}
		if reply == nil {
			reply = r
		}
	}
	return reply, nil
}

// call runs op on one endpoint and records its latency. The breaker learns
// the outcome from the pool command hook.
func (c *Coordinator) call(ctx context.Context, clusterName, endpoint string, op Operation) (interface{}, error) {
	conn, ok := c.registry.Get(endpoint)
	if !ok {
		return nil, fmt.Errorf("%s: %w", endpoint, pool.ErrNoConn)
	}
	start := time.Now()
	reply, err := conn.Do(ctx, op.argv()...)
	c.monitor.Record(clusterName, endpoint, string(op.Command), time.Since(start))
	return reply, err
}

// Subscribe subscribes handler on the first write endpoint of the node
// owning key. The subscription follows the pool when it is replaced.
func (c *Coordinator) Subscribe(ctx context.Context, clusterName, key string, handler pool.MessageHandler, channels ...string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if len(channels) == 0 {
		return "", errors.New("at least one channel is required")
	}
	node, err := c.Locate(clusterName, key)
	if err != nil {
		return "", err
	}
	targets, err := c.WriteEndpoints(node)
	if err != nil {
		return "", err
	}
	ep := targets[0]
	conn, ok := c.registry.Get(ep)
	if !ok {
		return "", fmt.Errorf("%s: %w", ep, pool.ErrNoConn)
	}
	if err := conn.Subscribe(ctx, handler, channels...); err != nil {
		return "", fmt.Errorf("failed to subscribe on %s: %w", ep, err)
	}
	return ep, nil
}
