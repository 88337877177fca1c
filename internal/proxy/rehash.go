package proxy

import (
	"fmt"
	"time"

	"github.com/soltixdb/shardgate/internal/topology"
)

// ClusterRehash drives this client's side of the two-phase shard map swap.
// SYN stages a fresh topology, REHASH serves it. Any failure reports FAIL and
// leaves the served topology untouched.
func (p *StoreProxy) ClusterRehash(status topology.RehashStatus) {
	var err error
	switch status {
	case topology.RehashSyn:
		err = p.guard(p.syn)
	case topology.RehashRehash:
		err = p.guard(p.rehash)
	default:
		p.logger.Info("Rehash status ignored", "status", status.String())
		return
	}
	if err != nil {
		p.logger.Error("Rehash step failed", "status", status.String(), "error", err)
		p.report(topology.RehashFail)
	}
}

// guard turns a panic in fn into an error
func (p *StoreProxy) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (p *StoreProxy) syn() error {
	cluster, err := p.client.Load(p.ctx)
	if err != nil {
		return err
	}
	if cluster == nil {
		return fmt.Errorf("cluster %s loaded empty", p.name)
	}
	p.initPools(p.ctx, cluster)

	p.mu.Lock()
	p.staged = cluster
	p.mu.Unlock()

	p.logger.Info("Topology staged", "nodes", len(cluster.Nodes()))
	p.report(topology.RehashAck)
	return nil
}

func (p *StoreProxy) rehash() error {
	p.mu.Lock()
	staged := p.staged
	p.mu.Unlock()
	if staged == nil {
		return fmt.Errorf("no staged topology for cluster %s", p.name)
	}

	if !p.sleep(p.graceSyn) {
		return p.ctx.Err()
	}

	p.mu.Lock()
	p.cluster.Store(staged)
	p.rebuildLocator()
	p.staged = nil
	p.mu.Unlock()

	p.logger.Info("Staged topology is now served")
	p.report(topology.RehashFinished)

	if !p.sleep(p.graceFinish) {
		return nil
	}
	p.report(topology.RehashNormal)
	return nil
}

func (p *StoreProxy) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *StoreProxy) report(status topology.RehashStatus) {
	if err := p.peer.Refresh(p.ctx, status); err != nil {
		p.logger.Error("Failed to report rehash status", "status", status.String(), "error", err)
	}
}
