package watcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/topology"
)

// PeerClient is one client's end of a cluster's rehash channel. The
// controller writes commands into the control path; every client answers
// through its own session-bound path.
type PeerClient struct {
	store   metadata.Store
	typ     topology.ClusterType
	cluster string
	client  string
	queue   *events.Queue
	logger  *logging.Logger

	mu     sync.Mutex
	status topology.RehashStatus

	unregister func()
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPeerClient creates the rehash channel of client for cluster
func NewPeerClient(store metadata.Store, t topology.ClusterType, cluster, client string, queue *events.Queue, logger *logging.Logger) *PeerClient {
	return &PeerClient{
		store:   store,
		typ:     t,
		cluster: cluster,
		client:  client,
		queue:   queue,
		status:  topology.RehashNormal,
		logger:  logger.With("cluster", cluster, "component", "peer_client", "client", client),
	}
}

func (p *PeerClient) controlPath() string { return metadata.ControlPath(p.typ, p.cluster) }

func (p *PeerClient) clientPath() string {
	return metadata.ClientPath(p.typ, p.cluster, p.client)
}

// Start creates both paths and watches the control path. The client path
// is recreated after a session loss until Stop.
func (p *PeerClient) Start(ctx context.Context) error {
	if err := p.ensurePaths(ctx); err != nil {
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.unregister = p.store.OnSession(func(sessionCtx context.Context) {
		if ctx.Err() != nil {
			return
		}
		if err := p.ensurePaths(sessionCtx); err != nil {
			p.logger.Error("Failed to recreate rehash paths", "error", err)
			return
		}
		p.logger.Info("Rehash paths recreated after session loss")
	})
	control := p.controlPath()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		watchLoop(ctx, p.store, control, p.logger, p.handle, nil)
	}()

	p.logger.Info("Rehash channel started", "control", control)
	return nil
}

func (p *PeerClient) ensurePaths(ctx context.Context) error {
	if _, err := p.store.Create(ctx, p.controlPath(), []byte(topology.RehashNormal)); err != nil {
		return fmt.Errorf("failed to create control path: %w", err)
	}
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if err := p.store.PutEphemeral(ctx, p.clientPath(), []byte(status)); err != nil {
		return fmt.Errorf("failed to create client path: %w", err)
	}
	return nil
}

func (p *PeerClient) handle(ev metadata.Event) {
	// client paths live below the control path
	if ev.Key != p.controlPath() || ev.Type != metadata.EventPut {
		return
	}
	status, err := topology.ParseRehashStatus(string(ev.Value))
	if err != nil {
		p.logger.Warn("Ignoring unknown rehash command", "value", string(ev.Value))
		return
	}
	p.logger.Info("Rehash command received", "status", status.String())
	p.queue.Push(events.NewRehash(p.cluster, status))
}

// Refresh publishes this client's rehash status
func (p *PeerClient) Refresh(ctx context.Context, status topology.RehashStatus) error {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	if err := p.store.PutEphemeral(ctx, p.clientPath(), []byte(status.String())); err != nil {
		return fmt.Errorf("failed to report rehash status %s: %w", status, err)
	}
	p.logger.Info("Rehash status reported", "status", status.String())
	return nil
}

// Status returns the last reported status
func (p *PeerClient) Status() topology.RehashStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Stop ends the watch and removes the client path
func (p *PeerClient) Stop(ctx context.Context) {
	if p.unregister != nil {
		p.unregister()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if err := p.store.Delete(ctx, p.clientPath(), false); err != nil {
		p.logger.Warn("Failed to remove client path", "error", err)
	}
}
