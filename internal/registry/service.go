package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/topology"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ErrNoClusterOrNode is returned when registering under a cluster or node
// that does not exist
var ErrNoClusterOrNode = errors.New("cluster or node does not exist")

const (
	defaultLeaseTTL        = 10
	defaultReregisterDelay = 2 * time.Second
)

// registration is one lease-bound instance entry
type registration struct {
	cluster string
	rec     topology.InstanceRecord
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

func (r *registration) key(t topology.ClusterType) string {
	return metadata.InstancePath(t, r.cluster, r.rec.NodeName, r.rec.Name)
}

// Service lets backend instances and operators register topology entries.
// Ephemeral instance entries live as long as this process keeps their
// lease alive.
type Service struct {
	client *clientv3.Client
	typ    topology.ClusterType
	ttl    int64
	logger *logging.Logger

	reregisterDelay time.Duration
	now             func() time.Time

	mu      sync.Mutex
	entries map[string]*registration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a registration service. sessionTTL is the lease TTL
// of ephemeral entries.
func NewService(client *clientv3.Client, t topology.ClusterType, sessionTTL time.Duration, logger *logging.Logger) *Service {
	ttl := int64(sessionTTL / time.Second)
	if ttl < 1 {
		ttl = defaultLeaseTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client:          client,
		typ:             t,
		ttl:             ttl,
		logger:          logger.With("component", "registry"),
		reregisterDelay: defaultReregisterDelay,
		now:             func() time.Time { return time.Now().UTC() },
		entries:         make(map[string]*registration),
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return resp.Count > 0, nil
}

// RegisterNode writes node under its cluster. An existing node is left
// alone unless overwrite is set.
func (s *Service) RegisterNode(ctx context.Context, node *topology.Node, overwrite bool) error {
	rec := node.Record()
	ok, err := s.exists(ctx, metadata.ClusterPath(s.typ, rec.ClusterName))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cluster %s: %w", rec.ClusterName, ErrNoClusterOrNode)
	}

	key := metadata.NodePath(s.typ, rec.ClusterName, rec.Name)
	if !overwrite {
		found, err := s.exists(ctx, key)
		if err != nil {
			return err
		}
		if found {
			s.logger.Info("Node already registered", "cluster", rec.ClusterName, "node", rec.Name)
			return nil
		}
	}

	now := s.now()
	if rec.AddTime.IsZero() {
		rec.AddTime = now
	}
	rec.LastModifyTime = now
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	if _, err := s.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	s.logger.Info("Node registered", "cluster", rec.ClusterName, "node", rec.Name)
	return nil
}

// RegisterInstance writes inst under clusterName and its node. An existing
// entry is left alone unless overwrite is set, in which case it is deleted
// and recreated. An ephemeral entry is bound to a lease that is kept alive
// until UnregisterInstance or Close.
func (s *Service) RegisterInstance(ctx context.Context, inst *topology.Instance, clusterName string, overwrite, ephemeral bool) error {
	rec := inst.Record()
	nodeKey := metadata.NodePath(s.typ, clusterName, rec.NodeName)

	for _, key := range []string{metadata.ClusterPath(s.typ, clusterName), nodeKey} {
		ok, err := s.exists(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", key, ErrNoClusterOrNode)
		}
	}

	reg := &registration{cluster: clusterName, rec: rec}
	key := reg.key(s.typ)
	found, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if !overwrite {
			s.logger.Info("Instance already registered", "cluster", clusterName, "node", rec.NodeName, "instance", rec.Name)
			return nil
		}
		s.forget(ctx, key)
		if _, err := s.client.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete instance %s: %w", key, err)
		}
	}

	now := s.now()
	if reg.rec.AddTime.IsZero() {
		reg.rec.AddTime = now
	}
	reg.rec.LastModifyTime = now

	if ephemeral {
		if err := s.putLeased(ctx, reg); err != nil {
			return err
		}
		s.track(reg)
	} else if err := s.put(ctx, key, reg.rec); err != nil {
		return err
	}

	if err := s.touchNode(ctx, nodeKey, now); err != nil {
		return err
	}

	s.logger.Info("Instance registered",
		"cluster", clusterName, "node", rec.NodeName, "instance", rec.Name,
		"endpoint", reg.rec.Endpoint(), "ephemeral", ephemeral)
	return nil
}

func (s *Service) put(ctx context.Context, key string, rec topology.InstanceRecord, opts ...clientv3.OpOption) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	if _, err := s.client.Put(ctx, key, string(data), opts...); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

func (s *Service) putLeased(ctx context.Context, reg *registration) error {
	lease, err := s.client.Grant(ctx, s.ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	s.mu.Lock()
	reg.leaseID = lease.ID
	s.mu.Unlock()
	return s.put(ctx, reg.key(s.typ), reg.rec, clientv3.WithLease(lease.ID))
}

// touchNode marks the node as modified and restarts its warm-up
func (s *Service) touchNode(ctx context.Context, nodeKey string, now time.Time) error {
	resp, err := s.client.Get(ctx, nodeKey)
	if err != nil {
		return fmt.Errorf("failed to read node %s: %w", nodeKey, err)
	}
	if len(resp.Kvs) == 0 {
		return fmt.Errorf("%s: %w", nodeKey, ErrNoClusterOrNode)
	}
	var rec topology.NodeRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return fmt.Errorf("%w: node %s: %v", metadata.ErrBadData, nodeKey, err)
	}
	rec.LastModifyTime = now
	rec.WarmupBeginTime = now
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	if _, err := s.client.Put(ctx, nodeKey, string(data)); err != nil {
		return fmt.Errorf("failed to update node %s: %w", nodeKey, err)
	}
	return nil
}

// track starts the keep-alive loop of reg
func (s *Service) track(reg *registration) {
	ctx, cancel := context.WithCancel(s.ctx)
	reg.cancel = cancel

	s.mu.Lock()
	s.entries[reg.key(s.typ)] = reg
	s.mu.Unlock()

	s.wg.Add(1)
	go s.keepAlive(ctx, reg)
}

// keepAlive holds the lease of reg and re-registers the entry when the
// keep-alive channel closes
func (s *Service) keepAlive(ctx context.Context, reg *registration) {
	defer s.wg.Done()

	for {
		ch, err := s.client.KeepAlive(ctx, s.lease(reg))
		if err != nil {
			s.logger.Error("Failed to start keep-alive", "key", reg.key(s.typ), "error", err)
		} else {
			for ka := range ch {
				s.logger.Debug("Heartbeat sent", "lease_id", int64(ka.ID), "ttl", ka.TTL)
			}
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("Keep-alive channel closed, attempting re-registration", "key", reg.key(s.typ))
		select {
		case <-time.After(s.reregisterDelay):
		case <-ctx.Done():
			return
		}
		if err := s.putLeased(ctx, reg); err != nil {
			s.logger.Error("Failed to re-register", "key", reg.key(s.typ), "error", err)
			continue
		}
		s.logger.Info("Instance re-registered", "key", reg.key(s.typ), "lease_id", int64(s.lease(reg)))
	}
}

func (s *Service) lease(reg *registration) clientv3.LeaseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reg.leaseID
}

// forget stops tracking key and revokes its lease
func (s *Service) forget(ctx context.Context, key string) {
	s.mu.Lock()
	reg, ok := s.entries[key]
	delete(s.entries, key)
	var lease clientv3.LeaseID
	if ok {
		lease = reg.leaseID
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	reg.cancel()
	if _, err := s.client.Revoke(ctx, lease); err != nil {
		s.logger.Warn("Failed to revoke lease", "key", key, "error", err)
	}
}

// UnregisterInstance deletes an instance entry and stops its keep-alive
func (s *Service) UnregisterInstance(ctx context.Context, clusterName, nodeName, instanceName string) error {
	key := metadata.InstancePath(s.typ, clusterName, nodeName, instanceName)
	s.forget(ctx, key)
	if _, err := s.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to unregister instance %s: %w", key, err)
	}
	s.logger.Info("Instance unregistered", "cluster", clusterName, "node", nodeName, "instance", instanceName)
	return nil
}

// Registered returns the keys of the ephemeral entries kept alive
func (s *Service) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for key := range s.entries {
		out = append(out, key)
	}
	return out
}

// Close revokes every ephemeral entry. The etcd client is not closed.
func (s *Service) Close() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range keys {
		s.forget(ctx, key)
	}
	s.cancel()
	s.wg.Wait()
}
