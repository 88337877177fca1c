package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore implements Store on etcd. Ephemeral keys share one lease that is
// kept alive in the background and re-granted when it is lost.
type EtcdStore struct {
	client *clientv3.Client
	logger *logging.Logger
	ttl    int64
	owned  bool

	leaseMu   sync.Mutex
	leaseID   clientv3.LeaseID
	onSession sessionHooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEtcdStore connects to the configured etcd cluster
func NewEtcdStore(cfg config.EtcdConfig, logger *logging.Logger) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	s := NewEtcdStoreWithClient(client, cfg.SessionTTL, logger)
	s.owned = true
	return s, nil
}

// NewEtcdStoreWithClient wraps an existing client. The client is not closed
// by Close.
func NewEtcdStoreWithClient(client *clientv3.Client, sessionTTL time.Duration, logger *logging.Logger) *EtcdStore {
	ttl := int64(sessionTTL / time.Second)
	if ttl < 1 {
		ttl = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Client exposes the underlying etcd client
func (s *EtcdStore) Client() *clientv3.Client {
	return s.client
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from etcd: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (s *EtcdStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) PutEphemeral(ctx context.Context, key string, value []byte) error {
	lease, err := s.lease(ctx)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, key, string(value), clientv3.WithLease(lease)); err != nil {
		return fmt.Errorf("failed to put ephemeral %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Create(ctx context.Context, key string, value []byte) (bool, error) {
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string, recursive bool) error {
	ops := []clientv3.Op{clientv3.OpDelete(key)}
	if recursive {
		ops = append(ops, clientv3.OpDelete(key+"/", clientv3.WithPrefix()))
	}
	if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *EtcdStore) Children(ctx context.Context, key string) ([]string, error) {
	resp, err := s.client.Get(ctx, key+"/",
		clientv3.WithPrefix(),
		clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", key, err)
	}

	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if name := childName(key, string(kv.Key)); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *EtcdStore) Watch(ctx context.Context, key string) <-chan Event {
	out := make(chan Event, 64)
	wch := s.client.Watch(clientv3.WithRequireLeader(ctx), key, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				select {
				case out <- Event{Err: fmt.Errorf("watch %s: %w", key, err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, ev := range resp.Events {
				k := string(ev.Kv.Key)
				if _, ok := Relative(key, k); !ok {
					continue
				}
				e := Event{Type: EventPut, Key: k, Value: ev.Kv.Value}
				if ev.Type == clientv3.EventTypeDelete {
					e.Type = EventDelete
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *EtcdStore) OnSession(fn func(ctx context.Context)) func() {
	s.leaseMu.Lock()
	id := s.onSession.add(fn)
	s.leaseMu.Unlock()
	return func() {
		s.leaseMu.Lock()
		s.onSession.remove(id)
		s.leaseMu.Unlock()
	}
}

// lease returns the session lease, granting it on first use
func (s *EtcdStore) lease(ctx context.Context) (clientv3.LeaseID, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	if s.leaseID != 0 {
		return s.leaseID, nil
	}

	resp, err := s.client.Grant(ctx, s.ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to create lease: %w", err)
	}
	ch, err := s.client.KeepAlive(s.ctx, resp.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to start keep-alive: %w", err)
	}
	s.leaseID = resp.ID

	s.logger.Info("Lease created", "lease_id", int64(resp.ID), "ttl", s.ttl)

	s.wg.Add(1)
	go s.keepAlive(resp.ID, ch)
	return resp.ID, nil
}

// keepAlive drains the keep-alive channel. When it closes while the store is
// open the lease is gone: a new one is granted and session callbacks rebuild
// their ephemeral keys.
func (s *EtcdStore) keepAlive(id clientv3.LeaseID, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ka, ok := <-ch:
			if ok {
				if ka != nil {
					s.logger.Debug("Heartbeat sent", "lease_id", int64(id), "ttl", ka.TTL)
				}
				continue
			}

			s.logger.Warn("Keep-alive channel closed, re-establishing session", "lease_id", int64(id))
			s.leaseMu.Lock()
			if s.leaseID == id {
				s.leaseID = 0
			}
			callbacks := s.onSession.snapshot()
			s.leaseMu.Unlock()

			select {
			case <-time.After(2 * time.Second):
			case <-s.ctx.Done():
				return
			}

			if _, err := s.lease(s.ctx); err != nil {
				s.logger.Error("Failed to re-grant lease", "error", err)
				// the next PutEphemeral retries the grant
			}
			for _, fn := range callbacks {
				fn(s.ctx)
			}
			return
		}
	}
}

// Close revokes the session lease and releases the client
func (s *EtcdStore) Close() error {
	s.leaseMu.Lock()
	id := s.leaseID
	s.leaseID = 0
	s.leaseMu.Unlock()

	if id != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := s.client.Revoke(ctx, id); err != nil {
			s.logger.Warn("Failed to revoke lease", "lease_id", int64(id), "error", err)
		}
		cancel()
	}

	s.cancel()
	s.wg.Wait()

	if s.owned {
		return s.client.Close()
	}
	return nil
}
