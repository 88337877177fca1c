package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// StatusManager reads and writes the rehash status channels under
// /clients/{TYPE}/{cluster}
type StatusManager struct {
	store  Store
	logger *logging.Logger
}

func NewStatusManager(store Store, logger *logging.Logger) *StatusManager {
	return &StatusManager{store: store, logger: logger}
}

// ClusterStatus returns the value of the cluster's control channel
func (m *StatusManager) ClusterStatus(ctx context.Context, t topology.ClusterType, cluster string) (topology.RehashStatus, error) {
	return m.read(ctx, ControlPath(t, cluster))
}

// UpdateClusterStatus writes the cluster's control channel
func (m *StatusManager) UpdateClusterStatus(ctx context.Context, t topology.ClusterType, cluster string, status topology.RehashStatus) error {
	if strings.TrimSpace(cluster) == "" {
		return fmt.Errorf("empty cluster name")
	}
	return m.store.Put(ctx, ControlPath(t, cluster), []byte(status.String()))
}

// ClientStatuses returns client name → reported status for every client
// registered on the cluster. Unparseable values are logged and skipped.
func (m *StatusManager) ClientStatuses(ctx context.Context, t topology.ClusterType, cluster string) (map[string]topology.RehashStatus, error) {
	path := ControlPath(t, cluster)
	clients, err := m.store.Children(ctx, path)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]topology.RehashStatus, len(clients))
	for _, client := range clients {
		status, err := m.read(ctx, JoinPath(path, client))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			m.logger.Warn("Ignoring client status", "cluster", cluster, "client", client, "error", err)
			continue
		}
		statuses[client] = status
	}
	return statuses, nil
}

// ClientStatus returns the status reported by one client
func (m *StatusManager) ClientStatus(ctx context.Context, t topology.ClusterType, cluster, client string) (topology.RehashStatus, error) {
	return m.read(ctx, ClientPath(t, cluster, client))
}

// UpdateClientStatus overwrites one client's channel. Clients normally write
// their own channel through the peer client; this is for operators.
func (m *StatusManager) UpdateClientStatus(ctx context.Context, t topology.ClusterType, cluster, client string, status topology.RehashStatus) error {
	if strings.TrimSpace(cluster) == "" || strings.TrimSpace(client) == "" {
		return fmt.Errorf("cluster and client names are required")
	}
	return m.store.Put(ctx, ClientPath(t, cluster, client), []byte(status.String()))
}

func (m *StatusManager) read(ctx context.Context, path string) (topology.RehashStatus, error) {
	data, err := m.store.Get(ctx, path)
	if err != nil {
		return "", err
	}
	return topology.ParseRehashStatus(string(data))
}
