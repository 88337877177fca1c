package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// ErrRehashAborted is returned when a client reports FAIL or does not answer
// in time. The control channel is reset to NORMAL before returning.
var ErrRehashAborted = errors.New("rehash aborted")

// RehashTimeouts bounds each phase of a rehash
type RehashTimeouts struct {
	Ack    time.Duration // SYN until every client reports ACK
	Finish time.Duration // REHASH until every client reports FINISHED or NORMAL
	Poll   time.Duration
}

// RehashController drives the controller side of the rehash protocol:
// SYN, wait for ACK, REHASH, wait for FINISHED, NORMAL
type RehashController struct {
	status *StatusManager
	typ    topology.ClusterType
	logger *logging.Logger
}

func NewRehashController(store Store, t topology.ClusterType, logger *logging.Logger) *RehashController {
	return &RehashController{
		status: NewStatusManager(store, logger),
		typ:    t,
		logger: logger.With("component", "rehash_controller"),
	}
}

// Run performs one full rehash of cluster
func (r *RehashController) Run(ctx context.Context, cluster string, timeouts RehashTimeouts) error {
	logger := r.logger.ForCluster(cluster)

	clients, err := r.status.ClientStatuses(ctx, r.typ, cluster)
	if err != nil {
		return fmt.Errorf("failed to list clients of %s: %w", cluster, err)
	}
	if len(clients) == 0 {
		logger.Warn("No registered clients, the new topology applies on next load")
	}

	if err := r.status.UpdateClusterStatus(ctx, r.typ, cluster, topology.RehashSyn); err != nil {
		return fmt.Errorf("failed to write SYN: %w", err)
	}
	logger.Info("SYN written, waiting for clients", "clients", len(clients))

	if err := r.waitAll(ctx, cluster, timeouts.Ack, timeouts.Poll, topology.RehashAck); err != nil {
		return r.abort(cluster, err)
	}

	if err := r.status.UpdateClusterStatus(ctx, r.typ, cluster, topology.RehashRehash); err != nil {
		return r.abort(cluster, fmt.Errorf("failed to write REHASH: %w", err))
	}
	logger.Info("REHASH written, waiting for clients to switch")

	if err := r.waitAll(ctx, cluster, timeouts.Finish, timeouts.Poll, topology.RehashFinished, topology.RehashNormal); err != nil {
		return r.abort(cluster, err)
	}

	if err := r.status.UpdateClusterStatus(ctx, r.typ, cluster, topology.RehashNormal); err != nil {
		return fmt.Errorf("failed to write NORMAL: %w", err)
	}
	logger.Info("Rehash finished")
	return nil
}

// waitAll polls client statuses until every client is in one of accepted.
// A FAIL from any client ends the wait immediately.
func (r *RehashController) waitAll(ctx context.Context, cluster string, timeout, poll time.Duration, accepted ...topology.RehashStatus) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		statuses, err := r.status.ClientStatuses(ctx, r.typ, cluster)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to read client statuses: %w", err)
		}

		var pending, failed []string
		for client, st := range statuses {
			if st == topology.RehashFail {
				failed = append(failed, client)
				continue
			}
			if !isOneOf(st, accepted) {
				pending = append(pending, client)
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			return fmt.Errorf("%w: clients %v reported fail", ErrRehashAborted, failed)
		}
		if err == nil && len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			sort.Strings(pending)
			return fmt.Errorf("%w: waiting for %v from %v: %v", ErrRehashAborted, accepted, pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// abort resets the control channel so clients drop any staged topology on
// the next SYN
func (r *RehashController) abort(cluster string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.status.UpdateClusterStatus(ctx, r.typ, cluster, topology.RehashNormal); err != nil {
		r.logger.Error("Failed to reset control channel", "cluster", cluster, "error", err)
	}
	r.logger.Warn("Rehash aborted", "cluster", cluster, "error", cause)
	return cause
}

func isOneOf(st topology.RehashStatus, list []topology.RehashStatus) bool {
	for _, s := range list {
		if st == s {
			return true
		}
	}
	return false
}
