package failfast

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/logging"
)

const (
	probeBackoff   = 200 * time.Millisecond
	retryTickEvery = 500 * time.Millisecond
)

// NodeActiveFunc reports whether a node is ACTIVE in the served topology
type NodeActiveFunc func(cluster, node string) bool

type target struct {
	cluster  string
	node     string
	endpoint string
}

func (t target) key() string { return t.cluster + ":" + t.node + ":" + t.endpoint }

type retry struct {
	target target
	due    time.Time
}

// HealthChecker confirms reported failures with a bounded number of probes
// and flags endpoints that stay dead as removed until a delayed retry finds
// them alive again.
type HealthChecker struct {
	cfg      config.FailFastConfig
	ping     PingFunc
	active   NodeActiveFunc
	isolator *Isolator
	sem      *semaphore.Weighted
	logger   *logging.Logger

	probing sync.Map // target key -> struct{}
	removed sync.Map // endpoint -> target

	mu      sync.Mutex
	retries []retry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewHealthChecker creates a checker. isolator may be nil.
func NewHealthChecker(cfg config.FailFastConfig, ping PingFunc, active NodeActiveFunc, isolator *Isolator, logger *logging.Logger) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthChecker{
		cfg:      cfg,
		ping:     ping,
		active:   active,
		isolator: isolator,
		sem:      semaphore.NewWeighted(cfg.ProbeConcurrency),
		logger:   logger.With("component", "health_checker"),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// ReportFailure schedules a probe of endpoint unless it is already removed,
// already being probed, or every probe slot is busy
func (h *HealthChecker) ReportFailure(cluster, node, endpoint string) {
	if h.IsRemoved(endpoint) {
		return
	}
	t := target{cluster: cluster, node: node, endpoint: endpoint}
	if _, busy := h.probing.LoadOrStore(t.key(), struct{}{}); busy {
		return
	}
	if !h.sem.TryAcquire(1) {
		h.probing.Delete(t.key())
		h.logger.Debug("Probe slots exhausted, skipping", "endpoint", endpoint)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.sem.Release(1)
		defer h.probing.Delete(t.key())
		h.probe(t)
	}()
}

func (h *HealthChecker) probe(t target) {
	for i := 1; i <= h.cfg.ProbeAttempts; i++ {
		if err := h.ping(h.ctx, t.endpoint); err == nil {
			return
		}
		if i == h.cfg.ProbeAttempts {
			break
		}
		select {
		case <-time.After(probeBackoff * time.Duration(i)):
		case <-h.ctx.Done():
			return
		}
	}

	if h.isolator != nil && !h.isolator.Isolate(t.endpoint) {
		h.logger.Warn("Isolation refused, endpoint stays in rotation", "endpoint", t.endpoint, "cluster", t.cluster)
		return
	}
	h.removed.Store(t.endpoint, t)
	h.enqueue(t)
	h.logger.Warn("Endpoint removed after failed probes",
		"cluster", t.cluster, "node", t.node, "endpoint", t.endpoint, "attempts", h.cfg.ProbeAttempts)
}

func (h *HealthChecker) enqueue(t target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, retry{target: t, due: h.now().Add(h.cfg.RetryDelay)})
}

// IsRemoved reports whether endpoint is flagged as removed
func (h *HealthChecker) IsRemoved(endpoint string) bool {
	if _, ok := h.removed.Load(endpoint); !ok {
		return false
	}
	if h.isolator != nil && !h.isolator.IsIsolated(endpoint) {
		h.removed.Delete(endpoint)
		h.logger.Info("Isolation expired, endpoint back in rotation", "endpoint", endpoint)
		return false
	}
	return true
}

// Removed returns the endpoints flagged as removed
func (h *HealthChecker) Removed() []string {
	var out []string
	h.removed.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// RunRetries retries every due endpoint once: an endpoint on an ACTIVE node
// that answers a ping is restored, anything else is re-queued
func (h *HealthChecker) RunRetries(ctx context.Context) {
	now := h.now()

	h.mu.Lock()
	var due []retry
	pending := h.retries[:0]
	for _, r := range h.retries {
		if now.Before(r.due) {
			pending = append(pending, r)
		} else {
			due = append(due, r)
		}
	}
	h.retries = pending
	h.mu.Unlock()

	for _, r := range due {
		t := r.target
		if _, ok := h.removed.Load(t.endpoint); !ok {
			continue
		}
		if h.active(t.cluster, t.node) && h.ping(ctx, t.endpoint) == nil {
			h.removed.Delete(t.endpoint)
			if h.isolator != nil {
				h.isolator.Release(t.endpoint)
			}
			h.logger.Info("Endpoint restored", "cluster", t.cluster, "endpoint", t.endpoint)
			continue
		}
		h.enqueue(t)
	}
}

// Start runs the retry loop until Stop
func (h *HealthChecker) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(retryTickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				h.RunRetries(h.ctx)
			}
		}
	}()
}

// Stop cancels probes and the retry loop
func (h *HealthChecker) Stop() {
	h.cancel()
	h.wg.Wait()
}
