package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// warmAttempts is how many times a new pool tries to pre-warm before the
// endpoint is marked failed
const warmAttempts = 3

// Registry holds one pooled handle per endpoint for the whole process
type Registry struct {
	dialer Dialer
	opts   Options
	logger *logging.Logger

	conns  sync.Map // endpoint -> Conn
	failed sync.Map // endpoint -> error
	locks  sync.Map // endpoint -> *sync.Mutex
}

func NewRegistry(dialer Dialer, opts Options, logger *logging.Logger) *Registry {
	return &Registry{
		dialer: dialer,
		opts:   opts,
		logger: logger.With("component", "pool_registry"),
	}
}

func (r *Registry) lock(endpoint string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(endpoint, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Init makes sure inst has a pool. An existing pool is kept unless forced;
// a forced rebuild closes the old handle and moves its subscriptions to the
// new one. The handle is stored even when pre-warming fails, and that
// failure is only returned for instances that take writes.
func (r *Registry) Init(ctx context.Context, inst *topology.Instance, forced bool) error {
	endpoint := inst.Endpoint()
	mu := r.lock(endpoint)
	mu.Lock()
	defer mu.Unlock()

	if _, exists := r.Get(endpoint); exists && !forced {
		return nil
	}

	conn, err := r.dialer.Dial(endpoint, r.opts)
	if err != nil {
		r.failed.Store(endpoint, err)
		return fmt.Errorf("failed to create pool for %s: %w", endpoint, err)
	}

	var warmErr error
	for attempt := 1; attempt <= warmAttempts; attempt++ {
		if warmErr = conn.Warm(ctx, r.opts.InitConns); warmErr == nil {
			break
		}
		r.logger.Warn("Failed to warm pool", "endpoint", endpoint, "attempt", attempt, "error", warmErr)
	}
	if warmErr != nil {
		r.failed.Store(endpoint, warmErr)
	} else {
		r.failed.Delete(endpoint)
	}

	if old, replaced := r.Swap(endpoint, conn); replaced {
		r.migrate(ctx, old, conn)
		if err := old.Close(); err != nil {
			r.logger.Warn("Failed to close replaced pool", "endpoint", endpoint, "error", err)
		}
	}

	r.logger.Info("Pool initialized",
		"endpoint", endpoint, "instance", inst.Name(), "forced", forced,
		"profile", r.opts.Preset.Name, "warm", warmErr == nil)

	if warmErr != nil && !inst.IsSlave() {
		return fmt.Errorf("failed to initialize pool for %s: %w", endpoint, warmErr)
	}
	return nil
}

// migrate replays the subscriptions of from onto to
func (r *Registry) migrate(ctx context.Context, from, to Conn) {
	for _, sub := range from.Subscriptions() {
		if err := to.Subscribe(ctx, sub.Handler, sub.Channels...); err != nil {
			r.logger.Error("Failed to migrate subscription",
				"endpoint", to.Endpoint(), "channels", fmt.Sprint(sub.Channels), "error", err)
			continue
		}
		r.logger.Info("Subscription migrated", "endpoint", to.Endpoint(), "channels", fmt.Sprint(sub.Channels))
	}
}

func (r *Registry) Get(endpoint string) (Conn, bool) {
	v, ok := r.conns.Load(endpoint)
	if !ok {
		return nil, false
	}
	return v.(Conn), true
}

// Swap installs conn for endpoint and returns the previous handle, if any.
// The previous handle is not closed.
func (r *Registry) Swap(endpoint string, conn Conn) (Conn, bool) {
	v, loaded := r.conns.Swap(endpoint, conn)
	if !loaded {
		return nil, false
	}
	return v.(Conn), true
}

// Remove closes and forgets the pool of endpoint
func (r *Registry) Remove(endpoint string) bool {
	mu := r.lock(endpoint)
	mu.Lock()
	defer mu.Unlock()
	defer r.locks.Delete(endpoint)

	v, ok := r.conns.LoadAndDelete(endpoint)
	r.failed.Delete(endpoint)
	if !ok {
		return false
	}
	if err := v.(Conn).Close(); err != nil {
		r.logger.Warn("Failed to close pool", "endpoint", endpoint, "error", err)
	}
	r.logger.Info("Pool removed", "endpoint", endpoint)
	return true
}

// Failed reports whether the last Init of endpoint could not pre-warm
func (r *Registry) Failed(endpoint string) bool {
	_, ok := r.failed.Load(endpoint)
	return ok
}

// Ping checks the pool of endpoint
func (r *Registry) Ping(ctx context.Context, endpoint string) error {
	conn, ok := r.Get(endpoint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConn, endpoint)
	}
	return conn.Ping(ctx)
}

func (r *Registry) Endpoints() []string {
	var out []string
	r.conns.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// lockCount returns the number of endpoints holding an init lock
func (r *Registry) lockCount() int {
	n := 0
	r.locks.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) Len() int {
	n := 0
	r.conns.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Stats returns a counter snapshot of every pool
func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats)
	r.conns.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(Conn).Stats()
		return true
	})
	return out
}

// Close closes every pool
func (r *Registry) Close() {
	for _, ep := range r.Endpoints() {
		r.Remove(ep)
	}
	r.logger.Info("Closed all pools")
}
