package failfast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/logging"
)

// PingFunc checks one endpoint
type PingFunc func(ctx context.Context, endpoint string) error

type counter struct {
	success int64
	failure int64
}

// Breaker short-circuits endpoints whose failure ratio crossed the threshold
// during the last evaluation window. Listed endpoints are pinged until they
// answer again.
type Breaker struct {
	cfg    config.FailFastConfig
	ping   PingFunc
	logger *logging.Logger

	mu       sync.Mutex
	counters map[string]*counter
	listed   map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBreaker(cfg config.FailFastConfig, ping PingFunc, logger *logging.Logger) *Breaker {
	return &Breaker{
		cfg:      cfg,
		ping:     ping,
		logger:   logger.With("component", "breaker"),
		counters: make(map[string]*counter),
		listed:   make(map[string]time.Time),
	}
}

func (b *Breaker) Enabled() bool { return b.cfg.Enabled }

func (b *Breaker) RecordSuccess(endpoint string) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	b.counter(endpoint).success++
	b.mu.Unlock()
}

func (b *Breaker) RecordFailure(endpoint string) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	b.counter(endpoint).failure++
	b.mu.Unlock()
}

// counter returns the window counter of endpoint. Caller holds mu.
func (b *Breaker) counter(endpoint string) *counter {
	c, ok := b.counters[endpoint]
	if !ok {
		c = &counter{}
		b.counters[endpoint] = c
	}
	return c
}

// IsOpen reports whether endpoint is currently short-circuited
func (b *Breaker) IsOpen(endpoint string) bool {
	if !b.cfg.Enabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.listed[endpoint]
	return ok
}

// Listed returns the short-circuited endpoints
func (b *Breaker) Listed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.listed))
	for ep := range b.listed {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// Evaluate closes the current window and lists every endpoint that failed
// at least MinFailures times with a failure ratio above Ratio
func (b *Breaker) Evaluate() {
	b.mu.Lock()
	window := b.counters
	b.counters = make(map[string]*counter, len(window))
	b.mu.Unlock()

	for ep, c := range window {
		if c.failure == 0 {
			continue
		}
		ratio := float64(c.failure) / float64(c.failure+c.success)
		b.logger.Info("Endpoint failures in window",
			"endpoint", ep, "failures", c.failure, "successes", c.success, "ratio", ratio)

		if c.failure >= b.cfg.MinFailures && ratio > b.cfg.Ratio {
			b.mu.Lock()
			if _, ok := b.listed[ep]; !ok {
				b.listed[ep] = time.Now()
				b.logger.Warn("Endpoint short-circuited", "endpoint", ep, "ratio", ratio)
			}
			b.mu.Unlock()
		}
	}
}

// Recover pings every listed endpoint and unlists those that answer
func (b *Breaker) Recover(ctx context.Context) {
	for _, ep := range b.Listed() {
		if err := b.ping(ctx, ep); err != nil {
			b.logger.Debug("Short-circuited endpoint still failing", "endpoint", ep, "error", err)
			continue
		}
		b.mu.Lock()
		delete(b.listed, ep)
		b.mu.Unlock()
		b.logger.Info("Endpoint recovered", "endpoint", ep)
	}
}

// Start runs the evaluation and recovery loops when the switch is on
func (b *Breaker) Start(ctx context.Context) {
	if !b.cfg.Enabled {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(2)
	go b.every(ctx, b.cfg.CheckInterval, func(context.Context) { b.Evaluate() })
	go b.every(ctx, b.cfg.RecoverInterval, b.Recover)

	b.logger.Info("Fail-fast breaker started",
		"min_failures", b.cfg.MinFailures, "ratio", b.cfg.Ratio)
}

func (b *Breaker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// every runs fn each interval, the first time after one interval
func (b *Breaker) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
