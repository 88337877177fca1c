package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
)

// EndpointStats pairs an endpoint with its pool counters
type EndpointStats struct {
	Endpoint string `json:"endpoint"`
	Stats
}

// StatsMonitor logs the busiest pools every interval
type StatsMonitor struct {
	registry *Registry
	interval time.Duration
	topN     int
	logger   *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStatsMonitor(registry *Registry, interval time.Duration, topN int, logger *logging.Logger) *StatsMonitor {
	return &StatsMonitor{
		registry: registry,
		interval: interval,
		topN:     topN,
		logger:   logger.With("component", "pool_stats"),
	}
}

// Top returns up to n pools ordered by wait timeouts, then busy connections
func (m *StatsMonitor) Top(n int) []EndpointStats {
	all := m.registry.Stats()
	out := make([]EndpointStats, 0, len(all))
	for ep, s := range all {
		out = append(out, EndpointStats{Endpoint: ep, Stats: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timeouts != out[j].Timeouts {
			return out[i].Timeouts > out[j].Timeouts
		}
		if out[i].Busy() != out[j].Busy() {
			return out[i].Busy() > out[j].Busy()
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Report logs one line per pool of the current top list
func (m *StatsMonitor) Report() {
	for _, s := range m.Top(m.topN) {
		if s.Busy() == 0 && s.Timeouts == 0 {
			continue
		}
		m.logger.Info("Pool stats",
			"endpoint", s.Endpoint,
			"hits", s.Hits, "misses", s.Misses, "timeouts", s.Timeouts,
			"total", s.TotalConns, "idle", s.IdleConns, "stale", s.StaleConns)
	}
}

func (m *StatsMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Report()
			}
		}
	}()
}

func (m *StatsMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
