package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
)

// BucketBounds are the upper bounds of the latency buckets; the last bucket
// is open ended
var BucketBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
}

// BucketLabels names the buckets in order
var BucketLabels = []string{"0-10ms", "10-50ms", "50-100ms", "100-500ms", "500ms+"}

// BucketFor returns the bucket index of d
func BucketFor(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d < bound {
			return i
		}
	}
	return len(BucketBounds)
}

type key struct {
	cluster  string
	endpoint string
	command  string
}

// Entry is the latency histogram of one command on one endpoint
type Entry struct {
	Cluster  string           `json:"cluster"`
	Endpoint string           `json:"endpoint"`
	Command  string           `json:"command"`
	Buckets  map[string]int64 `json:"buckets"`
	Total    int64            `json:"total"`
}

// Snapshot is one closed reporting window
type Snapshot struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Entries []Entry   `json:"entries"`
}

// Monitor collects command latencies per cluster, endpoint and command and
// closes a window every report interval
type Monitor struct {
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	start   time.Time
	current map[key]*[5]int64
	last    Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(interval time.Duration, logger *logging.Logger) *Monitor {
	return &Monitor{
		interval: interval,
		logger:   logger.With("component", "latency_monitor"),
		start:    time.Now(),
		current:  make(map[key]*[5]int64),
	}
}

// Record adds one command execution
func (m *Monitor) Record(cluster, endpoint, command string, elapsed time.Duration) {
	k := key{cluster: cluster, endpoint: endpoint, command: command}
	b := BucketFor(elapsed)

	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.current[k]
	if !ok {
		counts = &[5]int64{}
		m.current[k] = counts
	}
	counts[b]++
}

// Swap closes the current window and returns it
func (m *Monitor) Swap() Snapshot {
	now := time.Now()

	m.mu.Lock()
	window := m.current
	start := m.start
	m.current = make(map[key]*[5]int64, len(window))
	m.start = now
	m.mu.Unlock()

	snap := Snapshot{Start: start, End: now, Entries: make([]Entry, 0, len(window))}
	for k, counts := range window {
		e := Entry{Cluster: k.cluster, Endpoint: k.endpoint, Command: k.command, Buckets: make(map[string]int64, len(counts))}
		for i, n := range counts {
			e.Buckets[BucketLabels[i]] = n
			e.Total += n
		}
		snap.Entries = append(snap.Entries, e)
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		a, b := snap.Entries[i], snap.Entries[j]
		if a.Cluster != b.Cluster {
			return a.Cluster < b.Cluster
		}
		if a.Endpoint != b.Endpoint {
			return a.Endpoint < b.Endpoint
		}
		return a.Command < b.Command
	})

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap
}

// Snapshot returns the last closed window
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Report closes the window and logs it
func (m *Monitor) Report() {
	snap := m.Swap()
	for _, e := range snap.Entries {
		m.logger.Info("Command latency",
			"cluster", e.Cluster, "endpoint", e.Endpoint, "command", e.Command,
			"total", e.Total, "buckets", e.Buckets)
	}
}

func (m *Monitor) Start(ctx context.Context) {
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

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
