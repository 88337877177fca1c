package failfast

import (
	"sort"
	"sync"
	"time"
)

// IsolatorStrategy bounds how many endpoints may be isolated per interval
type IsolatorStrategy struct {
	MaxIsolations  int
	Interval       time.Duration
	PunishDuration time.Duration
	ReleaseAfter   time.Duration
}

// DefaultIsolatorStrategy allows 2 isolations per minute, refuses new ones
// for 4 minutes after that limit is hit, and releases isolated endpoints
// after 5 minutes
func DefaultIsolatorStrategy() IsolatorStrategy {
	return IsolatorStrategy{
		MaxIsolations:  2,
		Interval:       time.Minute,
		PunishDuration: 4 * time.Minute,
		ReleaseAfter:   5 * time.Minute,
	}
}

// Isolator rations endpoint isolation so a flapping cluster cannot take
// itself fully offline
type Isolator struct {
	strategy IsolatorStrategy

	mu          sync.Mutex
	windowStart time.Time
	count       int
	punishUntil time.Time
	isolated    map[string]time.Time
	now         func() time.Time
}

func NewIsolator(strategy IsolatorStrategy) *Isolator {
	return &Isolator{
		strategy: strategy,
		isolated: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Isolate tries to isolate endpoint and reports whether it was allowed
func (i *Isolator) Isolate(endpoint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if _, ok := i.isolated[endpoint]; ok {
		return true
	}
	if now.Before(i.punishUntil) {
		return false
	}
	if now.Sub(i.windowStart) >= i.strategy.Interval {
		i.windowStart = now
		i.count = 0
	}
	if i.count >= i.strategy.MaxIsolations {
		i.punishUntil = now.Add(i.strategy.PunishDuration)
		return false
	}
	i.count++
	i.isolated[endpoint] = now
	return true
}

// IsIsolated reports whether endpoint is isolated, releasing it once its
// isolation expired
func (i *Isolator) IsIsolated(endpoint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	since, ok := i.isolated[endpoint]
	if !ok {
		return false
	}
	if i.now().Sub(since) >= i.strategy.ReleaseAfter {
		delete(i.isolated, endpoint)
		return false
	}
	return true
}

func (i *Isolator) Release(endpoint string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.isolated, endpoint)
}

func (i *Isolator) Isolated() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.isolated))
	for ep := range i.isolated {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}
