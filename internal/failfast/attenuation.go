package failfast

import (
	"sync"
	"time"
)

const (
	DefaultAttenuationMin = time.Second
	DefaultAttenuationMax = 24 * time.Hour
)

type attenuation struct {
	interval time.Duration
	next     time.Time
}

// AttenuationTimer spaces out repeated attempts per target. The first attempt
// is always on time; after that the interval doubles up to max.
type AttenuationTimer struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	targets map[string]*attenuation
	now     func() time.Time
}

func NewAttenuationTimer(min, max time.Duration) *AttenuationTimer {
	if min <= 0 {
		min = DefaultAttenuationMin
	}
	if max < min {
		max = min
	}
	return &AttenuationTimer{
		min:     min,
		max:     max,
		targets: make(map[string]*attenuation),
		now:     time.Now,
	}
}

// OnTime reports whether target may be attempted now and, if so, pushes its
// next slot out by the doubled interval
func (t *AttenuationTimer) OnTime(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	a, ok := t.targets[target]
	if !ok {
		t.targets[target] = &attenuation{interval: t.min, next: now.Add(t.min)}
		return true
	}
	if now.Before(a.next) {
		return false
	}
	a.interval *= 2
	if a.interval > t.max {
		a.interval = t.max
	}
	a.next = now.Add(a.interval)
	return true
}

// Reset makes target due immediately with the minimum interval
func (t *AttenuationTimer) Reset(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.targets[target]; ok {
		a.interval = t.min
		a.next = t.now()
	}
}

func (t *AttenuationTimer) Remove(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.targets, target)
}

// Interval returns the current interval of target, zero when unknown
func (t *AttenuationTimer) Interval(target string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.targets[target]; ok {
		return a.interval
	}
	return 0
}
