package topology

import (
	"sync"
	"sync/atomic"
)

// cowList is an insertion-ordered copy-on-write list. Readers get an
// immutable snapshot without locking; writers serialize on mu and publish a
// fresh slice.
type cowList[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
}

func (l *cowList[T]) snapshot() []T {
	p := l.items.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (l *cowList[T]) append(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.snapshot()
	next := make([]T, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, item)
	l.items.Store(&next)
}

// replaceOrAppend swaps the first element matching pred, or appends item
func (l *cowList[T]) replaceOrAppend(item T, pred func(T) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.snapshot()
	next := make([]T, len(cur), len(cur)+1)
	copy(next, cur)
	for i, existing := range next {
		if pred(existing) {
			next[i] = item
			l.items.Store(&next)
			return
		}
	}
	next = append(next, item)
	l.items.Store(&next)
}

// remove drops the first element matching pred and returns it
func (l *cowList[T]) remove(pred func(T) bool) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.snapshot()
	for i, existing := range cur {
		if pred(existing) {
			next := make([]T, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			l.items.Store(&next)
			return existing, true
		}
	}
	var zero T
	return zero, false
}

func (l *cowList[T]) reset(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]T, len(items))
	copy(next, items)
	l.items.Store(&next)
}
