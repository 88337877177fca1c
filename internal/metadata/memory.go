package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memoryEntry struct {
	value     []byte
	seq       uint64
	ephemeral bool
}

type memoryWatcher struct {
	key string
	ch  chan Event
	ctx context.Context
}

// MemoryStore is an in-process Store used by tests and single-process setups.
// Watch events are delivered in commit order.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	seq       uint64
	watchers  map[*memoryWatcher]struct{}
	onSession sessionHooks
	closed    bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.put(key, value, false)
	return nil
}

func (m *MemoryStore) PutEphemeral(_ context.Context, key string, value []byte) error {
	m.put(key, value, true)
	return nil
}

func (m *MemoryStore) Create(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.putLocked(key, value, false)
	return true, nil
}

func (m *MemoryStore) put(key string, value []byte, ephemeral bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value, ephemeral)
}

func (m *MemoryStore) putLocked(key string, value []byte, ephemeral bool) {
	value = append([]byte(nil), value...)
	if e, ok := m.entries[key]; ok {
		e.value = value
		e.ephemeral = ephemeral
	} else {
		m.seq++
		m.entries[key] = &memoryEntry{value: value, seq: m.seq, ephemeral: ephemeral}
	}
	m.notifyLocked(Event{Type: EventPut, Key: key, Value: value})
}

func (m *MemoryStore) Delete(_ context.Context, key string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for k := range m.entries {
		if k == key || (recursive && strings.HasPrefix(k, key+"/")) {
			doomed = append(doomed, k)
		}
	}
	// children first, like a recursive delete in a hierarchical store
	sort.Slice(doomed, func(i, j int) bool { return len(doomed[i]) > len(doomed[j]) })
	for _, k := range doomed {
		m.deleteLocked(k)
	}
	return nil
}

func (m *MemoryStore) deleteLocked(key string) {
	delete(m.entries, key)
	m.notifyLocked(Event{Type: EventDelete, Key: key})
}

func (m *MemoryStore) Children(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type child struct {
		name string
		seq  uint64
	}
	var children []child
	for k, e := range m.entries {
		if name := childName(key, k); name != "" {
			children = append(children, child{name: name, seq: e.seq})
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })

	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.name
	}
	return names, nil
}

func (m *MemoryStore) Watch(ctx context.Context, key string) <-chan Event {
	w := &memoryWatcher{key: key, ch: make(chan Event, 1024), ctx: ctx}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(w.ch)
		return w.ch
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.watchers[w]; ok {
			delete(m.watchers, w)
			close(w.ch)
		}
		m.mu.Unlock()
	}()
	return w.ch
}

// notifyLocked fans ev out to matching watchers. A watcher that cannot keep
// up is cut off with an error, mirroring a compacted etcd watch.
func (m *MemoryStore) notifyLocked(ev Event) {
	for w := range m.watchers {
		if _, ok := Relative(w.key, ev.Key); !ok {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			delete(m.watchers, w)
			select {
			case w.ch <- Event{Err: fmt.Errorf("watch %s: consumer too slow", w.key)}:
			default:
			}
			close(w.ch)
		}
	}
}

func (m *MemoryStore) OnSession(fn func(ctx context.Context)) func() {
	m.mu.Lock()
	id := m.onSession.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.onSession.remove(id)
		m.mu.Unlock()
	}
}

// ExpireSession drops every ephemeral key and then runs the session
// callbacks, as if the session lease had expired and been re-granted
func (m *MemoryStore) ExpireSession(ctx context.Context) {
	m.mu.Lock()
	for k, e := range m.entries {
		if e.ephemeral {
			m.deleteLocked(k)
		}
	}
	callbacks := m.onSession.snapshot()
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx)
	}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for w := range m.watchers {
		delete(m.watchers, w)
		close(w.ch)
	}
	return nil
}
