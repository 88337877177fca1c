package metadata

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("key not found")

// EventType is the kind of change reported by a watch
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	if t == EventDelete {
		return "delete"
	}
	return "put"
}

// Event is one change under a watched key. Err is set, and the channel closed
// right after, when the watch can no longer deliver ordered events.
type Event struct {
	Type  EventType
	Key   string
	Value []byte
	Err   error
}

// Store is the coordination service as seen by the topology layer: a
// hierarchical key space with persistent and session-bound (ephemeral) keys
// and ordered change notifications.
type Store interface {
	// Get returns the value of key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Put creates or overwrites a persistent key
	Put(ctx context.Context, key string, value []byte) error

	// PutEphemeral creates or overwrites a key bound to this store's session;
	// it disappears when the session expires
	PutEphemeral(ctx context.Context, key string, value []byte) error

	// Create writes key only if it does not exist and reports whether it did
	Create(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes key and, when recursive, everything below it
	Delete(ctx context.Context, key string, recursive bool) error

	// Children lists the names of the direct children of key in creation order
	Children(ctx context.Context, key string) ([]string, error)

	// Watch streams changes of key and its descendants until ctx is done
	Watch(ctx context.Context, key string) <-chan Event

	// OnSession registers fn to run after a lost session is re-established.
	// The returned func unregisters it.
	OnSession(fn func(ctx context.Context)) (unregister func())

	Close() error
}

// sessionHooks keeps session callbacks in registration order. The owning
// store synchronizes access.
type sessionHooks struct {
	next int
	ids  []int
	fns  map[int]func(ctx context.Context)
}

func (h *sessionHooks) add(fn func(ctx context.Context)) int {
	if h.fns == nil {
		h.fns = make(map[int]func(ctx context.Context))
	}
	h.next++
	h.ids = append(h.ids, h.next)
	h.fns[h.next] = fn
	return h.next
}

func (h *sessionHooks) remove(id int) {
	if _, ok := h.fns[id]; !ok {
		return
	}
	delete(h.fns, id)
	for i, v := range h.ids {
		if v == id {
			h.ids = append(h.ids[:i:i], h.ids[i+1:]...)
			break
		}
	}
}

func (h *sessionHooks) snapshot() []func(ctx context.Context) {
	out := make([]func(ctx context.Context), 0, len(h.ids))
	for _, id := range h.ids {
		out = append(out, h.fns[id])
	}
	return out
}

// JoinPath joins path segments with '/', keeping a single leading slash
func JoinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Relative splits key below root into its segments. ok is false when key is
// not root or a descendant of it.
func Relative(root, key string) (segments []string, ok bool) {
	root = strings.TrimSuffix(root, "/")
	if key == root {
		return nil, true
	}
	if !strings.HasPrefix(key, root+"/") {
		return nil, false
	}
	rest := strings.Trim(key[len(root)+1:], "/")
	if rest == "" {
		return nil, true
	}
	return strings.Split(rest, "/"), true
}

// childName returns the direct child segment of parent that key denotes, or
// "" when key is deeper or unrelated
func childName(parent, key string) string {
	segs, ok := Relative(parent, key)
	if !ok || len(segs) != 1 {
		return ""
	}
	return segs[0]
}
