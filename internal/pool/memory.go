package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEndpointDown is returned by memory handles of an endpoint marked down
var ErrEndpointDown = errors.New("connection refused")

// replyError is a server error reply
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

type memoryBackend struct {
	mu    sync.Mutex
	data  map[string]string
	down  bool
	conns map[*MemoryConn]struct{}
}

// MemoryDialer creates in-process handles. Handles of the same endpoint share
// one keyspace, so a rebuilt handle sees earlier writes. Useful for tests and
// for running without a backend.
type MemoryDialer struct {
	observer Observer

	mu       sync.Mutex
	backends map[string]*memoryBackend
	dials    map[string]int
}

func NewMemoryDialer(observer Observer) *MemoryDialer {
	return &MemoryDialer{
		observer: observer,
		backends: make(map[string]*memoryBackend),
		dials:    make(map[string]int),
	}
}

func (d *MemoryDialer) backend(endpoint string) *memoryBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backends[endpoint]
	if !ok {
		b = &memoryBackend{data: make(map[string]string), conns: make(map[*MemoryConn]struct{})}
		d.backends[endpoint] = b
	}
	return b
}

func (d *MemoryDialer) Dial(endpoint string, opts Options) (Conn, error) {
	b := d.backend(endpoint)
	d.mu.Lock()
	d.dials[endpoint]++
	d.mu.Unlock()

	c := &MemoryConn{endpoint: endpoint, backend: b, observer: d.observer}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	return c, nil
}

// SetDown marks endpoint unreachable or reachable again
func (d *MemoryDialer) SetDown(endpoint string, down bool) {
	b := d.backend(endpoint)
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Dials returns how many handles were created for endpoint
func (d *MemoryDialer) Dials(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[endpoint]
}

// Value reads a key straight from the endpoint's keyspace
func (d *MemoryDialer) Value(endpoint, key string) (string, bool) {
	b := d.backend(endpoint)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

// Publish delivers a message to every open handle subscribed to channel
func (d *MemoryDialer) Publish(endpoint, channel, payload string) int {
	b := d.backend(endpoint)
	b.mu.Lock()
	conns := make([]*MemoryConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	n := 0
	for _, c := range conns {
		n += c.deliver(channel, payload)
	}
	return n
}

// MemoryConn is a Conn on an in-process keyspace
type MemoryConn struct {
	endpoint string
	backend  *memoryBackend
	observer Observer

	mu     sync.Mutex
	subs   []Subscription
	closed bool
	hits   uint32
}

func (c *MemoryConn) Endpoint() string { return c.endpoint }

func (c *MemoryConn) check() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return redis.ErrClosed
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.down {
		return fmt.Errorf("dial tcp %s: %w", c.endpoint, ErrEndpointDown)
	}
	return nil
}

func (c *MemoryConn) Warm(ctx context.Context, n int) error {
	return c.check()
}

func (c *MemoryConn) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "ping")
	return err
}

func (c *MemoryConn) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	start := time.Now()
	name := ""
	if len(args) > 0 {
		name = strings.ToLower(fmt.Sprint(args[0]))
	}
	reply, err := c.do(name, args)
	if c.observer != nil {
		c.observer.ObserveCommand(c.endpoint, name, time.Since(start), err)
	}
	return reply, err
}

func (c *MemoryConn) do(name string, args []interface{}) (interface{}, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	arg := func(i int) string { return fmt.Sprint(args[i]) }
	switch {
	case name == "ping":
		return "PONG", nil
	case name == "get" && len(args) == 2:
		v, ok := b.data[arg(1)]
		if !ok {
			return nil, redis.Nil
		}
		return v, nil
	case name == "set" && len(args) >= 3:
		b.data[arg(1)] = arg(2)
		return "OK", nil
	case name == "del" && len(args) >= 2:
		var n int64
		for i := 1; i < len(args); i++ {
			if _, ok := b.data[arg(i)]; ok {
				delete(b.data, arg(i))
				n++
			}
		}
		return n, nil
	case name == "exists" && len(args) >= 2:
		var n int64
		for i := 1; i < len(args); i++ {
			if _, ok := b.data[arg(i)]; ok {
				n++
			}
		}
		return n, nil
	case name == "incr" && len(args) == 2:
		v, _ := strconv.ParseInt(b.data[arg(1)], 10, 64)
		if raw, ok := b.data[arg(1)]; ok && strconv.FormatInt(v, 10) != raw {
			return nil, replyError("ERR value is not an integer or out of range")
		}
		v++
		b.data[arg(1)] = strconv.FormatInt(v, 10)
		return v, nil
	}
	return nil, replyError(fmt.Sprintf("ERR unknown command '%s'", name))
}

func (c *MemoryConn) Subscribe(ctx context.Context, handler MessageHandler, channels ...string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, Subscription{Channels: append([]string(nil), channels...), Handler: handler})
	return nil
}

func (c *MemoryConn) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Subscription(nil), c.subs...)
}

func (c *MemoryConn) deliver(channel, payload string) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	subs := append([]Subscription(nil), c.subs...)
	c.mu.Unlock()

	n := 0
	for _, s := range subs {
		for _, ch := range s.Channels {
			if ch == channel {
				s.Handler(channel, payload)
				n++
			}
		}
	}
	return n
}

func (c *MemoryConn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, TotalConns: 1, IdleConns: 1}
}

// Closed reports whether Close was called
func (c *MemoryConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MemoryConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.subs = nil
	c.mu.Unlock()

	c.backend.mu.Lock()
	delete(c.backend.conns, c)
	c.backend.mu.Unlock()
	return nil
}
