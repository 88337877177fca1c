package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IsConnError reports whether err means the endpoint itself failed. A nil
// reply and server error replies are answers, not failures.
func IsConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	var reply redis.Error
	return !errors.As(err, &reply)
}

// RedisDialer creates go-redis backed handles
type RedisDialer struct {
	observer Observer
}

// NewRedisDialer creates a dialer. observer may be nil.
func NewRedisDialer(observer Observer) *RedisDialer {
	return &RedisDialer{observer: observer}
}

func (d *RedisDialer) Dial(endpoint string, opts Options) (Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.Preset.MaxTotal,
		MaxIdleConns: opts.Preset.MaxIdle,
		MinIdleConns: opts.Preset.MinIdle,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		PoolTimeout:  opts.Timeout,
	})
	if d.observer != nil {
		client.AddHook(observerHook{endpoint: endpoint, observer: d.observer})
	}
	return &RedisConn{endpoint: endpoint, client: client}, nil
}

// observerHook reports command latency and outcome
type observerHook struct {
	endpoint string
	observer Observer
}

func (h observerHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h observerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observer.ObserveCommand(h.endpoint, cmd.Name(), time.Since(start), err)
		return err
	}
}

func (h observerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observer.ObserveCommand(h.endpoint, "pipeline", time.Since(start), err)
		return err
	}
}

type redisSubscription struct {
	Subscription
	pubsub *redis.PubSub
}

// RedisConn is a Conn on a go-redis client pool
type RedisConn struct {
	endpoint string
	client   *redis.Client

	mu     sync.Mutex
	subs   []*redisSubscription
	closed bool
}

func (c *RedisConn) Endpoint() string { return c.endpoint }

// Client exposes the underlying go-redis client
func (c *RedisConn) Client() *redis.Client { return c.client }

func (c *RedisConn) Warm(ctx context.Context, n int) error {
	conns := make([]*redis.Conn, 0, n)
	defer func() {
		for _, cn := range conns {
			_ = cn.Close()
		}
	}()

	for i := 0; i < n; i++ {
		cn := c.client.Conn()
		conns = append(conns, cn)
		if err := cn.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to warm connection %d/%d to %s: %w", i+1, n, c.endpoint, err)
		}
	}
	return nil
}

func (c *RedisConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisConn) Do(ctx context.Context, args ...interface{}) (interface{}, error) {
	return c.client.Do(ctx, args...).Result()
}

func (c *RedisConn) Subscribe(ctx context.Context, handler MessageHandler, channels ...string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("subscribe on closed pool %s", c.endpoint)
	}
	c.mu.Unlock()

	ps := c.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %v on %s: %w", channels, c.endpoint, err)
	}

	sub := &redisSubscription{
		Subscription: Subscription{Channels: append([]string(nil), channels...), Handler: handler},
		pubsub:       ps,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			handler(msg.Channel, msg.Payload)
		}
	}()
	return nil
}

func (c *RedisConn) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, len(c.subs))
	for i, s := range c.subs {
		out[i] = s.Subscription
	}
	return out
}

func (c *RedisConn) Stats() Stats {
	s := c.client.PoolStats()
	return Stats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}

func (c *RedisConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.pubsub.Close()
	}
	return c.client.Close()
}
