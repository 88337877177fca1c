package pool

import (
	"context"
	"errors"
	"time"
)

// ErrNoConn is returned when no handle is registered for an endpoint
var ErrNoConn = errors.New("no connection pool for endpoint")

// MessageHandler receives pub/sub messages
type MessageHandler func(channel, payload string)

// Subscription is one Subscribe call kept so it can be replayed on a new
// handle
type Subscription struct {
	Channels []string
	Handler  MessageHandler
}

// Stats is a pool counter snapshot
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"totalConns"`
	IdleConns  uint32 `json:"idleConns"`
	StaleConns uint32 `json:"staleConns"`
}

// Busy is the number of connections checked out of the pool
func (s Stats) Busy() uint32 {
	if s.IdleConns > s.TotalConns {
		return 0
	}
	return s.TotalConns - s.IdleConns
}

// Conn is a pooled handle to one backend endpoint
type Conn interface {
	Endpoint() string

	// Warm opens n connections so the first requests do not pay for dialing
	Warm(ctx context.Context, n int) error

	Ping(ctx context.Context) error

	// Do sends a raw command and returns its reply
	Do(ctx context.Context, args ...interface{}) (interface{}, error)

	Subscribe(ctx context.Context, handler MessageHandler, channels ...string) error
	Subscriptions() []Subscription

	Stats() Stats
	Close() error
}

// Dialer creates handles. Dial must not fail because the endpoint is down;
// that surfaces through Warm and Ping.
type Dialer interface {
	Dial(endpoint string, opts Options) (Conn, error)
}

// Observer is told about every command a handle executes
type Observer interface {
	ObserveCommand(endpoint, command string, elapsed time.Duration, err error)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(endpoint, command string, elapsed time.Duration, err error)

func (f ObserverFunc) ObserveCommand(endpoint, command string, elapsed time.Duration, err error) {
	f(endpoint, command, elapsed, err)
}
