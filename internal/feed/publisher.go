package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/logging"
)

const (
	publishBuffer  = 1024
	publishTimeout = 5 * time.Second
)

type outgoing struct {
	subject string
	env     Envelope
}

// Publisher forwards every dispatched topology event to a Transport. It
// observes dispatchers and never blocks them: events beyond the buffer are
// dropped and counted.
type Publisher struct {
	transport Transport
	codec     Codec
	prefix    string
	logger    *logging.Logger

	ch        chan outgoing
	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates a publisher on transport. Subjects are
// "<prefix>.<cluster>.<category>".
func NewPublisher(transport Transport, prefix string, compress bool, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = "shardgate"
	}
	return &Publisher{
		transport: transport,
		codec:     Codec{Compress: compress},
		prefix:    prefix,
		logger:    logger.With("component", "feed"),
		ch:        make(chan outgoing, publishBuffer),
	}
}

// Observe queues e for publishing
func (p *Publisher) Observe(e events.Event) {
	env, err := NewEnvelope(e)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Failed to build feed envelope", "event", e.String(), "error", err)
		return
	}
	select {
	case p.ch <- outgoing{subject: Subject(p.prefix, e.Cluster, e.Kind.Category()), env: env}:
	default:
		p.dropped.Add(1)
		p.logger.Warn("Feed buffer full, event dropped", "event", e.String())
	}
}

func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case msg := <-p.ch:
				p.publish(ctx, msg)
			}
		}
	}()
	p.logger.Info("Feed publisher started", "prefix", p.prefix, "compress", p.codec.Compress)
}

// drain publishes what is still buffered on shutdown
func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case msg := <-p.ch:
			p.publish(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg outgoing) {
	data, err := p.codec.Encode(msg.env)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Failed to encode feed envelope", "id", msg.env.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.transport.Publish(ctx, msg.subject, data); err != nil {
		p.failed.Add(1)
		p.logger.Error("Failed to publish feed event", "subject", msg.subject, "kind", msg.env.Kind, "error", err)
		return
	}
	p.published.Add(1)
	p.logger.Debug("Feed event published", "subject", msg.subject, "kind", msg.env.Kind, "id", msg.env.ID)
}

// Stats returns the published, dropped and failed counters
func (p *Publisher) Stats() (published, dropped, failed int64) {
	return p.published.Load(), p.dropped.Load(), p.failed.Load()
}

// Stop flushes the buffer and closes the transport
func (p *Publisher) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return p.transport.Close()
}
