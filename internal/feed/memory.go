package feed

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport keeps messages in process. Used by tests and single-node
// setups without a broker.
type MemoryTransport struct {
	channels      map[string]chan []byte
	subscriptions map[string]context.CancelFunc
	mu            sync.RWMutex
}

func newMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		channels:      make(map[string]chan []byte),
		subscriptions: make(map[string]context.CancelFunc),
	}
}

func (t *MemoryTransport) channel(subject string) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, exists := t.channels[subject]; exists {
		return ch
	}
	ch := make(chan []byte, 1024)
	t.channels[subject] = ch
	return ch
}

func (t *MemoryTransport) Publish(ctx context.Context, subject string, data []byte) error {
	ch := t.channel(subject)
	msg := append([]byte(nil), data...)

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

func (t *MemoryTransport) Subscribe(subject string, handler MessageHandler) error {
	ch := t.channel(subject)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.subscriptions[subject] = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(data)
			}
		}
	}()
	return nil
}

func (t *MemoryTransport) Unsubscribe(subject string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel, exists := t.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	cancel()
	delete(t.subscriptions, subject)
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for subject, cancel := range t.subscriptions {
		cancel()
		delete(t.subscriptions, subject)
	}
	for subject, ch := range t.channels {
		close(ch)
		delete(t.channels, subject)
	}
	return nil
}

// Pending returns the number of undelivered messages on subject
func (t *MemoryTransport) Pending(subject string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ch, exists := t.channels[subject]; exists {
		return len(ch)
	}
	return 0
}
