package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka transport
type KafkaConfig struct {
	Brokers      []string
	GroupID      string        // default: "shardgate-feed"
	BatchTimeout time.Duration // default: 10ms
	MaxAttempts  int           // default: 3
}

// KafkaTransport writes one topic per subject
type KafkaTransport struct {
	config        KafkaConfig
	writers       map[string]*kafka.Writer
	readers       map[string]*kafka.Reader
	subscriptions map[string]context.CancelFunc
	mu            sync.RWMutex
}

func newKafkaTransport(cfg KafkaConfig) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "shardgate-feed"
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	return &KafkaTransport{
		config:        cfg,
		writers:       make(map[string]*kafka.Writer),
		readers:       make(map[string]*kafka.Reader),
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

func (t *KafkaTransport) writer(topic string) *kafka.Writer {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, exists := t.writers[topic]; exists {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(t.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           t.config.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            t.config.MaxAttempts,
		AllowAutoTopicCreation: true,
	}
	t.writers[topic] = w
	return w
}

// Publish writes data keyed by subject so one cluster's events keep their
// order within a partition
func (t *KafkaTransport) Publish(ctx context.Context, subject string, data []byte) error {
	err := t.writer(subject).WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", subject, err)
	}
	return nil
}

func (t *KafkaTransport) Subscribe(subject string, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to topic: %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        t.config.Brokers,
		GroupID:        t.config.GroupID,
		Topic:          subject,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.readers[subject] = reader
	t.subscriptions[subject] = cancel

	go t.consume(ctx, reader, handler)
	return nil
}

func (t *KafkaTransport) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := handler(msg.Value); err != nil {
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() != nil {
			return
		}
	}
}

func (t *KafkaTransport) Unsubscribe(subject string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel, exists := t.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", subject)
	}
	cancel()
	if reader, ok := t.readers[subject]; ok {
		_ = reader.Close()
		delete(t.readers, subject)
	}
	delete(t.subscriptions, subject)
	return nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lastErr error
	for subject, cancel := range t.subscriptions {
		cancel()
		if reader, ok := t.readers[subject]; ok {
			if err := reader.Close(); err != nil {
				lastErr = err
			}
		}
		delete(t.subscriptions, subject)
		delete(t.readers, subject)
	}
	for topic, w := range t.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
		delete(t.writers, topic)
	}
	return lastErr
}

// Stats returns writer stats of topic
func (t *KafkaTransport) Stats(topic string) kafka.WriterStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, exists := t.writers[topic]; exists {
		return w.Stats()
	}
	return kafka.WriterStats{}
}
