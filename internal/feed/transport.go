package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/utils"
)

// MessageHandler handles one delivered feed message
type MessageHandler func(data []byte) error

// Transport moves encoded envelopes to a broker
type Transport interface {
	// Publish publishes data to subject
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe consumes subject with handler
	Subscribe(subject string, handler MessageHandler) error

	Unsubscribe(subject string) error

	Close() error
}

// NewTransport creates the transport named by cfg.Type. NATS is the
// default.
func NewTransport(cfg config.FeedConfig) (Transport, error) {
	feedType := utils.FeedType(strings.ToLower(cfg.Type))
	if feedType == "" {
		feedType = utils.FeedTypeNATS
	}

	switch feedType {
	case utils.FeedTypeNATS:
		return newNATSTransport(cfg.URL, cfg.Username, cfg.Password, cfg.SubjectPrefix)

	case utils.FeedTypeRedis:
		return newRedisTransport(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.SubjectPrefix,
		})

	case utils.FeedTypeKafka:
		brokers := cfg.KafkaBrokers
		if len(brokers) == 0 && cfg.URL != "" {
			brokers = strings.Split(cfg.URL, ",")
		}
		return newKafkaTransport(KafkaConfig{Brokers: brokers})

	case utils.FeedTypeMemory:
		return newMemoryTransport(), nil

	default:
		return nil, fmt.Errorf("unsupported feed type: %s (supported: nats, redis, kafka, memory)", feedType)
	}
}
