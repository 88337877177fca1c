package utils

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// HTTP Handler Timeouts
const (
	// DefaultRequestTimeout is the default timeout for admin HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// EtcdRequestTimeout bounds a single coordination service call made by
	// the admin API and clusterctl
	EtcdRequestTimeout = 5 * time.Second

	// ShutdownTimeout bounds graceful shutdown of the servers
	ShutdownTimeout = 10 * time.Second
)

// Rehash Timeouts
const (
	// RehashAckTimeout is how long the controller waits for every client
	// to acknowledge a SYN
	RehashAckTimeout = 2 * time.Minute

	// RehashFinishTimeout is how long the controller waits for every client
	// to report FINISHED or NORMAL after REHASH
	RehashFinishTimeout = 2 * time.Minute

	// RehashPollInterval is how often client statuses are polled
	RehashPollInterval = 500 * time.Millisecond
)

// gRPC Timeouts
const (
	// GRPCHealthRefreshInterval is how often cluster serving states are
	// recomputed
	GRPCHealthRefreshInterval = 5 * time.Second
)

// =============================================================================
// HTTP Constants
// =============================================================================

const (
	// HeaderAPIKey is the header carrying the admin API key
	HeaderAPIKey = "X-API-Key"

	// HeaderRequestID is the header carrying the request id
	HeaderRequestID = "X-Request-ID"
)

// =============================================================================
// Feed Type Constants
// =============================================================================
// FeedType represents the broker behind the topology event feed
type FeedType string

const (
	// FeedTypeNATS represents NATS JetStream (default)
	FeedTypeNATS FeedType = "nats"

	// FeedTypeRedis represents Redis Streams
	FeedTypeRedis FeedType = "redis"

	// FeedTypeKafka represents Apache Kafka
	FeedTypeKafka FeedType = "kafka"

	// FeedTypeMemory represents the in-process transport (for testing)
	FeedTypeMemory FeedType = "memory"
)

// =============================================================================
// Version
// =============================================================================

// Version is the release reported in client names and health output
var Version = "0.1.0"
