package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Client   ClientConfig   `mapstructure:"client"`
	Pool     PoolConfig     `mapstructure:"pool"`
	FailFast FailFastConfig `mapstructure:"failfast"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents the admin server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // Admin HTTP port
	GRPCPort int    `mapstructure:"grpc_port"` // gRPC health port
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"` // Lease TTL for ephemeral keys
}

// ClientConfig describes this client and the clusters it serves
type ClientConfig struct {
	Name              string        `mapstructure:"name"`         // Client name; computed from LAN IP and pid when empty
	Clusters          []string      `mapstructure:"clusters"`     // Clusters registered at startup
	ClusterType       string        `mapstructure:"cluster_type"` // redis, mongodb, mysql
	EventPollInterval time.Duration `mapstructure:"event_poll_interval"`
	RehashGrace       time.Duration `mapstructure:"rehash_grace"` // Wait before and after the rehash swap
	LoadRetries       int           `mapstructure:"load_retries"`
}

// PoolConfig represents backend connection pool configuration
type PoolConfig struct {
	Profile         string        `mapstructure:"profile"`    // small, medium, large
	InitConns       int           `mapstructure:"init_conns"` // Connections pre-warmed per pool
	Timeout         time.Duration `mapstructure:"timeout"`    // Dial, read and pool wait timeout
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// FailFastConfig represents circuit breaker and health check configuration
type FailFastConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MinFailures      int64         `mapstructure:"min_failures"`
	Ratio            float64       `mapstructure:"ratio"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	RecoverInterval  time.Duration `mapstructure:"recover_interval"`
	ProbeAttempts    int           `mapstructure:"probe_attempts"`
	ProbeConcurrency int64         `mapstructure:"probe_concurrency"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
}

// MonitorConfig represents command latency monitor configuration
type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	TopN           int           `mapstructure:"top_n"`
}

// FeedConfig represents topology event feed configuration
type FeedConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Type          string   `mapstructure:"type"` // nats (default), redis, kafka, memory
	URL           string   `mapstructure:"url"`  // e.g. nats://localhost:4222, redis://localhost:6379
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	RedisDB       int      `mapstructure:"redis_db"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	Compress      bool     `mapstructure:"compress"` // snappy-compress payloads
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, UnixMs, etc
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Etcd.Validate(); err != nil {
		return fmt.Errorf("etcd config: %w", err)
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool config: %w", err)
	}

	if err := c.FailFast.Validate(); err != nil {
		return fmt.Errorf("failfast config: %w", err)
	}

	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}

	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}

	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("http_port and grpc_port cannot be the same")
	}

	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	if c.SessionTTL < time.Second {
		return fmt.Errorf("etcd.session_ttl must be at least 1s")
	}

	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	switch strings.ToLower(c.ClusterType) {
	case "redis", "mongodb", "mysql":
	default:
		return fmt.Errorf("client.cluster_type must be one of: redis, mongodb, mysql")
	}

	if c.EventPollInterval <= 0 {
		return fmt.Errorf("client.event_poll_interval must be positive")
	}

	if c.RehashGrace < 0 {
		return fmt.Errorf("client.rehash_grace cannot be negative")
	}

	if c.LoadRetries < 1 {
		return fmt.Errorf("client.load_retries must be at least 1")
	}

	return nil
}

// Validate validates pool configuration
func (c *PoolConfig) Validate() error {
	switch c.Profile {
	case "small", "medium", "large":
	default:
		return fmt.Errorf("pool.profile must be one of: small, medium, large")
	}

	if c.InitConns < 0 {
		return fmt.Errorf("pool.init_conns cannot be negative")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("pool.timeout must be positive")
	}

	if c.RetryInterval <= 0 {
		return fmt.Errorf("pool.retry_interval must be positive")
	}

	return nil
}

// Validate validates fail-fast configuration
func (c *FailFastConfig) Validate() error {
	if c.Ratio <= 0 || c.Ratio > 1 {
		return fmt.Errorf("failfast.ratio must be in (0, 1]")
	}

	if c.MinFailures < 1 {
		return fmt.Errorf("failfast.min_failures must be at least 1")
	}

	if c.CheckInterval <= 0 || c.RecoverInterval <= 0 {
		return fmt.Errorf("failfast intervals must be positive")
	}

	if c.ProbeAttempts < 1 {
		return fmt.Errorf("failfast.probe_attempts must be at least 1")
	}

	if c.ProbeConcurrency < 1 {
		return fmt.Errorf("failfast.probe_concurrency must be at least 1")
	}

	return nil
}

// Validate validates feed configuration
func (c *FeedConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "", "nats", "redis", "kafka", "memory":
	default:
		return fmt.Errorf("feed.type must be one of: nats, redis, kafka, memory")
	}

	if c.Type == "kafka" && len(c.KafkaBrokers) == 0 && c.URL == "" {
		return fmt.Errorf("feed.kafka_brokers is required for kafka feed")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
