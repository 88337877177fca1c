package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/shardgate")
	}

	setDefaults(v)

	// SHARDGATE_ETCD_DIAL_TIMEOUT overrides etcd.dial_timeout
	v.SetEnvPrefix("SHARDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)

	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)
	v.SetDefault("etcd.session_ttl", d.Etcd.SessionTTL)

	v.SetDefault("client.cluster_type", d.Client.ClusterType)
	v.SetDefault("client.event_poll_interval", d.Client.EventPollInterval)
	v.SetDefault("client.rehash_grace", d.Client.RehashGrace)
	v.SetDefault("client.load_retries", d.Client.LoadRetries)

	v.SetDefault("pool.profile", d.Pool.Profile)
	v.SetDefault("pool.init_conns", d.Pool.InitConns)
	v.SetDefault("pool.timeout", d.Pool.Timeout)
	v.SetDefault("pool.retry_delay", d.Pool.RetryDelay)
	v.SetDefault("pool.retry_interval", d.Pool.RetryInterval)
	v.SetDefault("pool.monitor_interval", d.Pool.MonitorInterval)

	v.SetDefault("failfast.enabled", d.FailFast.Enabled)
	v.SetDefault("failfast.min_failures", d.FailFast.MinFailures)
	v.SetDefault("failfast.ratio", d.FailFast.Ratio)
	v.SetDefault("failfast.check_interval", d.FailFast.CheckInterval)
	v.SetDefault("failfast.recover_interval", d.FailFast.RecoverInterval)
	v.SetDefault("failfast.probe_attempts", d.FailFast.ProbeAttempts)
	v.SetDefault("failfast.probe_concurrency", d.FailFast.ProbeConcurrency)
	v.SetDefault("failfast.retry_delay", d.FailFast.RetryDelay)

	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.report_interval", d.Monitor.ReportInterval)
	v.SetDefault("monitor.top_n", d.Monitor.TopN)

	v.SetDefault("feed.type", d.Feed.Type)
	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("feed.subject_prefix", d.Feed.SubjectPrefix)
	v.SetDefault("feed.compress", d.Feed.Compress)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 5580,
			GRPCPort: 5581,
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
			SessionTTL:  10 * time.Second,
		},
		Client: ClientConfig{
			ClusterType:       "redis",
			EventPollInterval: 100 * time.Millisecond,
			RehashGrace:       5 * time.Second,
			LoadRetries:       3,
		},
		Pool: PoolConfig{
			Profile:         "medium",
			InitConns:       10,
			Timeout:         2 * time.Second,
			RetryDelay:      3 * time.Minute,
			RetryInterval:   time.Minute,
			MonitorInterval: time.Second,
		},
		FailFast: FailFastConfig{
			Enabled:          false,
			MinFailures:      10,
			Ratio:            0.9,
			CheckInterval:    3 * time.Second,
			RecoverInterval:  time.Second,
			ProbeAttempts:    3,
			ProbeConcurrency: 5,
			RetryDelay:       8 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			ReportInterval: time.Second,
			TopN:           10,
		},
		Feed: FeedConfig{
			Type:          "nats",
			URL:           "nats://localhost:4222",
			SubjectPrefix: "shardgate",
			Compress:      true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
