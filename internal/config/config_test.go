package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soltixdb/shardgate/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "default config should be valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid http port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
		},
		{
			name: "same http and grpc port",
			mutate: func(c *Config) {
				c.Server.HTTPPort = 8080
				c.Server.GRPCPort = 8080
			},
			wantErr: true,
		},
		{
			name:    "missing etcd endpoints",
			mutate:  func(c *Config) { c.Etcd.Endpoints = nil },
			wantErr: true,
		},
		{
			name:    "short session ttl",
			mutate:  func(c *Config) { c.Etcd.SessionTTL = 10 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "unknown cluster type",
			mutate:  func(c *Config) { c.Client.ClusterType = "cassandra" },
			wantErr: true,
		},
		{
			name:    "cluster type is case-insensitive",
			mutate:  func(c *Config) { c.Client.ClusterType = "MongoDB" },
			wantErr: false,
		},
		{
			name:    "unknown pool profile",
			mutate:  func(c *Config) { c.Pool.Profile = "huge" },
			wantErr: true,
		},
		{
			name:    "failfast ratio out of range",
			mutate:  func(c *Config) { c.FailFast.Ratio = 1.5 },
			wantErr: true,
		},
		{
			name:    "failfast zero probe concurrency",
			mutate:  func(c *Config) { c.FailFast.ProbeConcurrency = 0 },
			wantErr: true,
		},
		{
			name: "disabled feed is not validated",
			mutate: func(c *Config) {
				c.Feed.Enabled = false
				c.Feed.Type = "carrier-pigeon"
			},
			wantErr: false,
		},
		{
			name: "kafka feed requires brokers",
			mutate: func(c *Config) {
				c.Feed.Enabled = true
				c.Feed.Type = "kafka"
				c.Feed.URL = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid logging level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5580, cfg.Server.HTTPPort)
	assert.Equal(t, 5581, cfg.Server.GRPCPort)
	assert.Equal(t, 10*time.Second, cfg.Etcd.SessionTTL)
	assert.Equal(t, "medium", cfg.Pool.Profile)
	assert.Equal(t, 3*time.Minute, cfg.Pool.RetryDelay)
	assert.False(t, cfg.FailFast.Enabled)
	assert.Equal(t, int64(10), cfg.FailFast.MinFailures)
	assert.Equal(t, 0.9, cfg.FailFast.Ratio)
	assert.Equal(t, topology.TypeRedis, cfg.Client.Type())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 7000
  grpc_port: 7001
etcd:
  endpoints: ["http://etcd-1:2379", "http://etcd-2:2379"]
client:
  clusters: ["c1", "c2"]
  cluster_type: mysql
pool:
  profile: large
failfast:
  enabled: true
  ratio: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"http://etcd-1:2379", "http://etcd-2:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Client.Clusters)
	assert.Equal(t, topology.TypeMySQL, cfg.Client.Type())
	assert.Equal(t, "large", cfg.Pool.Profile)
	assert.True(t, cfg.FailFast.Enabled)
	assert.Equal(t, 0.5, cfg.FailFast.Ratio)

	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Etcd.DialTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.EventPollInterval)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  profile: gigantic\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	cfg := LoadOrDefault(path)
	assert.Equal(t, "medium", cfg.Pool.Profile)
}

func TestConfigHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:5580", cfg.GetServerAddress())
	assert.Equal(t, "0.0.0.0:5581", cfg.GetGRPCAddress())
	assert.False(t, cfg.IsDevelopment())

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	assert.True(t, cfg.IsDevelopment())
}
