package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/soltixdb/shardgate/internal/topology"
)

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// GetServerAddress returns the admin HTTP listen address
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

// GetGRPCAddress returns the gRPC listen address
func (c *Config) GetGRPCAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.GRPCPort))
}

// Type returns the configured cluster type
func (c *ClientConfig) Type() topology.ClusterType {
	t, err := topology.ParseClusterType(strings.ToUpper(c.ClusterType))
	if err != nil {
		return topology.TypeRedis
	}
	return t
}
