package models

import (
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/pool"
	"github.com/soltixdb/shardgate/internal/topology"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	Client    string          `json:"client"`
	Clusters  map[string]bool `json:"clusters,omitempty"`
}

// ClusterSummary describes one registered cluster
type ClusterSummary struct {
	Name          string                 `json:"name"`
	Type          topology.ClusterType   `json:"type"`
	Status        topology.ClusterStatus `json:"status"`
	ShardStrategy topology.ShardStrategy `json:"shard_strategy"`
	RehashStatus  topology.RehashStatus  `json:"rehash_status"`
	Nodes         int                    `json:"nodes"`
	ActiveNodes   int                    `json:"active_nodes"`
	Serving       bool                   `json:"serving"`
}

// ClusterListResponse represents list clusters response
type ClusterListResponse struct {
	Client   string           `json:"client"`
	Clusters []ClusterSummary `json:"clusters"`
}

// ClusterDetailResponse carries the served topology of one cluster
type ClusterDetailResponse struct {
	ClusterSummary
	Topology *metadata.TopologyFile `json:"topology"`
}

// EndpointView is one candidate endpoint and whether it may be used now
type EndpointView struct {
	Endpoint string `json:"endpoint"`
	Usable   bool   `json:"usable"`
}

// LocateResponse represents the routing decision for a key
type LocateResponse struct {
	Cluster        string         `json:"cluster"`
	Key            string         `json:"key"`
	Node           string         `json:"node"`
	Start          int64          `json:"start"`
	End            int64          `json:"end"`
	WriteEndpoints []EndpointView `json:"write_endpoints"`
	ReadEndpoints  []EndpointView `json:"read_endpoints"`
}

// StatusResponse compares the local rehash state with the coordination
// service
type StatusResponse struct {
	Cluster       string                           `json:"cluster"`
	Client        string                           `json:"client"`
	Local         topology.RehashStatus            `json:"local"`
	ClusterStatus topology.RehashStatus            `json:"cluster_status"`
	Clients       map[string]topology.RehashStatus `json:"clients"`
}

// FailFastResponse lists endpoints currently excluded from traffic
type FailFastResponse struct {
	Enabled  bool     `json:"enabled"`
	Open     []string `json:"open"`
	Removed  []string `json:"removed"`
	Isolated []string `json:"isolated"`
}

// PoolListResponse lists connection pool counters, busiest first
type PoolListResponse struct {
	Pools []pool.EndpointStats `json:"pools"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
