package topology

import (
	"fmt"
	"strings"
)

// ClusterStatus is the administrative state of a cluster
type ClusterStatus string

const (
	ClusterNormal  ClusterStatus = "NORMAL"
	ClusterRehash  ClusterStatus = "REHASH"
	ClusterDisable ClusterStatus = "DISABLE"
)

// NodeStatus is the routing state of a shard node
type NodeStatus string

const (
	NodeActive  NodeStatus = "ACTIVE"
	NodeDisable NodeStatus = "DISABLE"
	NodeClosed  NodeStatus = "CLOSED"
)

// InstanceStatus is the liveness state of a replica endpoint
type InstanceStatus string

const (
	InstanceActive  InstanceStatus = "ACTIVE"
	InstanceDown    InstanceStatus = "DOWN"
	InstanceDeleted InstanceStatus = "DELETED"
)

// Role is the master/slave role of an instance
type Role string

const (
	RoleMaster Role = "MASTER"
	RoleSlave  Role = "SLAVE"
	RoleAll    Role = "ALL"
)

// ReplicationState tracks the replication progress of an instance
type ReplicationState string

const (
	ReplicationInitial ReplicationState = "INITIAL"
	ReplicationSyncing ReplicationState = "SYNCING"
	ReplicationSynced  ReplicationState = "SYNCED"
	ReplicationNoNeed  ReplicationState = "NONEED"
)

// ReadStrategy decides which instances of a node serve reads
type ReadStrategy string

const (
	ReadMaster ReadStrategy = "MASTER"
	ReadSlaves ReadStrategy = "SLAVES"
	ReadRandom ReadStrategy = "RANDOM"
)

// WriteStrategy decides which instances of a node serve writes
type WriteStrategy string

const (
	WriteMaster      WriteStrategy = "MASTER"
	WriteMultiMaster WriteStrategy = "MULTI_MASTER"
	WriteRandom      WriteStrategy = "RANDOM"
)

// ShardStrategy names the locator used to map keys to nodes
type ShardStrategy string

const (
	ShardConsistentHash ShardStrategy = "CONSISTENT_HASH"
	ShardMod            ShardStrategy = "MOD"
	ShardRegion         ShardStrategy = "REGION"
	ShardRegionSuffix   ShardStrategy = "REGION_SUFFIX"
	ShardHexPrefixMod   ShardStrategy = "HEX_PREFIX_MOD"
)

// ClusterType selects the topology subtree of a store kind
type ClusterType string

const (
	TypeRedis   ClusterType = "REDIS"
	TypeMongoDB ClusterType = "MONGODB"
	TypeMySQL   ClusterType = "MYSQL"
)

// RootPath returns the coordination-store root of the cluster type
func (t ClusterType) RootPath() string {
	switch t {
	case TypeMongoDB:
		return "/mongoclusters"
	case TypeMySQL:
		return "/mysqlclusters"
	default:
		return "/clusters"
	}
}

// RehashStatus is a state of the peer-to-peer rehash protocol.
// Wire values are lower case.
type RehashStatus string

const (
	RehashNormal   RehashStatus = "normal"
	RehashSyn      RehashStatus = "syn"
	RehashAck      RehashStatus = "ack"
	RehashFail     RehashStatus = "fail"
	RehashRehash   RehashStatus = "rehash"
	RehashFinished RehashStatus = "finished"
)

func (s RehashStatus) String() string { return string(s) }

// parseEnum matches raw case-insensitively against the canonical values and
// the legacy aliases.
func parseEnum[T ~string](kind, raw string, aliases map[string]T, values ...T) (T, error) {
	trimmed := strings.TrimSpace(raw)
	for _, v := range values {
		if strings.EqualFold(trimmed, string(v)) {
			return v, nil
		}
	}
	if v, ok := aliases[strings.ToLower(trimmed)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("unknown %s: %q", kind, raw)
}

// ParseClusterStatus parses a cluster status. "nomal" is the legacy wire
// spelling of NORMAL.
func ParseClusterStatus(s string) (ClusterStatus, error) {
	return parseEnum("cluster status", s, map[string]ClusterStatus{"nomal": ClusterNormal},
		ClusterNormal, ClusterRehash, ClusterDisable)
}

func ParseNodeStatus(s string) (NodeStatus, error) {
	return parseEnum("node status", s, nil, NodeActive, NodeDisable, NodeClosed)
}

func ParseInstanceStatus(s string) (InstanceStatus, error) {
	return parseEnum("instance status", s, nil, InstanceActive, InstanceDown, InstanceDeleted)
}

func ParseRole(s string) (Role, error) {
	return parseEnum("role", s, nil, RoleMaster, RoleSlave, RoleAll)
}

func ParseReplicationState(s string) (ReplicationState, error) {
	return parseEnum("replication state", s, nil,
		ReplicationInitial, ReplicationSyncing, ReplicationSynced, ReplicationNoNeed)
}

func ParseReadStrategy(s string) (ReadStrategy, error) {
	return parseEnum("read strategy", s, nil, ReadMaster, ReadSlaves, ReadRandom)
}

// ParseWriteStrategy parses a write strategy, accepting the historical
// "muilti_master" spelling.
func ParseWriteStrategy(s string) (WriteStrategy, error) {
	return parseEnum("write strategy", s, map[string]WriteStrategy{"muilti_master": WriteMultiMaster},
		WriteMaster, WriteMultiMaster, WriteRandom)
}

func ParseShardStrategy(s string) (ShardStrategy, error) {
	return parseEnum("shard strategy", s, nil,
		ShardConsistentHash, ShardMod, ShardRegion, ShardRegionSuffix, ShardHexPrefixMod)
}

func ParseClusterType(s string) (ClusterType, error) {
	return parseEnum("cluster type", s, nil, TypeRedis, TypeMongoDB, TypeMySQL)
}

func ParseRehashStatus(s string) (RehashStatus, error) {
	return parseEnum("rehash status", s, nil,
		RehashNormal, RehashSyn, RehashAck, RehashFail, RehashRehash, RehashFinished)
}

// Text unmarshalers make every enum tolerant of case and legacy spellings
// when topology records are decoded.

func (s *ClusterStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseClusterStatus)
	*s = v
	return err
}

func (s *NodeStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseNodeStatus)
	*s = v
	return err
}

func (s *InstanceStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseInstanceStatus)
	*s = v
	return err
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseRole)
	*r = v
	return err
}

func (r *ReplicationState) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseReplicationState)
	*r = v
	return err
}

func (r *ReadStrategy) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseReadStrategy)
	*r = v
	return err
}

func (w *WriteStrategy) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseWriteStrategy)
	*w = v
	return err
}

func (s *ShardStrategy) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseShardStrategy)
	*s = v
	return err
}

func (t *ClusterType) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum(b, ParseClusterType)
	*t = v
	return err
}

// unmarshalEnum leaves empty values unset so record defaults apply.
func unmarshalEnum[T ~string](b []byte, parse func(string) (T, error)) (T, error) {
	if len(b) == 0 {
		var zero T
		return zero, nil
	}
	return parse(string(b))
}
