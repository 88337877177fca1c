package topology

import (
	"encoding/json"
	"fmt"
)

// DecodeCluster parses a persisted cluster record. Nodes are not part of the
// record and must be attached by the caller.
func DecodeCluster(data []byte) (*Cluster, error) {
	c := &Cluster{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cluster: %w", err)
	}
	return c, nil
}

// DecodeNode parses a persisted node record without its instances
func DecodeNode(data []byte) (*Node, error) {
	n := &Node{}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	return n, nil
}

// DecodeInstance parses a persisted instance record
func DecodeInstance(data []byte) (*Instance, error) {
	i := &Instance{}
	if err := json.Unmarshal(data, i); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return i, nil
}
