package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/soltixdb/shardgate/internal/events"
)

// Envelope is the wire form of one topology event
type Envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Category  string          `json:"category"`
	Cluster   string          `json:"cluster"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// removal is the payload of node and instance removals
type removal struct {
	Node     string `json:"node"`
	Instance string `json:"instance,omitempty"`
}

type rehash struct {
	Status string `json:"status"`
}

// NewEnvelope converts e into an envelope with a fresh id
func NewEnvelope(e events.Event) (Envelope, error) {
	var payload interface{}
	switch e.Kind {
	case events.ClusterChanged:
		payload = e.Data
	case events.NodeAdded, events.NodeChanged:
		payload = e.Node
	case events.InstanceAdded, events.InstanceChanged:
		payload = e.Instance
	case events.NodeRemoved:
		payload = removal{Node: e.Name}
	case events.InstanceRemoved:
		payload = removal{Node: e.NodeName, Instance: e.Name}
	case events.Rehash:
		payload = rehash{Status: e.Status.String()}
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Kind:      e.Kind.String(),
		Category:  string(e.Kind.Category()),
		Cluster:   e.Cluster,
		Timestamp: e.Time,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Codec serializes envelopes, optionally snappy-compressed
type Codec struct {
	Compress bool
}

func (c Codec) Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if c.Compress {
		return snappy.Encode(nil, data), nil
	}
	return data, nil
}

func (c Codec) Decode(data []byte) (Envelope, error) {
	if c.Compress {
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to decompress envelope: %w", err)
		}
		data = raw
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// Subject returns the subject events of cluster and category go to
func Subject(prefix, cluster string, category events.Category) string {
	return prefix + "." + cluster + "." + string(category)
}
