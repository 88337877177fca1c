package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/events"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/topology"
)

// setupTestNATS starts an embedded NATS server with JetStream
func setupTestNATS(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func isRedisAvailable() bool {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

func testNode() *topology.Node {
	return topology.NewNode(topology.NodeRecord{ClusterName: "c1", Name: "n1", Start: 0, End: 100})
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(events.NewNodeChanged("c1", testNode()))
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "node_changed", env.Kind)
	assert.Equal(t, "node", env.Category)
	assert.Equal(t, "c1", env.Cluster)
	assert.False(t, env.Timestamp.IsZero())

	var node topology.NodeRecord
	require.NoError(t, json.Unmarshal(env.Payload, &node))
	assert.Equal(t, "n1", node.Name)
	assert.Equal(t, int64(100), node.End)

	env, err = NewEnvelope(events.NewInstanceRemoved("c1", "n1", "m"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"node":"n1","instance":"m"}`, string(env.Payload))

	env, err = NewEnvelope(events.NewRehash("c1", topology.RehashSyn))
	require.NoError(t, err)
	assert.Equal(t, "cluster", env.Category)
	assert.JSONEq(t, `{"status":"syn"}`, string(env.Payload))

	other, err := NewEnvelope(events.NewRehash("c1", topology.RehashSyn))
	require.NoError(t, err)
	assert.NotEqual(t, env.ID, other.ID)
}

func TestCodec(t *testing.T) {
	env, err := NewEnvelope(events.NewNodeRemoved("c1", "n1"))
	require.NoError(t, err)

	for _, compress := range []bool{false, true} {
		codec := Codec{Compress: compress}
		data, err := codec.Encode(env)
		require.NoError(t, err)
		assert.Equal(t, !compress, json.Valid(data))

		got, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, env.ID, got.ID)
		assert.JSONEq(t, string(env.Payload), string(got.Payload))
	}

	_, err = Codec{Compress: true}.Decode([]byte("not snappy"))
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "shardgate.c1.instance", Subject("shardgate", "c1", events.CategoryInstance))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(config.FeedConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryTransport{}, tr)
	require.NoError(t, tr.Close())

	_, err = NewTransport(config.FeedConfig{Type: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewTransport(config.FeedConfig{Type: "kafka"})
	assert.Error(t, err, "kafka needs brokers")

	tr, err = NewTransport(config.FeedConfig{Type: "kafka", URL: "localhost:9092,localhost:9093"})
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, tr.(*KafkaTransport).config.Brokers)
	require.NoError(t, tr.Close())
}

func TestMemoryTransport(t *testing.T) {
	tr := newMemoryTransport()
	defer func() { _ = tr.Close() }()
	ctx := context.Background()

	require.NoError(t, tr.Publish(ctx, "s", []byte("one")))
	assert.Equal(t, 1, tr.Pending("s"))

	got := make(chan string, 1)
	require.NoError(t, tr.Subscribe("s", func(data []byte) error {
		got <- string(data)
		return nil
	}))
	assert.Error(t, tr.Subscribe("s", func([]byte) error { return nil }))

	select {
	case msg := <-got:
		assert.Equal(t, "one", msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, tr.Unsubscribe("s"))
	assert.Error(t, tr.Unsubscribe("s"))
}

func TestPublisherObserve(t *testing.T) {
	tr := newMemoryTransport()
	p := NewPublisher(tr, "gate", true, logging.NewNop())
	p.Start(context.Background())

	subject := Subject("gate", "c1", events.CategoryNode)
	got := make(chan Envelope, 4)
	require.NoError(t, tr.Subscribe(subject, func(data []byte) error {
		env, err := Codec{Compress: true}.Decode(data)
		if err != nil {
			return err
		}
		got <- env
		return nil
	}))

	p.Observe(events.NewNodeAdded("c1", testNode()))
	p.Observe(events.NewNodeRemoved("c1", "n1"))

	for _, want := range []string{"node_added", "node_removed"} {
		select {
		case env := <-got:
			assert.Equal(t, want, env.Kind)
			assert.Equal(t, "c1", env.Cluster)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not published", want)
		}
	}

	require.NoError(t, p.Stop())
	published, dropped, failed := p.Stats()
	assert.Equal(t, int64(2), published)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	p := NewPublisher(newMemoryTransport(), "gate", false, logging.NewNop())
	for i := 0; i < publishBuffer+5; i++ {
		p.Observe(events.NewNodeRemoved("c1", "n1"))
	}
	_, dropped, _ := p.Stats()
	assert.Equal(t, int64(5), dropped)
}

func TestNATSTransport(t *testing.T) {
	url := setupTestNATS(t)

	tr, err := newNATSTransport(url, "", "", "gate")
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	// a second transport finds the existing stream
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	again, err := newNATSTransportWithConn(conn, "gate")
	require.NoError(t, err)
	assert.Equal(t, tr.stream, again.stream)
	_ = again.Close()

	p := NewPublisher(tr, "gate", false, logging.NewNop())
	p.Start(context.Background())
	p.Observe(events.NewRehash("c1", topology.RehashAck))

	subject := Subject("gate", "c1", events.CategoryCluster)
	got := make(chan Envelope, 1)
	require.NoError(t, tr.Subscribe(subject, func(data []byte) error {
		env, err := Codec{}.Decode(data)
		if err != nil {
			return err
		}
		got <- env
		return nil
	}))

	select {
	case env := <-got:
		assert.Equal(t, "rehash", env.Kind)
		assert.JSONEq(t, `{"status":"ack"}`, string(env.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("event not received over NATS")
	}

	require.NoError(t, tr.Unsubscribe(subject))
}

func TestRedisTransport(t *testing.T) {
	if !isRedisAvailable() {
		t.Skip("Redis not available, skipping test")
	}

	tr, err := newRedisTransport(RedisConfig{URL: "redis://localhost:6379", Stream: "shardgate-test"})
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	subject := "shardgate-test.c1.node." + time.Now().Format("150405.000000")
	defer tr.client.Del(context.Background(), tr.streamName(subject))

	got := make(chan string, 1)
	require.NoError(t, tr.Subscribe(subject, func(data []byte) error {
		got <- string(data)
		return nil
	}))
	require.NoError(t, tr.Publish(context.Background(), subject, []byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received over Redis")
	}
}
