package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakeClusters struct {
	mu      sync.Mutex
	serving map[string]bool
}

func (f *fakeClusters) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.serving))
	for name := range f.serving {
		out = append(out, name)
	}
	return out
}

func (f *fakeClusters) Serving(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serving[name]
}

func (f *fakeClusters) set(name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serving[name] = ok
}

func (f *fakeClusters) remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.serving, name)
}

func TestHealthServerRefresh(t *testing.T) {
	clusters := &fakeClusters{serving: map[string]bool{"c1": true, "c2": false}}
	s := NewHealthServer("127.0.0.1:0", clusters, time.Second, logging.NewNop())
	ctx := context.Background()

	s.Refresh()
	status, err := s.Check(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	status, err = s.Check(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	status, err = s.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	clusters.set("c2", true)
	s.Refresh()
	status, _ = s.Check(ctx, "")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	clusters.remove("c1")
	s.Refresh()
	status, err = s.Check(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	_, err = s.Check(ctx, "unknown")
	assert.Error(t, err)
}

func TestHealthServerOverGRPC(t *testing.T) {
	clusters := &fakeClusters{serving: map[string]bool{"c1": true}}
	s := NewHealthServer("", clusters, time.Second, logging.NewNop())

	s.Refresh()
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "c1"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestHealthServerStopWithoutStart(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", &fakeClusters{serving: map[string]bool{}}, time.Second, logging.NewNop())
	s.Stop()
}
