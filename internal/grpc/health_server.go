package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Clusters reports which clusters this process serves
type Clusters interface {
	Names() []string
	Serving(name string) bool
}

// HealthServer exposes the standard gRPC health service. Every registered
// cluster is a service name; the empty name covers the whole process.
type HealthServer struct {
	address  string
	clusters Clusters
	interval time.Duration
	logger   *logging.Logger

	health     *health.Server
	grpcServer *grpc.Server

	mu    sync.Mutex
	known map[string]bool
}

// NewHealthServer creates a health server that recomputes serving states
// every interval
func NewHealthServer(address string, clusters Clusters, interval time.Duration, logger *logging.Logger) *HealthServer {
	s := &HealthServer{
		address:    address,
		clusters:   clusters,
		interval:   interval,
		logger:     logger.With("component", "grpc_health"),
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
		known:      make(map[string]bool),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	// Register reflection service (for debugging with grpcurl)
	reflection.Register(s.grpcServer)
	return s
}

// Refresh recomputes the serving state of every cluster. Clusters that
// disappeared are reported NOT_SERVING.
func (s *HealthServer) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	serving := 0
	for _, name := range s.clusters.Names() {
		seen[name] = true
		ok := s.clusters.Serving(name)
		if ok {
			serving++
		}
		if prev, exists := s.known[name]; !exists || prev != ok {
			s.logger.Info("Cluster serving state changed", "cluster", name, "serving", ok)
		}
		s.known[name] = ok
		s.health.SetServingStatus(name, servingStatus(ok))
	}
	for name := range s.known {
		if !seen[name] {
			delete(s.known, name)
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}

	// the process serves while no registered cluster is down
	s.health.SetServingStatus("", servingStatus(serving == len(seen)))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Check answers a health check without going through the network
func (s *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Serve serves lis until Stop
func (s *HealthServer) Serve(lis net.Listener) error {
	s.Refresh()
	s.logger.Info("gRPC health server starting", "address", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Start listens on the configured address and refreshes serving states
// until ctx is done
func (s *HealthServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			s.logger.Error("gRPC server error", "error", err)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down gRPC server")
			s.Stop()
			return nil
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
