// Package health serves the standard gRPC health protocol on the admin port.
// The gateway reports SERVING while at least one API key is in rotation.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

// ServiceName is the health service name clients can query in addition to "".
const ServiceName = "tavily.mcp.Gateway"

// PoolStats reports the credential pool.
type PoolStats interface {
	Stats() resilience.PoolStats
}

// Server publishes pool health over gRPC.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pool     PoolStats
	interval time.Duration
}

// NewServer creates the admin gRPC server. interval controls how often the
// pool is polled; zero means every 5 seconds.
func NewServer(pool PoolStats, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, pool: pool, interval: interval}
	s.refresh()
	return s
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh maps the pool's active count onto the serving status.
func (s *Server) refresh() {
	st := s.pool.Stats()
	metrics.RecordPool(st.Total, st.Active)

	status := healthpb.HealthCheckResponse_SERVING
	if st.Active == 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
