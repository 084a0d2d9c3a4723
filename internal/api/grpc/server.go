// Package grpcapi serves the gRPC health and reflection services, with
// serving status following call readiness.
package grpcapi

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-call-service/internal/observability"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/observability/metrics"
)

// ServiceName is the health-check name of the call service.
const ServiceName = "ai.voice.call.CallService"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  func() bool
	logger zerolog.Logger
}

// New builds the gRPC server. Both the overall and the call service status
// start as NOT_SERVING until ready reports true.
func New(m *metrics.Metrics, ready func() bool) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	// Register gRPC health check service
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: hs, ready: ready, logger: logging.WithComponent("grpc")}
	s.SetServing(false)
	return s
}

// SetServing updates the health status of the process and the call service.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// WatchReadiness polls ready and mirrors it into the health service until
// ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	last := false
	check := func() {
		if now := s.ready(); now != last {
			s.SetServing(now)
			s.logger.Info().Bool("serving", now).Msg("gRPC health status changed")
			last = now
		}
	}
	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	return s.grpc.Serve(lis)
}

// GracefulStop marks the service NOT_SERVING and drains in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
