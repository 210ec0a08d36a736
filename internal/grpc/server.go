package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/weiawesome/chat-relay/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service of a relay instance.
const ServiceName = "chat-relay"

type Server struct {
	*grpc.Server
	Health *health.Server
	Addr   net.Addr
}

// StartGRPCServer serves the gRPC health service on addr with zerolog
// interceptors.
func StartGRPCServer(addr string, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		l := log.L()
		l.Info().Str("address", lis.Addr().String()).Msg("grpc server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()

	return &Server{Server: s, Health: hs, Addr: lis.Addr()}, nil
}

// Stop marks the service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.Health.Shutdown()
	s.GracefulStop()
}
