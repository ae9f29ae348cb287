// Package healthgrpc exposes the process's standard gRPC health-check
// surface. The service itself speaks WebSocket and HTTP (internal/wsapi,
// internal/adminapi); this is the inbound gRPC surface infra tooling
// (load balancers, orchestrators) expects to probe, kept separate so it
// can bind its own port and interceptor chain.
package healthgrpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/echoline-labs/streamrecog/internal/trace"
)

// Server wraps a gRPC server exposing only the standard health-check
// and reflection services. Readiness is reported for the overall server
// (the empty service name) via SetServing so a caller can distinguish
// "not yet ready" from "serving".
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer constructs a Server, registered NOT_SERVING until
// SetServing(true) is called (spec-adjacent readiness convention
// carried from the pack's own adapter binaries: bind the port before
// the model collaborator is ready, report NOT_SERVING in between).
func NewServer() *Server {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.StreamInterceptor(trace.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpcServer: grpcServer, health: healthServer}
}

// SetServing flips the overall health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Serve blocks accepting connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting new RPCs and waits for in-flight ones
// to finish.
func (s *Server) GracefulStop() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
}

// Stop forces an immediate stop, for use after a graceful-stop timeout.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}
