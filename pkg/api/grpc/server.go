package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aescanero/flightgraph/internal/application/workers"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for flight processing
const ServiceName = "flightgraph.Processor"

// Server represents the gRPC API server. It serves the standard health
// protocol, tracking worker pool health.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	monitor  *workers.HealthMonitor
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port int
	// Health is polled to update the serving status; optional
	Health *workers.HealthMonitor
	// CheckInterval defaults to five seconds
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		monitor:  cfg.Health,
		interval: interval,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
	s.updateStatus()

	return s, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.Addr()))

	if s.monitor != nil {
		go s.watch()
	}

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// watch keeps the serving status in line with worker pool health
func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.updateStatus()
		}
	}
}

func (s *Server) updateStatus() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.monitor != nil && !s.monitor.GetStatus().Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	close(s.stopCh)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
