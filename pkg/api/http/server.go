package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aescanero/flightgraph/internal/application/orchestrator"
	"github.com/aescanero/flightgraph/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Manager
	health       *workers.HealthMonitor
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Manager
	// Health reports worker pool status on /health; optional
	Health *workers.HealthMonitor
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		health:       cfg.Health,
		gatherer:     cfg.Gatherer,
		logger:       logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	metrics := promhttp.Handler()
	if s.gatherer != nil {
		metrics = promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Flight endpoints
		v1.POST("/flights", s.handleSubmitFlight)
		v1.POST("/flights/batch", s.handleProcessBatch)
		v1.POST("/flights/plan", s.handlePlanFlight)

		// Run endpoints
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)
	}
}

// SetupWebSocket adds the run stream handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
}) {
	s.router.GET("/api/v1/runs/:id/ws", handler.HandleRunStream)
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
