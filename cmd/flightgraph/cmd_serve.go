package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/flightgraph/internal/application/orchestrator"
	"github.com/aescanero/flightgraph/internal/application/workers"
	"github.com/aescanero/flightgraph/internal/config"
	eventsmemory "github.com/aescanero/flightgraph/pkg/adapters/events/memory"
	"github.com/aescanero/flightgraph/pkg/adapters/events/redis"
	"github.com/aescanero/flightgraph/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/flightgraph/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/flightgraph/pkg/adapters/storage/redis"
	"github.com/aescanero/flightgraph/pkg/api/grpc"
	"github.com/aescanero/flightgraph/pkg/api/http"
	"github.com/aescanero/flightgraph/pkg/api/websocket"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveFlags struct {
	consume bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC API servers",
	Long: "Run the flight processing service. Configuration is read from the environment;\n" +
		"see internal/config for the variables.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveFlags.consume, "consume", true, "Process flights published on the flights event stream")
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cmd.SilenceUsage = true

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting flightgraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage", cfg.Processing.Storage),
		zap.String("mode", cfg.Processing.Mode))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	var (
		eventBus    ports.EventBus
		runStore    ports.RunStore
		redisClient *goredis.Client
	)
	switch cfg.Processing.Storage {
	case config.StorageRedis:
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		consumerName := cfg.Redis.ConsumerName
		if consumerName == "" {
			consumerName = fmt.Sprintf("flightgraph-%d", os.Getpid())
		}
		streams, err := redis.NewStreamsEventBus(
			redisClient,
			cfg.Redis.ConsumerGroup,
			consumerName,
			logger,
			// every websocket client needs every run and step event
			redis.WithBroadcastTopics(domain.TopicRuns, domain.TopicSteps),
			redis.WithMaxLen(cfg.Redis.StreamMaxLen),
		)
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		eventBus = streams
		runStore = redisstorage.NewRunStore(redisClient, cfg.Processing.RunTTL, logger)
	default:
		eventBus = eventsmemory.NewInMemoryEventBus(logger)
		runStore = storagememory.NewInMemoryRunStore()
	}

	catalog, err := loadCatalog(cfg.Processing.CatalogPath)
	if err != nil {
		return err
	}

	session, err := openReference(ctx, cfg.Reference.Driver, cfg.Reference.DSN, logger)
	if err != nil {
		return err
	}

	metricsCollector := prometheus.NewCollector(nil)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	// Initialize application components
	orchestratorMgr := orchestrator.NewManager(
		workerPool,
		catalog,
		sessionOf(session),
		eventBus,
		runStore,
		metricsCollector,
		orchestrator.NewValidator(),
		logger,
		orchestrator.Settings{
			Sequential:       cfg.Sequential(),
			RunTimeout:       cfg.Timeouts.RunTimeout,
			BatchParallelism: cfg.Processing.BatchParallelism,
		},
	)

	if serveFlags.consume {
		if err := orchestratorMgr.Consume(ctx); err != nil {
			return fmt.Errorf("failed to consume flights: %w", err)
		}
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Health:       workerPool.Health(),
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, orchestratorMgr, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: workerPool.Health(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	// Start servers
	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.Start() }()
	go func() { errCh <- grpcServer.Start() }()

	logger.Info("flightgraph started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", workerPool.Size()))

	// Wait for a signal or a server failure
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if session != nil {
		if err := session.Close(); err != nil {
			logger.Error("reference database close error", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("flightgraph shut down complete")
	return serveErr
}
