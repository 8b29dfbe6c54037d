package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/aescanero/flightgraph/internal/application/orchestrator"
	"github.com/aescanero/flightgraph/internal/application/workers"
	"github.com/aescanero/flightgraph/internal/config"
	eventsmemory "github.com/aescanero/flightgraph/pkg/adapters/events/memory"
	metricsprom "github.com/aescanero/flightgraph/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/flightgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runFlags struct {
	file       string
	catalog    string
	sequential bool
	workers    int
	refDriver  string
	refDSN     string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process flights from a JSON file and print the run reports",
	RunE:  runLocal,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.file, "file", "f", "", "Flight JSON file, or - for stdin (required)")
	f.StringVar(&runFlags.catalog, "catalog", "", "Step catalog YAML (default: built-in steps)")
	f.BoolVar(&runFlags.sequential, "sequential", false, "Run steps one at a time in topological order")
	f.IntVar(&runFlags.workers, "workers", 0, "Worker pool size (default: number of CPUs)")
	f.StringVar(&runFlags.refDriver, "reference-driver", "", "Reference database driver (sqlite3, mysql, postgres)")
	f.StringVar(&runFlags.refDSN, "reference-dsn", "", "Reference database DSN")

	_ = runCmd.MarkFlagRequired("file")
}

// localSetup is a manager over in-memory adapters
type localSetup struct {
	manager *orchestrator.Manager
	logger  *zap.Logger
	close   func()
}

func newLocalSetup(ctx context.Context, cfg *config.Config, withPool bool) (*localSetup, error) {
	logger := initLogger(cfg.LogLevel)

	catalog, err := loadCatalog(cfg.Processing.CatalogPath)
	if err != nil {
		return nil, err
	}

	session, err := openReference(ctx, cfg.Reference.Driver, cfg.Reference.DSN, logger)
	if err != nil {
		return nil, err
	}

	closers := []func(){func() { _ = logger.Sync() }}
	if session != nil {
		closers = append(closers, func() { _ = session.Close() })
	}

	metrics := metricsprom.NewCollector(prometheus.NewRegistry())

	var pool *workers.Pool
	if withPool && !cfg.Sequential() {
		pool = workers.NewPool(cfg.Workers.PoolSize, metrics, logger, 0)
		if err := pool.Start(); err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = pool.Shutdown(context.Background()) })
	}

	bus := eventsmemory.NewInMemoryEventBus(logger)
	closers = append(closers, func() { _ = bus.Close() })

	manager := orchestrator.NewManager(
		submitterOf(pool),
		catalog,
		sessionOf(session),
		bus,
		storagememory.NewInMemoryRunStore(),
		metrics,
		orchestrator.NewValidator(),
		logger,
		orchestrator.Settings{
			Sequential:       cfg.Sequential(),
			RunTimeout:       cfg.Timeouts.RunTimeout,
			BatchParallelism: cfg.Processing.BatchParallelism,
		},
	)

	return &localSetup{
		manager: manager,
		logger:  logger,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

// applyLocalFlags overrides configuration with command line flags
func applyLocalFlags(cfg *config.Config, catalog, refDriver, refDSN string) {
	if catalog != "" {
		cfg.Processing.CatalogPath = catalog
	}
	if refDriver != "" {
		cfg.Reference.Driver = refDriver
	}
	if refDSN != "" {
		cfg.Reference.DSN = refDSN
	}
}

func runLocal(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyLocalFlags(cfg, runFlags.catalog, runFlags.refDriver, runFlags.refDSN)
	if runFlags.sequential {
		cfg.Processing.Mode = config.ModeSequential
	}
	if runFlags.workers > 0 {
		cfg.Workers.PoolSize = runFlags.workers
	}

	subs, err := readSubmissions(runFlags.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	setup, err := newLocalSetup(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer setup.close()

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	if len(subs) == 1 {
		report, err := setup.manager.Process(ctx, subs[0])
		if err != nil {
			return err
		}
		if err := writeJSON(out, report); err != nil {
			return err
		}
		if report.Status == domain.RunStatusError {
			return fmt.Errorf("flight %s failed", report.FlightID)
		}
		return nil
	}

	summary, err := setup.manager.ProcessBatch(ctx, subs)
	if err != nil {
		return err
	}
	if err := writeJSON(out, summary); err != nil {
		return err
	}
	if summary.Error > 0 {
		return fmt.Errorf("%d of %d flights failed", summary.Error, len(subs))
	}
	return nil
}
