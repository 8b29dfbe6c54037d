package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/flightgraph/internal/application/depgraph"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/ports"
	"github.com/aescanero/flightgraph/pkg/steps"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// graphFailureStep names the failure recorded when a graph cannot be built
const graphFailureStep = "graph"

// Settings tunes how the manager processes flights
type Settings struct {
	// Sequential runs the steps of a flight one at a time
	Sequential bool
	// RunTimeout bounds a single flight run; zero means no limit
	RunTimeout time.Duration
	// BatchParallelism bounds how many flights of a batch run at once
	BatchParallelism int
}

// Manager coordinates flight processing
type Manager struct {
	pool      depgraph.Submitter
	catalog   *steps.Catalog
	session   domain.Session
	eventBus  ports.EventBus
	store     ports.RunStore
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger
	settings  Settings

	// Track active runs
	runs   sync.Map // map[string]*runContext
	active atomic.Int32
	wg     sync.WaitGroup
}

// runContext holds state for a single active run
type runContext struct {
	runID      string
	startedAt  time.Time
	cancelFunc context.CancelFunc
}

// NewManager creates a new orchestrator manager. session may be nil when no
// reference database is configured.
func NewManager(
	pool depgraph.Submitter,
	catalog *steps.Catalog,
	session domain.Session,
	eventBus ports.EventBus,
	store ports.RunStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	settings Settings,
) *Manager {
	if settings.BatchParallelism < 1 {
		settings.BatchParallelism = 1
	}
	return &Manager{
		pool:      pool,
		catalog:   catalog,
		session:   session,
		eventBus:  eventBus,
		store:     store,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
		settings:  settings,
	}
}

// Submit validates a flight, records it as processing and runs it in the
// background. It returns the run ID.
func (m *Manager) Submit(ctx context.Context, sub *domain.FlightSubmission) (string, error) {
	if err := m.validator.Validate(sub); err != nil {
		m.logger.Warn("flight submission rejected", zap.Error(err))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	report, err := m.start(ctx, sub)
	if err != nil {
		return "", err
	}

	runCtx, cancel := m.runContext(report.ID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if _, err := m.process(runCtx, report, sub.Flight()); err != nil {
			m.logger.Error("flight processing failed",
				zap.String("run_id", report.ID),
				zap.String("flight_id", sub.FlightID),
				zap.Error(err))
		}
	}()

	return report.ID, nil
}

// Process validates and runs a flight, blocking until the report is final
func (m *Manager) Process(ctx context.Context, sub *domain.FlightSubmission) (*domain.RunReport, error) {
	if err := m.validator.Validate(sub); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	report, err := m.start(ctx, sub)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := m.runContext(report.ID)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return m.process(runCtx, report, sub.Flight())
}

// BatchSummary counts flight outcomes of a batch
type BatchSummary struct {
	Valid    int                 `json:"valid"`
	Warning  int                 `json:"warning"`
	Error    int                 `json:"error"`
	Reports  []*domain.RunReport `json:"reports"`
	Rejected map[string]string   `json:"rejected,omitempty"`
}

// ProcessBatch runs many flights with bounded parallelism. Flights that fail
// validation are counted as errors; the returned error is only set when ctx
// ends before the batch completes.
func (m *Manager) ProcessBatch(ctx context.Context, subs []*domain.FlightSubmission) (*BatchSummary, error) {
	reports := make([]*domain.RunReport, len(subs))
	rejected := make([]error, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.settings.BatchParallelism)

	for i, sub := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := m.Process(gctx, sub)
			if err != nil {
				rejected[i] = err
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch interrupted: %w", err)
	}

	summary := &BatchSummary{Rejected: make(map[string]string)}
	for i, report := range reports {
		if report == nil {
			summary.Error++
			summary.Rejected[flightLabel(subs[i], i)] = rejected[i].Error()
			continue
		}
		summary.Reports = append(summary.Reports, report)
		switch report.Status {
		case domain.RunStatusSuccess:
			summary.Valid++
		case domain.RunStatusWarning:
			summary.Warning++
		default:
			summary.Error++
		}
	}

	m.logger.Info("batch processed",
		zap.Int("flights", len(subs)),
		zap.Int("valid", summary.Valid),
		zap.Int("warning", summary.Warning),
		zap.Int("error", summary.Error))

	return summary, nil
}

func flightLabel(sub *domain.FlightSubmission, i int) string {
	if sub != nil && sub.FlightID != "" {
		return sub.FlightID
	}
	return fmt.Sprintf("#%d", i)
}

// Consume processes flight submissions published on the flights topic until
// ctx is cancelled
func (m *Manager) Consume(ctx context.Context) error {
	return m.eventBus.Subscribe(ctx, domain.TopicFlights, func(ctx context.Context, event domain.Event) error {
		if event.Type != domain.EventTypeFlightSubmitted {
			return nil
		}
		sub, err := decodeSubmission(event)
		if err != nil {
			return err
		}
		_, err = m.Submit(ctx, sub)
		return err
	})
}

func decodeSubmission(event domain.Event) (*domain.FlightSubmission, error) {
	raw, ok := event.Data["submission"]
	if !ok {
		return nil, fmt.Errorf("event %s has no submission", event.ID)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}
	var sub domain.FlightSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission: %w", err)
	}
	return &sub, nil
}

// GetRun retrieves a run report
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	report, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return report, nil
}

// ListRuns returns every stored run report
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.RunReport, error) {
	return m.store.ListRuns(ctx)
}

// CancelRun cancels an active run. Steps that have not started are skipped.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.runs.Load(runID)
	if !ok {
		return fmt.Errorf("%w: %s is not active", domain.ErrRunNotFound, runID)
	}
	val.(*runContext).cancelFunc()

	m.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// ActiveRuns returns the number of runs currently executing
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// start records a new processing report and announces it
func (m *Manager) start(ctx context.Context, sub *domain.FlightSubmission) (*domain.RunReport, error) {
	report := &domain.RunReport{
		ID:          uuid.New().String(),
		FlightID:    sub.FlightID,
		Airframe:    sub.Airframe,
		Status:      domain.RunStatusProcessing,
		SubmittedAt: time.Now().UTC(),
	}

	if err := m.store.SaveRun(ctx, report); err != nil {
		m.logger.Error("failed to save initial run report",
			zap.String("run_id", report.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	m.metrics.RecordFlightSubmitted(sub.Airframe)
	m.publish(ctx, domain.TopicRuns, domain.Event{
		Type:     domain.EventTypeFlightSubmitted,
		RunID:    report.ID,
		FlightID: sub.FlightID,
		Data: map[string]any{
			"airframe": sub.Airframe,
			"columns":  len(sub.Doubles) + len(sub.Strings),
		},
	})

	m.logger.Info("flight submitted",
		zap.String("run_id", report.ID),
		zap.String("flight_id", sub.FlightID),
		zap.String("airframe", sub.Airframe))

	return report, nil
}

func (m *Manager) runContext(runID string) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.settings.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.settings.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.runs.Store(runID, &runContext{
		runID:      runID,
		startedAt:  time.Now(),
		cancelFunc: cancel,
	})
	return ctx, func() {
		cancel()
		m.runs.Delete(runID)
	}
}

// process builds, validates and executes the step graph for one flight and
// persists the final report
func (m *Manager) process(ctx context.Context, report *domain.RunReport, flight *domain.Flight) (*domain.RunReport, error) {
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	defer func() { m.metrics.SetActiveRuns(int(m.active.Add(-1))) }()

	logger := m.logger.With(
		zap.String("run_id", report.ID),
		zap.String("flight_id", report.FlightID))
	started := time.Now()

	m.publish(ctx, domain.TopicRuns, domain.Event{
		Type:     domain.EventTypeRunStarted,
		RunID:    report.ID,
		FlightID: report.FlightID,
	})

	result, err := m.execute(ctx, report, flight, logger)
	if err != nil {
		// the graph could not be built; no step ran
		logger.Error("flight graph rejected", zap.Error(err))
		result = &domain.RunResult{
			Fatal: []*domain.StepFailure{domain.NewStepFailure(graphFailureStep, domain.ErrorKindFatal, err)},
		}
	}

	completed := time.Now().UTC()
	report.Status = domain.StatusFor(result)
	report.Errors = result.Fatal
	report.Warnings = result.Warnings
	report.Steps = result.Steps
	report.Columns = flight.Columns()
	report.CompletedAt = &completed

	// the run context may already be done; the report must still be stored
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := m.store.SaveRun(saveCtx, report); err != nil {
		logger.Error("failed to save run report", zap.Error(err))
		return report, fmt.Errorf("failed to save run: %w", err)
	}

	duration := time.Since(started)
	m.metrics.RecordRunCompleted(string(report.Status), duration)

	eventType := domain.EventTypeRunCompleted
	if report.Status == domain.RunStatusError {
		eventType = domain.EventTypeRunFailed
	}
	m.publish(saveCtx, domain.TopicRuns, domain.Event{
		Type:     eventType,
		RunID:    report.ID,
		FlightID: report.FlightID,
		Data: map[string]any{
			"status":   report.Status,
			"errors":   len(report.Errors),
			"warnings": len(report.Warnings),
		},
	})

	logger.Info("flight processed",
		zap.String("status", string(report.Status)),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", duration))

	return report, nil
}

func (m *Manager) execute(ctx context.Context, report *domain.RunReport, flight *domain.Flight, logger *zap.Logger) (*domain.RunResult, error) {
	g, err := depgraph.BuildAndValidate(flight, m.catalog.Gather(flight))
	if err != nil {
		return nil, err
	}

	opts := []depgraph.Option{depgraph.WithObserver(&runObserver{manager: m, ctx: ctx, report: report})}
	if m.settings.Sequential {
		opts = append(opts, depgraph.WithSequential())
	}
	engine := depgraph.NewEngine(m.pool, logger, opts...)

	env := &domain.Env{Flight: flight, Session: m.session, Logger: logger}
	return engine.Execute(ctx, g, env)
}

// Shutdown cancels active runs and waits for background runs to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.runs.Range(func(key, value any) bool {
		value.(*runContext).cancelFunc()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return errors.New("shutdown timeout waiting for active runs")
	}
}

// publish sends an event, logging failures; events are best effort
func (m *Manager) publish(ctx context.Context, topic string, event domain.Event) {
	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	if err := m.eventBus.Publish(ctx, topic, event); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}

// runObserver turns step progress into events and metrics
type runObserver struct {
	manager *Manager
	ctx     context.Context
	report  *domain.RunReport
}

func (o *runObserver) StepStarted(step domain.Step) {
	o.manager.publish(o.ctx, domain.TopicSteps, domain.Event{
		Type:     domain.EventTypeStepStarted,
		RunID:    o.report.ID,
		FlightID: o.report.FlightID,
		Step:     step.Name(),
	})
}

func (o *runObserver) StepFinished(outcome domain.StepOutcome) {
	o.manager.metrics.RecordStepExecuted(outcome.Step, string(outcome.State), outcome.Duration)

	eventType := domain.EventTypeStepCompleted
	switch outcome.State {
	case domain.StepStateFailed:
		eventType = domain.EventTypeStepFailed
	case domain.StepStateDisabled, domain.StepStateSkipped:
		eventType = domain.EventTypeStepDisabled
	}

	data := map[string]any{
		"state":    outcome.State,
		"required": outcome.Required,
	}
	if outcome.Reason != "" {
		data["reason"] = outcome.Reason
	}
	o.manager.publish(context.WithoutCancel(o.ctx), domain.TopicSteps, domain.Event{
		Type:     eventType,
		RunID:    o.report.ID,
		FlightID: o.report.FlightID,
		Step:     outcome.Step,
		Data:     data,
	})
}
