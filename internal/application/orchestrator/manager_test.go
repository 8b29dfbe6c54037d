package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/flightgraph/internal/application/workers"
	eventsmemory "github.com/aescanero/flightgraph/pkg/adapters/events/memory"
	metricsprom "github.com/aescanero/flightgraph/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/flightgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/steps"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testManager struct {
	*Manager
	bus   *eventsmemory.InMemoryEventBus
	store *storagememory.InMemoryRunStore
}

func newTestManager(t *testing.T, catalog *steps.Catalog, settings Settings) *testManager {
	t.Helper()
	bus := eventsmemory.NewInMemoryEventBus(zap.NewNop())
	store := storagememory.NewInMemoryRunStore()
	metrics := metricsprom.NewCollector(prometheus.NewRegistry())
	m := NewManager(nil, catalog, nil, bus, store, metrics, NewValidator(), zap.NewNop(), settings)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		_ = bus.Close()
	})
	return &testManager{Manager: m, bus: bus, store: store}
}

// doubling writes twice the input column to the output column
func doubling(name, in, out string) steps.Factory {
	return func() domain.Step {
		return steps.NewFunc(name, []string{in}, []string{out}, func(_ context.Context, env *domain.Env) error {
			src, _ := env.Flight.Double(in)
			values := make([]float64, src.Len())
			for i, v := range src.Values {
				values[i] = 2 * v
			}
			env.Flight.SetDouble(&domain.DoubleSeries{Name: out, Values: values})
			return nil
		})
	}
}

func failing(name, in, out string, err error) steps.Factory {
	return func() domain.Step {
		return steps.NewFunc(name, []string{in}, []string{out}, func(context.Context, *domain.Env) error {
			return err
		})
	}
}

func submission(id string, columns ...string) *domain.FlightSubmission {
	sub := &domain.FlightSubmission{FlightID: id, Airframe: "C172"}
	for _, c := range columns {
		sub.Doubles = append(sub.Doubles, &domain.DoubleSeries{Name: c, Values: []float64{1, 2, 3}})
	}
	return sub
}

// collect records every event published on topic
type collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collector) handle(_ context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) types() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func TestManager_ProcessSuccess(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(doubling("Double", "a", "b"), doubling("Quad", "b", "c")), Settings{})

	runs := &collector{}
	stepEvents := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.bus.Subscribe(ctx, domain.TopicRuns, runs.handle))
	require.NoError(t, m.bus.Subscribe(ctx, domain.TopicSteps, stepEvents.handle))

	report, err := m.Process(context.Background(), submission("f1", "a"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSuccess, report.Status)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, report.Columns)
	require.NotNil(t, report.CompletedAt)
	require.Len(t, report.Steps, 2)

	stored, err := m.GetRun(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, stored.Status)

	m.bus.Wait()
	assert.ElementsMatch(t, []domain.EventType{
		domain.EventTypeFlightSubmitted,
		domain.EventTypeRunStarted,
		domain.EventTypeRunCompleted,
	}, runs.types())
	assert.ElementsMatch(t, []domain.EventType{
		domain.EventTypeStepStarted, domain.EventTypeStepCompleted,
		domain.EventTypeStepStarted, domain.EventTypeStepCompleted,
	}, stepEvents.types())
	assert.Zero(t, m.ActiveRuns())
}

func TestManager_ProcessWarning(t *testing.T) {
	catalog := steps.NewCatalog(
		failing("Noisy", "a", "b", domain.Recoverablef("3 samples out of range")),
		doubling("After", "b", "c"),
	)
	m := newTestManager(t, catalog, Settings{})

	report, err := m.Process(context.Background(), submission("f1", "a"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusWarning, report.Status)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "Noisy", report.Warnings[0].Step)
	assert.Equal(t, domain.ErrorKindRecoverable, report.Warnings[0].Kind)
}

func TestManager_ProcessRequiredFailure(t *testing.T) {
	catalog := steps.NewCatalog(
		steps.Required(failing("Critical", "a", "b", domain.Fatalf("bad data"))),
		doubling("After", "b", "c"),
	)
	m := newTestManager(t, catalog, Settings{Sequential: true})

	runs := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.bus.Subscribe(ctx, domain.TopicRuns, runs.handle))

	report, err := m.Process(context.Background(), submission("f1", "a"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusError, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "Critical", report.Errors[0].Step)

	m.bus.Wait()
	assert.Contains(t, runs.types(), domain.EventTypeRunFailed)
}

func TestManager_ProcessConflictingCatalog(t *testing.T) {
	catalog := steps.NewCatalog(doubling("First", "a", "b"), doubling("Second", "a", "b"))
	m := newTestManager(t, catalog, Settings{})

	report, err := m.Process(context.Background(), submission("f1", "a"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusError, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, graphFailureStep, report.Errors[0].Step)
	assert.Contains(t, report.Errors[0].Message, "b")
	assert.Empty(t, report.Steps)
}

func TestManager_ProcessRejectsInvalidSubmission(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(), Settings{})

	_, err := m.Process(context.Background(), &domain.FlightSubmission{FlightID: "f1"})
	assert.Error(t, err)

	runs, err := m.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManager_SubmitRunsInBackground(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(doubling("Double", "a", "b")), Settings{RunTimeout: time.Minute})

	runID, err := m.Submit(context.Background(), submission("f1", "a"))
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		report, err := m.GetRun(context.Background(), runID)
		return err == nil && report.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	report, err := m.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, report.Status)
}

func TestManager_WithWorkerPool(t *testing.T) {
	pool := workers.NewPool(2, nil, zap.NewNop(), 0)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	bus := eventsmemory.NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()
	m := NewManager(pool,
		steps.NewCatalog(doubling("Left", "a", "b"), doubling("Right", "a", "c"), doubling("Join", "b", "d")),
		nil, bus, storagememory.NewInMemoryRunStore(),
		metricsprom.NewCollector(prometheus.NewRegistry()),
		NewValidator(), zap.NewNop(), Settings{})

	report, err := m.Process(context.Background(), submission("f1", "a"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, report.Status)
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Columns)
}

func TestManager_ProcessBatch(t *testing.T) {
	noisy := func() domain.Step {
		return steps.NewFunc("Check", []string{"a"}, []string{"checked"}, func(_ context.Context, env *domain.Env) error {
			if env.Flight.ID == "noisy" {
				return domain.Recoverablef("spikes in a")
			}
			return nil
		})
	}
	m := newTestManager(t, steps.NewCatalog(noisy), Settings{BatchParallelism: 2})

	summary, err := m.ProcessBatch(context.Background(), []*domain.FlightSubmission{
		submission("clean", "a"),
		submission("noisy", "a"),
		{FlightID: "broken"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Warning)
	assert.Equal(t, 1, summary.Error)
	assert.Len(t, summary.Reports, 2)
	assert.Contains(t, summary.Rejected, "broken")
}

func TestManager_ProcessBatchCancelled(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(), Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ProcessBatch(ctx, []*domain.FlightSubmission{submission("f1", "a")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_CancelUnknownRun(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(), Settings{})

	err := m.CancelRun(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestManager_CancelRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func() domain.Step {
		return steps.NewFunc("Slow", []string{"a"}, []string{"b"}, func(ctx context.Context, env *domain.Env) error {
			close(started)
			<-release
			return nil
		})
	}
	catalog := steps.NewCatalog(blocking, doubling("After", "b", "c"))
	m := newTestManager(t, catalog, Settings{Sequential: true})

	runID, err := m.Submit(context.Background(), submission("f1", "a"))
	require.NoError(t, err)
	<-started

	require.NoError(t, m.CancelRun(context.Background(), runID))
	close(release)

	require.Eventually(t, func() bool {
		report, err := m.GetRun(context.Background(), runID)
		return err == nil && report.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	report, err := m.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, report.Status)

	after, ok := stepOutcome(report, "After")
	require.True(t, ok)
	assert.Equal(t, domain.StepStateSkipped, after.State)
}

func stepOutcome(report *domain.RunReport, step string) (domain.StepOutcome, bool) {
	for _, o := range report.Steps {
		if o.Step == step {
			return o, true
		}
	}
	return domain.StepOutcome{}, false
}

func TestManager_Consume(t *testing.T) {
	m := newTestManager(t, steps.NewCatalog(doubling("Double", "a", "b")), Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Consume(ctx))

	require.NoError(t, m.bus.Publish(ctx, domain.TopicFlights, domain.Event{
		ID:   "e1",
		Type: domain.EventTypeFlightSubmitted,
		Data: map[string]any{"submission": submission("remote", "a")},
	}))

	require.Eventually(t, func() bool {
		runs, err := m.ListRuns(context.Background())
		return err == nil && len(runs) == 1 && runs[0].Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	runs, err := m.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote", runs[0].FlightID)
	assert.Equal(t, domain.RunStatusSuccess, runs[0].Status)
}

func TestDecodeSubmission_Missing(t *testing.T) {
	_, err := decodeSubmission(domain.Event{ID: "e1", Type: domain.EventTypeFlightSubmitted})
	assert.Error(t, err)
}

func TestManager_Plan(t *testing.T) {
	catalog := steps.NewCatalog(
		doubling("Quad", "b", "c"),
		steps.Required(doubling("Double", "a", "b")),
	)
	m := newTestManager(t, catalog, Settings{})

	plan, err := m.Plan(submission("f1", "a"))
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Double", plan.Steps[0].Name)
	assert.True(t, plan.Steps[0].Required)
	assert.True(t, plan.Steps[0].Applicable)
	assert.Equal(t, "Quad", plan.Steps[1].Name)
	assert.Equal(t, []string{"Double"}, plan.Steps[1].DependsOn)
	// b only exists once Double has run
	assert.False(t, plan.Steps[1].Applicable)
	assert.Contains(t, plan.Steps[1].Explanation, "'b'")
}
