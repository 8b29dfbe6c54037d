package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aescanero/flightgraph/internal/application/orchestrator"
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

func newTestServer(t *testing.T, health *workers.HealthMonitor) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	bus := eventsmemory.NewInMemoryEventBus(zap.NewNop())
	catalog := steps.NewCatalog(func() domain.Step {
		return steps.NewFunc("Copy", []string{"a"}, []string{"b"}, func(_ context.Context, env *domain.Env) error {
			src, _ := env.Flight.Double("a")
			env.Flight.SetDouble(&domain.DoubleSeries{Name: "b", Values: src.Values})
			return nil
		})
	})
	m := orchestrator.NewManager(nil, catalog, nil, bus, storagememory.NewInMemoryRunStore(),
		metricsprom.NewCollector(reg), orchestrator.NewValidator(), zap.NewNop(), orchestrator.Settings{})
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		_ = bus.Close()
	})
	return NewServer(&Config{Port: 0, Orchestrator: m, Health: health, Gatherer: reg, Logger: zap.NewNop()})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func flight(id string) *domain.FlightSubmission {
	return &domain.FlightSubmission{
		FlightID: id,
		Airframe: "C172",
		Doubles:  []*domain.DoubleSeries{{Name: "a", Values: []float64{1, 2}}},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealth_StoppedPoolIsUnhealthy(t *testing.T) {
	pool := workers.NewPool(1, nil, zap.NewNop(), 0)
	s := newTestServer(t, pool.Health())

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestSubmitAndGetRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/flights", flight("f1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted FlightSubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.RunID)
	assert.Equal(t, domain.RunStatusProcessing, submitted.Status)

	var report domain.RunReport
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/v1/runs/"+submitted.RunID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		report = domain.RunReport{}
		return json.Unmarshal(rec.Body.Bytes(), &report) == nil && report.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.RunStatusSuccess, report.Status)
	assert.Equal(t, []string{"a", "b"}, report.Columns)
}

func TestSubmitInvalidFlight(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/flights", &domain.FlightSubmission{FlightID: "f1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/flights", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestBatchAndListRuns(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/flights/batch", BatchRequest{
		Flights: []*domain.FlightSubmission{flight("f1"), flight("f2"), {FlightID: "bad"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary orchestrator.BatchSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Valid)
	assert.Equal(t, 1, summary.Error)

	rec = do(t, s, http.MethodGet, "/api/v1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Runs  []*domain.RunReport `json:"runs"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Runs, 1)

	rec = do(t, s, http.MethodGet, "/api/v1/runs?status=error", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Zero(t, page.Total)

	rec = do(t, s, http.MethodGet, "/api/v1/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanFlight(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/flights/plan", flight("f1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var plan orchestrator.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "Copy", plan.Steps[0].Name)
	assert.True(t, plan.Steps[0].Applicable)
}

func TestCancelUnknownRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/v1/flights/batch", BatchRequest{Flights: []*domain.FlightSubmission{flight("f1")}})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flightgraph_runs_completed_total")
}
