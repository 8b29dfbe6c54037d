package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	flightsSubmitted  *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	stepsExecuted     *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	activeRuns        prometheus.Gauge
}

// NewCollector creates a Prometheus metrics collector registered with reg.
// A nil reg uses the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		flightsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightgraph_flights_submitted_total",
				Help: "Total number of flights submitted for processing",
			},
			[]string{"airframe"},
		),
		runsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightgraph_runs_completed_total",
				Help: "Total number of flight runs completed",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flightgraph_run_duration_seconds",
				Help:    "Flight run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flightgraph_steps_executed_total",
				Help: "Total number of steps reaching a final state",
			},
			[]string{"step", "state"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flightgraph_step_duration_seconds",
				Help:    "Step computation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"step"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flightgraph_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flightgraph_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flightgraph_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flightgraph_active_runs",
				Help: "Number of flight runs currently executing",
			},
		),
	}
}

// RecordFlightSubmitted records a flight submission
func (c *Collector) RecordFlightSubmitted(airframe string) {
	c.flightsSubmitted.WithLabelValues(airframe).Inc()
}

// RecordRunCompleted records a finished run
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecuted records a step reaching a final state. Steps that never
// computed report a zero duration, which is not observed.
func (c *Collector) RecordStepExecuted(step, state string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(step, state).Inc()
	if duration > 0 {
		c.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	}
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveRuns sets the number of runs currently executing
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}
