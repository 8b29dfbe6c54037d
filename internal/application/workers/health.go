package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor samples the pool on an interval, records its occupancy as
// metrics and logs when step computations start queueing or panicking.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	// state of the previous check, owned by the run loop
	lastPanicked int64
	saturated    bool
}

// HealthStatus is a snapshot of the pool as seen by the engine. LastJobAt is
// nil until the first job finishes. Saturated means every worker is busy and
// computations are waiting for one.
type HealthStatus struct {
	Running   bool       `json:"running"`
	Workers   int        `json:"workers"`
	Busy      int        `json:"busy"`
	Stopped   int        `json:"stopped"`
	Queued    int        `json:"queued"`
	Completed int64      `json:"completed"`
	Panicked  int64      `json:"panicked"`
	LastJobAt *time.Time `json:"last_job_at,omitempty"`
	Saturated bool       `json:"saturated"`
	Healthy   bool       `json:"healthy"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Idle returns the number of running workers without a job
func (s *HealthStatus) Idle() int {
	return s.Workers - s.Busy - s.Stopped
}

// NewHealthMonitor creates a health monitor for pool. A non-positive interval
// disables periodic checks; GetStatus still works.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts periodic checks
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running || h.interval <= 0 {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops periodic checks
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth records occupancy and logs state changes since the last check
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	if h.pool.metrics != nil {
		h.pool.metrics.RecordWorkerPoolStatus(status.Idle(), status.Busy, status.Stopped)
	}

	if status.Panicked > h.lastPanicked {
		h.logger.Warn("step computations panicked",
			zap.Int64("new", status.Panicked-h.lastPanicked),
			zap.Int64("total", status.Panicked))
	}
	h.lastPanicked = status.Panicked

	if status.Saturated && !h.saturated {
		h.logger.Warn("worker pool saturated, computations are queueing",
			zap.Int("workers", status.Workers),
			zap.Int("queued", status.Queued))
	} else if !status.Saturated && h.saturated {
		h.logger.Info("worker pool drained", zap.Int64("completed", status.Completed))
	}
	h.saturated = status.Saturated
}

// GetStatus returns the current pool snapshot
func (h *HealthMonitor) GetStatus() *HealthStatus {
	h.pool.mu.RLock()
	running := h.pool.running
	h.pool.mu.RUnlock()

	status := &HealthStatus{
		Running:   running,
		Queued:    int(h.pool.queued.Load()),
		Completed: h.pool.completed.Load(),
		Panicked:  h.pool.panicked.Load(),
		CheckedAt: time.Now(),
	}
	if ns := h.pool.lastDone.Load(); ns != 0 {
		at := time.Unix(0, ns)
		status.LastJobAt = &at
	}

	for _, s := range h.pool.GetStatus() {
		status.Workers++
		switch s {
		case WorkerStatusBusy:
			status.Busy++
		case WorkerStatusStopped:
			status.Stopped++
		}
	}

	status.Saturated = status.Workers > 0 && status.Busy == status.Workers && status.Queued > 0
	status.Healthy = running && status.Workers > 0 && status.Stopped == 0
	return status
}

// IsHealthy reports whether the pool accepts work
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
