package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/flightgraph/pkg/ports"
	"go.uber.org/zap"
)

// ErrPoolStopped is returned when submitting to a pool that is not running
var ErrPoolStopped = errors.New("worker pool is not running")

// Pool manages a fixed set of worker goroutines executing submitted jobs
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	jobs    chan *job
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	running bool

	// counters read by the health monitor
	queued    atomic.Int32
	completed atomic.Int64
	panicked  atomic.Int64
	lastDone  atomic.Int64 // unix nanoseconds
}

// job is a unit of work; done is closed once fn has returned
type job struct {
	fn   func()
	done chan struct{}
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool. A size below one uses the available
// hardware parallelism. metrics may be nil.
func NewPool(
	size int,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan *job),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool already started")
	}
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.running = true
	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit runs fn on a pool worker and blocks until it has returned. It fails
// without running fn if ctx is done or the pool stops before a worker picks
// the job up.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()
	if !running {
		return ErrPoolStopped
	}

	j := &job{fn: fn, done: make(chan struct{})}
	p.queued.Add(1)
	select {
	case p.jobs <- j:
		p.queued.Add(-1)
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	case <-p.ctx.Done():
		p.queued.Add(-1)
		return ErrPoolStopped
	}

	<-j.done
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.health.Stop()

	// Cancel context to signal workers to stop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case j := <-w.pool.jobs:
			w.execute(j)
		}
	}
}

// execute runs a single job and always releases its submitter
func (w *worker) execute(j *job) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.pool.panicked.Add(1)
			w.pool.logger.Error("job panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
		}
		w.pool.completed.Add(1)
		w.pool.lastDone.Store(time.Now().UnixNano())
		w.setStatus(WorkerStatusIdle)
		close(j.done)
	}()

	j.fn()
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
