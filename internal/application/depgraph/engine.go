package depgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"go.uber.org/zap"
)

// Submitter runs a computation on a bounded set of workers. Submit blocks
// until fn has returned, or fails without running fn.
type Submitter interface {
	Submit(ctx context.Context, fn func()) error
}

// Observer is notified as steps progress. Calls arrive from many goroutines.
type Observer interface {
	StepStarted(step domain.Step)
	StepFinished(outcome domain.StepOutcome)
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers an observer for step progress
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithSequential runs steps one at a time on the calling goroutine, in
// topological order
func WithSequential() Option {
	return func(e *Engine) {
		e.sequential = true
	}
}

// Engine executes validated step graphs
type Engine struct {
	pool       Submitter
	logger     *zap.Logger
	observer   Observer
	sequential bool
}

// NewEngine creates an engine running computations on pool. A nil pool runs
// each computation on its own task goroutine.
func NewEngine(pool Submitter, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		pool:   pool,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step of g exactly once and returns the aggregated
// result. Step failures are reported in the result; the returned error is
// only set when the graph cannot be executed at all.
func (e *Engine) Execute(ctx context.Context, g *Graph, env *domain.Env) (*domain.RunResult, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if !g.executed.CompareAndSwap(false, true) {
		return nil, ErrGraphExecuted
	}
	if env == nil {
		env = &domain.Env{}
	}
	if env.Flight == nil {
		env.Flight = g.flight
	}
	if env.Logger == nil {
		env.Logger = e.logger
	}

	x := &execution{
		engine: e,
		graph:  g,
		env:    env,
		tasks:  make([]*task, len(g.nodes)),
	}

	start := time.Now()
	if e.sequential {
		if err := x.runSequential(ctx); err != nil {
			return nil, err
		}
	} else {
		x.runParallel(ctx)
	}

	result := x.result()
	e.logger.Debug("graph executed",
		zap.Int("steps", g.Len()),
		zap.Int("fatal", len(result.Fatal)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// task is the memoized handle for one node in one run
type task struct {
	done chan struct{}
}

// execution is the state of a single Execute call
type execution struct {
	engine *Engine
	graph  *Graph
	env    *domain.Env

	tasksMu sync.Mutex
	tasks   []*task

	aborted atomic.Bool
	ctxOnce sync.Once

	mu       sync.Mutex
	runFatal []*domain.StepFailure
}

// runParallel requests tasks for every root and every sink before waiting on
// any of them; sinks transitively request every other node.
func (x *execution) runParallel(ctx context.Context) {
	var initial []*task
	for _, n := range x.graph.nodes {
		if len(n.dependsOn) == 0 || len(n.dependents) == 0 {
			initial = append(initial, x.task(ctx, n.index))
		}
	}
	for _, t := range initial {
		<-t.done
	}
}

func (x *execution) runSequential(ctx context.Context) error {
	order, err := x.graph.topological()
	if err != nil {
		return fmt.Errorf("failed to order steps: %w", err)
	}
	for _, i := range order {
		x.evaluate(ctx, x.graph.nodes[i])
	}
	return nil
}

// task returns the task for node i, creating and starting it on first request
func (x *execution) task(ctx context.Context, i int) *task {
	x.tasksMu.Lock()
	defer x.tasksMu.Unlock()

	if t := x.tasks[i]; t != nil {
		return t
	}
	t := &task{done: make(chan struct{})}
	x.tasks[i] = t
	go x.runTask(ctx, i, t)
	return t
}

func (x *execution) runTask(ctx context.Context, i int, t *task) {
	defer close(t.done)

	n := x.graph.nodes[i]
	for _, d := range n.dependsOn {
		<-x.task(ctx, d).done
	}
	x.evaluate(ctx, n)
}

// evaluate decides whether n runs and dispatches its computation. All of n's
// dependencies have finished when it is called.
func (x *execution) evaluate(ctx context.Context, n *node) {
	if !n.enabled.Load() {
		return
	}
	if x.aborted.Load() {
		x.skip(n, ErrRunAborted.Error())
		return
	}
	if err := ctx.Err(); err != nil {
		x.cancelled(n, err)
		return
	}

	err := x.dispatch(ctx, func() { x.compute(ctx, n) })
	if err == nil {
		return
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		x.cancelled(n, ctxErr)
		return
	}
	x.fail(n, domain.ErrorKindUnclassified, fmt.Errorf("dispatch step: %w", err))
}

func (x *execution) dispatch(ctx context.Context, fn func()) error {
	if x.engine.sequential || x.engine.pool == nil {
		fn()
		return nil
	}
	return x.engine.pool.Submit(ctx, fn)
}

// compute checks applicability and runs the step
func (x *execution) compute(ctx context.Context, n *node) {
	env := x.stepEnv(n)
	n.setState(domain.StepStateRunning)
	x.notifyStarted(n)

	var applicable bool
	if err := protect(func() error {
		applicable = n.step.Applicable(env)
		return nil
	}); err != nil {
		x.fail(n, domain.ErrorKindUnclassified, err)
		return
	}
	if !applicable {
		reason := x.explain(n, env)
		x.disableSubtree(n, reason)
		return
	}

	start := time.Now()
	err := protect(func() error {
		return n.step.Compute(ctx, env)
	})
	n.mu.Lock()
	n.duration = time.Since(start)
	n.mu.Unlock()

	if err == nil {
		x.succeed(n)
		return
	}

	kind := domain.KindOf(err)
	switch kind {
	case domain.ErrorKindRecoverable:
		n.capture(domain.NewStepFailure(n.name(), kind, err))
		env.Logger.Warn("step completed with warning", zap.Error(err))
		x.succeed(n)
	case domain.ErrorKindFatal:
		x.fail(n, kind, err)
	default:
		x.fail(n, domain.ErrorKindUnclassified, err)
	}
}

func (x *execution) stepEnv(n *node) *domain.Env {
	env := *x.env
	env.Logger = x.env.Logger.With(
		zap.String("step", n.name()),
		zap.Bool("required", n.step.Required()))
	return &env
}

func (x *execution) explain(n *node, env *domain.Env) string {
	var reason string
	if err := protect(func() error {
		reason = n.step.ExplainApplicability(env)
		return nil
	}); err != nil || reason == "" {
		reason = fmt.Sprintf("step %q is not applicable", n.name())
	}
	return reason
}

func (x *execution) succeed(n *node) {
	n.setState(domain.StepStateSucceeded)
	x.notifyFinished(n)
}

// fail records err on n and disables everything depending on it. An
// unclassified error also aborts the run.
func (x *execution) fail(n *node, kind domain.StepErrorKind, err error) {
	n.enabled.Store(false)
	n.capture(domain.NewStepFailure(n.name(), kind, err))
	n.setReason(err.Error())
	n.setState(domain.StepStateFailed)

	logger := x.env.Logger.With(zap.String("step", n.name()), zap.Error(err))
	if kind == domain.ErrorKindUnclassified {
		if x.aborted.CompareAndSwap(false, true) {
			logger.Error("unclassified step failure, aborting run")
		}
	} else {
		logger.Warn("step failed", zap.String("kind", string(kind)))
	}
	x.notifyFinished(n)

	reason := fmt.Sprintf("depends on failed step %q", n.name())
	for _, d := range n.dependents {
		x.disableSubtree(x.graph.nodes[d], reason)
	}
}

// disableSubtree disables n and, transitively, everything depending on it.
// Each node is disabled at most once; a disabled required node records a
// fatal diagnostic.
func (x *execution) disableSubtree(n *node, reason string) {
	if !n.enabled.CompareAndSwap(true, false) {
		return
	}
	n.setReason(reason)
	n.setState(domain.StepStateDisabled)

	if n.step.Required() {
		n.capture(domain.NewStepFailure(n.name(), domain.ErrorKindFatal,
			fmt.Errorf("%w: %s", ErrRequiredStepDisabled, reason)))
		x.env.Logger.Error("required step disabled",
			zap.String("step", n.name()),
			zap.String("reason", reason))
	} else {
		x.env.Logger.Debug("step disabled",
			zap.String("step", n.name()),
			zap.String("reason", reason))
	}
	x.notifyFinished(n)

	child := fmt.Sprintf("depends on disabled step %q", n.name())
	for _, d := range n.dependents {
		x.disableSubtree(x.graph.nodes[d], child)
	}
}

// skip marks a node that never ran because the run stopped early
func (x *execution) skip(n *node, reason string) {
	if !n.enabled.CompareAndSwap(true, false) {
		return
	}
	n.setReason(reason)
	n.setState(domain.StepStateSkipped)
	x.notifyFinished(n)
}

// cancelled skips n and records the context error once for the whole run
func (x *execution) cancelled(n *node, err error) {
	x.ctxOnce.Do(func() {
		x.mu.Lock()
		x.runFatal = append(x.runFatal, domain.NewStepFailure(n.name(), domain.ErrorKindFatal, err))
		x.mu.Unlock()
		x.env.Logger.Warn("run cancelled", zap.String("step", n.name()), zap.Error(err))
	})
	x.skip(n, err.Error())
}

func (x *execution) notifyStarted(n *node) {
	if x.engine.observer == nil || n.index == 0 {
		return
	}
	x.engine.observer.StepStarted(n.step)
}

func (x *execution) notifyFinished(n *node) {
	if x.engine.observer == nil || n.index == 0 {
		return
	}
	x.engine.observer.StepFinished(n.outcome())
}

// result aggregates captured failures. Recoverable failures are warnings.
// Fatal failures fail the run when captured at a required step; at an
// optional step they only disable its subtree and are reported as warnings.
// Unclassified failures always fail the run.
func (x *execution) result() *domain.RunResult {
	r := &domain.RunResult{
		Steps: make([]domain.StepOutcome, 0, x.graph.Len()),
	}

	for _, n := range x.graph.nodes {
		n.mu.Lock()
		failures := append([]*domain.StepFailure(nil), n.failures...)
		n.mu.Unlock()

		for _, f := range failures {
			switch {
			case f.Kind == domain.ErrorKindRecoverable:
				r.Warnings = append(r.Warnings, f)
			case f.Kind == domain.ErrorKindFatal && !n.step.Required():
				r.Warnings = append(r.Warnings, f)
			default:
				r.Fatal = append(r.Fatal, f)
			}
		}
		if n.index != 0 {
			r.Steps = append(r.Steps, n.outcome())
		}
	}

	x.mu.Lock()
	r.Fatal = append(r.Fatal, x.runFatal...)
	x.mu.Unlock()

	sort.SliceStable(r.Steps, func(i, j int) bool {
		return r.Steps[i].Step < r.Steps[j].Step
	})
	return r
}

// protect runs fn, converting a panic into an unclassified error
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%w: panic: %w", ErrUnclassified, e)
				return
			}
			err = fmt.Errorf("%w: panic: %v", ErrUnclassified, r)
		}
	}()
	return fn()
}
