package depgraph

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// fakeStep is a configurable step used across the package tests
type fakeStep struct {
	name       string
	requires   []string
	outputs    []string
	required   bool
	applicable func(env *domain.Env) bool
	compute    func(ctx context.Context, env *domain.Env) error

	calls atomic.Int32
}

func (s *fakeStep) Name() string              { return s.name }
func (s *fakeStep) RequiredColumns() []string { return s.requires }
func (s *fakeStep) OutputColumns() []string   { return s.outputs }
func (s *fakeStep) Required() bool            { return s.required }

func (s *fakeStep) Applicable(env *domain.Env) bool {
	if s.applicable != nil {
		return s.applicable(env)
	}
	return env.Flight.HasColumns(s.requires...)
}

func (s *fakeStep) ExplainApplicability(env *domain.Env) string {
	return s.name + " needs " + strings.Join(s.requires, ", ")
}

func (s *fakeStep) Compute(ctx context.Context, env *domain.Env) error {
	s.calls.Add(1)
	var err error
	if s.compute != nil {
		err = s.compute(ctx, env)
	}
	// a recoverable failure still leaves its outputs behind
	if err != nil && domain.KindOf(err) != domain.ErrorKindRecoverable {
		return err
	}
	for _, column := range s.outputs {
		env.Flight.SetDouble(&domain.DoubleSeries{Name: column, Values: []float64{1}})
	}
	return err
}

func step(name string, requires, outputs []string) *fakeStep {
	return &fakeStep{name: name, requires: requires, outputs: outputs}
}

func requiredStep(name string, requires, outputs []string) *fakeStep {
	s := step(name, requires, outputs)
	s.required = true
	return s
}

func cols(c ...string) []string { return c }

func testFlight(columns ...string) *domain.Flight {
	doubles := make([]*domain.DoubleSeries, 0, len(columns))
	for _, c := range columns {
		doubles = append(doubles, &domain.DoubleSeries{Name: c, Values: []float64{1, 2, 3}})
	}
	return domain.NewFlight("flight-1", "C172", doubles, nil)
}

// recorder is an Observer collecting step completion order
type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []domain.StepOutcome
}

func (r *recorder) StepStarted(s domain.Step) {
	r.mu.Lock()
	r.started = append(r.started, s.Name())
	r.mu.Unlock()
}

func (r *recorder) StepFinished(o domain.StepOutcome) {
	r.mu.Lock()
	r.finished = append(r.finished, o)
	r.mu.Unlock()
}

func (r *recorder) finishedIndex(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.finished {
		if o.Step == name {
			return i
		}
	}
	return -1
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.finished {
		if o.Step == name {
			n++
		}
	}
	return n
}

// limitPool is a Submitter that bounds concurrency and records the peak
type limitPool struct {
	sem     chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newLimitPool(size int) *limitPool {
	return &limitPool{sem: make(chan struct{}, size)}
}

func (p *limitPool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	cur := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer p.running.Add(-1)
	fn()
	return nil
}
