package depgraph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// SourceStep is the name of the synthetic node producing the flight's raw columns
const SourceStep = "source"

// sourceStep stands in for the flight's already loaded columns
type sourceStep struct {
	columns []string
}

func (s *sourceStep) Name() string                               { return SourceStep }
func (s *sourceStep) RequiredColumns() []string                  { return nil }
func (s *sourceStep) OutputColumns() []string                    { return s.columns }
func (s *sourceStep) Required() bool                             { return true }
func (s *sourceStep) Applicable(*domain.Env) bool                { return true }
func (s *sourceStep) Compute(context.Context, *domain.Env) error { return nil }
func (s *sourceStep) ExplainApplicability(*domain.Env) string {
	return "raw flight columns are always available"
}

// node is a step plus its edges. Edges are indices into Graph.nodes.
type node struct {
	index      int
	step       domain.Step
	dependsOn  []int
	dependents []int

	enabled atomic.Bool
	state   atomic.Value // domain.StepState

	mu       sync.Mutex
	failures []*domain.StepFailure
	reason   string
	duration time.Duration
}

func newNode(index int, step domain.Step) *node {
	n := &node{index: index, step: step}
	n.enabled.Store(true)
	n.state.Store(domain.StepStatePending)
	return n
}

func (n *node) name() string {
	return n.step.Name()
}

func (n *node) setState(s domain.StepState) {
	n.state.Store(s)
}

func (n *node) currentState() domain.StepState {
	return n.state.Load().(domain.StepState)
}

func (n *node) capture(f *domain.StepFailure) {
	n.mu.Lock()
	n.failures = append(n.failures, f)
	n.mu.Unlock()
}

func (n *node) setReason(reason string) {
	n.mu.Lock()
	n.reason = reason
	n.mu.Unlock()
}

func (n *node) outcome() domain.StepOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return domain.StepOutcome{
		Step:     n.name(),
		State:    n.currentState(),
		Required: n.step.Required(),
		Reason:   n.reason,
		Duration: n.duration,
	}
}

// Graph is the dependency graph of one flight's steps. Node 0 is the source.
type Graph struct {
	flight    *domain.Flight
	nodes     []*node
	producers map[string]int
	executed  atomic.Bool
}

// Build creates the dependency graph for the given steps over the flight's
// columns. Every output column may have at most one producer, and a step may
// not produce a column the flight already has. Required columns that nobody
// produces create no edge; such steps find out through Applicable.
func Build(flight *domain.Flight, steps []domain.Step) (*Graph, error) {
	if flight == nil {
		return nil, fmt.Errorf("flight is required")
	}
	return build(flight, flight.Columns(), steps)
}

func build(flight *domain.Flight, columns []string, steps []domain.Step) (*Graph, error) {
	g := &Graph{
		flight:    flight,
		nodes:     make([]*node, 0, len(steps)+1),
		producers: make(map[string]int),
	}

	source := newNode(0, &sourceStep{columns: columns})
	g.nodes = append(g.nodes, source)
	for _, column := range columns {
		g.producers[column] = 0
	}

	for _, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("nil step at position %d", len(g.nodes)-1)
		}
		n := newNode(len(g.nodes), step)
		for _, column := range step.OutputColumns() {
			if owner, ok := g.producers[column]; ok {
				return nil, &ConflictError{
					Column: column,
					First:  g.nodes[owner].name(),
					Second: step.Name(),
				}
			}
			g.producers[column] = n.index
		}
		g.nodes = append(g.nodes, n)
	}

	for _, n := range g.nodes[1:] {
		seen := make(map[int]struct{})
		for _, column := range n.step.RequiredColumns() {
			producer, ok := g.producers[column]
			if !ok {
				continue
			}
			if _, dup := seen[producer]; dup {
				continue
			}
			seen[producer] = struct{}{}
			n.dependsOn = append(n.dependsOn, producer)
			g.nodes[producer].dependents = append(g.nodes[producer].dependents, n.index)
		}
	}

	return g, nil
}

// BuildAndValidate builds the graph and validates it
func BuildAndValidate(flight *domain.Flight, steps []domain.Step) (*Graph, error) {
	g, err := Build(flight, steps)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Flight returns the flight the graph was built for
func (g *Graph) Flight() *domain.Flight {
	return g.flight
}

// Len returns the number of steps, excluding the source
func (g *Graph) Len() int {
	return len(g.nodes) - 1
}

// Steps returns the steps in registration order, excluding the source
func (g *Graph) Steps() []domain.Step {
	steps := make([]domain.Step, 0, len(g.nodes)-1)
	for _, n := range g.nodes[1:] {
		steps = append(steps, n.step)
	}
	return steps
}

// Step returns the named step, or nil when the graph has no such step
func (g *Graph) Step(name string) domain.Step {
	for _, n := range g.nodes[1:] {
		if n.name() == name {
			return n.step
		}
	}
	return nil
}

// Producer returns the name of the step producing column
func (g *Graph) Producer(column string) (string, bool) {
	i, ok := g.producers[column]
	if !ok {
		return "", false
	}
	return g.nodes[i].name(), true
}

// Dependencies returns the names of the steps the named step depends on
func (g *Graph) Dependencies(step string) []string {
	for _, n := range g.nodes {
		if n.name() == step {
			return g.names(n.dependsOn)
		}
	}
	return nil
}

// Dependents returns the names of the steps depending on the named step
func (g *Graph) Dependents(step string) []string {
	for _, n := range g.nodes {
		if n.name() == step {
			return g.names(n.dependents)
		}
	}
	return nil
}

func (g *Graph) names(indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.nodes[i].name())
	}
	return out
}

// TopologicalOrder returns the step names in an order where every step comes
// after all of its dependencies. Ties keep registration order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	order, err := g.topological()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(order))
	for _, i := range order {
		if i == 0 {
			continue
		}
		names = append(names, g.nodes[i].name())
	}
	return names, nil
}

// topological is Kahn's algorithm over node indices, source included
func (g *Graph) topological() ([]int, error) {
	indegree := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n.index] = len(n.dependsOn)
	}

	ready := make([]int, 0, len(g.nodes))
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for len(ready) > 0 {
		// lowest index first keeps the order stable
		next, at := ready[0], 0
		for k, i := range ready {
			if i < next {
				next, at = i, k
			}
		}
		ready = append(ready[:at], ready[at+1:]...)
		order = append(order, next)

		for _, d := range g.nodes[next].dependents {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(g.nodes) {
		if err := g.checkCycles(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("graph is not acyclic")
	}
	return order, nil
}
