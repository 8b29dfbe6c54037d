package orchestrator

import (
	"fmt"

	"github.com/aescanero/flightgraph/internal/application/depgraph"
	"github.com/aescanero/flightgraph/pkg/domain"
)

// PlannedStep describes a step as it would run for a flight
type PlannedStep struct {
	Name        string   `json:"name"`
	Required    bool     `json:"required"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Applicable  bool     `json:"applicable"`
	Explanation string   `json:"explanation"`
}

// Plan is the execution order of the step graph for one flight
type Plan struct {
	FlightID string        `json:"flight_id"`
	Steps    []PlannedStep `json:"steps"`
}

// Plan builds and validates the step graph for a submission without running
// it. Applicability is evaluated against the submitted columns only, so steps
// fed by other steps may report as not applicable.
func (m *Manager) Plan(sub *domain.FlightSubmission) (*Plan, error) {
	if err := m.validator.Validate(sub); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	flight := sub.Flight()
	g, err := depgraph.BuildAndValidate(flight, m.catalog.Gather(flight))
	if err != nil {
		return nil, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	env := &domain.Env{Flight: flight, Session: m.session, Logger: m.logger}
	plan := &Plan{FlightID: sub.FlightID, Steps: make([]PlannedStep, 0, len(order))}
	for _, name := range order {
		step := g.Step(name)
		plan.Steps = append(plan.Steps, PlannedStep{
			Name:        name,
			Required:    step.Required(),
			DependsOn:   g.Dependencies(name),
			Applicable:  step.Applicable(env),
			Explanation: step.ExplainApplicability(env),
		})
	}
	return plan, nil
}
