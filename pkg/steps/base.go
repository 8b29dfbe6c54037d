package steps

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// Base implements the column and airframe bookkeeping shared by most steps.
// Embed it and implement Compute.
type Base struct {
	StepName string
	// Doubles and Strings are the required numeric and text columns
	Doubles []string
	Strings []string
	Outputs []string
	// Airframes restricts the step to the named airframes; empty means any
	Airframes []string
	// IsRequired marks the step as required
	IsRequired bool
}

func (b *Base) Name() string { return b.StepName }

func (b *Base) RequiredColumns() []string {
	return slices.Concat(b.Doubles, b.Strings)
}

func (b *Base) OutputColumns() []string { return b.Outputs }

func (b *Base) Required() bool { return b.IsRequired }

// Applicable is true when the airframe is supported and every required
// column is present with the expected type
func (b *Base) Applicable(env *domain.Env) bool {
	return len(b.problems(env)) == 0
}

// ExplainApplicability lists every reason the step cannot run, one per line
func (b *Base) ExplainApplicability(env *domain.Env) string {
	return explain(b.StepName, b.problems(env))
}

func (b *Base) problems(env *domain.Env) []string {
	var out []string
	if !airframeAllowed(b.Airframes, env.Flight.Airframe) {
		out = append(out, fmt.Sprintf("airframe '%s' is not supported", env.Flight.Airframe))
	}
	for _, column := range b.Strings {
		if _, ok := env.Flight.String(column); !ok {
			out = append(out, fmt.Sprintf("the required string column '%s' is not available", column))
		}
	}
	for _, column := range b.Doubles {
		if _, ok := env.Flight.Double(column); !ok {
			out = append(out, fmt.Sprintf("the required double column '%s' is not available", column))
		}
	}
	return out
}

func airframeAllowed(allowed []string, airframe string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, airframe)
}

func explain(name string, problems []string) string {
	if len(problems) == 0 {
		return fmt.Sprintf("step '%s' is applicable: all required columns are present and the airframe is supported", name)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "step '%s' cannot be applied for the following reason(s):", name)
	for _, p := range problems {
		sb.WriteString("\n  - ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Func is a step whose computation is a plain function
type Func struct {
	Base
	Fn func(ctx context.Context, env *domain.Env) error
}

// NewFunc creates a step over double columns computed by fn
func NewFunc(name string, requires, outputs []string, fn func(ctx context.Context, env *domain.Env) error) *Func {
	return &Func{
		Base: Base{StepName: name, Doubles: requires, Outputs: outputs},
		Fn:   fn,
	}
}

func (f *Func) Compute(ctx context.Context, env *domain.Env) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, env)
}

// Factory creates a fresh step for one flight. Steps are never shared
// between flights.
type Factory func() domain.Step

// Required turns the steps made by factory into required steps
func Required(factory Factory) Factory {
	return func() domain.Step {
		return &configured{Step: factory(), required: true}
	}
}

// ForAirframes restricts the steps made by factory to the named airframes
func ForAirframes(factory Factory, airframes ...string) Factory {
	return func() domain.Step {
		return &configured{Step: factory(), airframes: airframes}
	}
}

// configured overrides the required flag and airframe filter of a step
type configured struct {
	domain.Step
	required  bool
	airframes []string
}

func (c *configured) Required() bool {
	return c.required || c.Step.Required()
}

func (c *configured) Applicable(env *domain.Env) bool {
	return airframeAllowed(c.airframes, env.Flight.Airframe) && c.Step.Applicable(env)
}

func (c *configured) ExplainApplicability(env *domain.Env) string {
	if airframeAllowed(c.airframes, env.Flight.Airframe) {
		return c.Step.ExplainApplicability(env)
	}
	return explain(c.Name(), []string{fmt.Sprintf("airframe '%s' is not supported", env.Flight.Airframe)})
}
