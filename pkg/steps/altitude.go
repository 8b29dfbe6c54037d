package steps

import (
	"context"
	"math"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// DefaultAltitudeLag is the number of samples between compared altitudes
const DefaultAltitudeLag = 10

// LaggedAltMSL computes the altitude change over a fixed number of samples
type LaggedAltMSL struct {
	Base
	Lag int
}

// NewLaggedAltMSL creates the lagged altitude difference step
func NewLaggedAltMSL() domain.Step {
	return &LaggedAltMSL{
		Base: Base{
			StepName: LaggedAltMSLStep,
			Doubles:  []string{ColAltMSL},
			Outputs:  []string{ColAltMSLLagDiff},
		},
		Lag: DefaultAltitudeLag,
	}
}

func (s *LaggedAltMSL) Compute(_ context.Context, env *domain.Env) error {
	alt, _ := env.Flight.Double(ColAltMSL)
	if s.Lag < 1 {
		return domain.Fatalf("altitude lag must be positive, got %d", s.Lag)
	}

	diff := make([]float64, alt.Len())
	for i := range diff {
		if i < s.Lag {
			diff[i] = math.NaN()
			continue
		}
		diff[i] = alt.Values[i] - alt.Values[i-s.Lag]
	}

	env.Flight.SetDouble(&domain.DoubleSeries{Name: ColAltMSLLagDiff, Unit: alt.Unit, Values: diff})

	if alt.Len() <= s.Lag {
		return domain.Recoverablef("flight has %d altitude samples, fewer than the lag of %d", alt.Len(), s.Lag)
	}
	return nil
}
