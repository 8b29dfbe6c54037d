package steps

import (
	"context"

	"github.com/aescanero/flightgraph/pkg/domain"
)

// TotalFuel sums the left and right tank quantities
type TotalFuel struct {
	Base
}

// NewTotalFuel creates the total fuel step
func NewTotalFuel() domain.Step {
	return &TotalFuel{Base: Base{
		StepName: TotalFuelStep,
		Doubles:  []string{ColFuelLeft, ColFuelRight},
		Outputs:  []string{ColTotalFuel},
	}}
}

func (s *TotalFuel) Compute(_ context.Context, env *domain.Env) error {
	left, _ := env.Flight.Double(ColFuelLeft)
	right, _ := env.Flight.Double(ColFuelRight)
	if left.Len() != right.Len() {
		return domain.Fatalf("fuel columns differ in length: %d left, %d right", left.Len(), right.Len())
	}

	total := make([]float64, left.Len())
	for i := range total {
		total[i] = left.Values[i] + right.Values[i]
	}

	env.Flight.SetDouble(&domain.DoubleSeries{Name: ColTotalFuel, Unit: left.Unit, Values: total})
	return nil
}
