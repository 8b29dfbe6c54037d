package depgraph

import (
	"testing"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Cycle(t *testing.T) {
	flight := testFlight("x")
	a := step("A", cols("c"), cols("a"))
	b := step("B", cols("a"), cols("b"))
	c := step("C", cols("b"), cols("c"))

	g, err := Build(flight, []domain.Step{a, b, c})
	require.NoError(t, err)

	err = g.Validate()
	require.Error(t, err)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "A", cycle.Step)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycle.Path)
}

func TestValidate_SelfDependency(t *testing.T) {
	flight := testFlight()
	a := step("A", cols("a"), cols("a"))

	_, err := BuildAndValidate(flight, []domain.Step{a})

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A", "A"}, cycle.Path)
}

func TestValidate_RequiredDependsOnOptional(t *testing.T) {
	flight := testFlight("alt_msl")
	optional := step("Smooth", cols("alt_msl"), cols("alt_smooth"))
	required := requiredStep("AGL", cols("alt_smooth"), cols("alt_agl"))

	_, err := BuildAndValidate(flight, []domain.Step{optional, required})
	require.Error(t, err)

	var chain *RequiredChainError
	require.ErrorAs(t, err, &chain)
	assert.Equal(t, "AGL", chain.Required)
	assert.Equal(t, "Smooth", chain.Optional)
}

func TestValidate_OptionalMayDependOnRequired(t *testing.T) {
	flight := testFlight("alt_msl")
	required := requiredStep("AGL", cols("alt_msl"), cols("alt_agl"))
	optional := step("AGLTrend", cols("alt_agl"), cols("agl_trend"))

	_, err := BuildAndValidate(flight, []domain.Step{required, optional})
	assert.NoError(t, err)
}

func TestValidate_ReportsCycleAndChainTogether(t *testing.T) {
	flight := testFlight("x")
	a := step("A", cols("b"), cols("a"))
	b := step("B", cols("a"), cols("b"))
	opt := step("Opt", cols("x"), cols("o"))
	req := requiredStep("Req", cols("o"), cols("r"))

	g, err := Build(flight, []domain.Step{a, b, opt, req})
	require.NoError(t, err)

	err = g.Validate()
	var cycle *CycleError
	var chain *RequiredChainError
	assert.ErrorAs(t, err, &cycle)
	assert.ErrorAs(t, err, &chain)
}
