package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChiSquared(t *testing.T) {
	d, err := NewDataset("data", []float64{0, 1}, []float64{1, 4}, []float64{0.5, 2})
	require.NoError(t, err)

	// Residuals: 1-1 = 0 and 4-3 = 1; scaled by 1/e: 0 and 0.5.
	got := ChiSquared(d, Params{1, 2}, linear)
	assert.InDelta(t, 0.25, got, 1e-12)

	assert.InDelta(t, 1.0, SumSquares(d, Params{1, 2}, linear), 1e-12)
}

func TestChiSquaredZeroAtGeneratingParams(t *testing.T) {
	truth := Params{-0.7, 3.25}
	rendered := FromModel("truth", SmoothX([]float64{-2, 5}, 17), truth, linear)
	d, err := rendered.WithUncertainty(0.3)
	require.NoError(t, err)

	assert.Equal(t, 0.0, ChiSquared(d, truth, linear))
}

func TestReducedChiSquared(t *testing.T) {
	assert.Equal(t, 2.0, ReducedChiSquared(6, 5, 2))
	assert.True(t, math.IsInf(ReducedChiSquared(6, 2, 2), 1))
}

func TestLookupObjective(t *testing.T) {
	f, err := LookupObjective("chisq")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = LookupObjective("likelihood")
	assert.ErrorIs(t, err, ErrNoObjective)
}
