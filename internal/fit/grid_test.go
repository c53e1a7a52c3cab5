package fit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable is a convex quadratic with its minimum at (0.37, -1.13, 2.71).
func separable(p Params) float64 {
	a, b, c := p[0]-0.37, p[1]+1.13, p[2]-2.71
	return a*a + b*b + c*c
}

func TestGridSearchMatchesBruteForce(t *testing.T) {
	b := NewBounds([]float64{-2, -3, 0}, []float64{2, 1, 4})
	const n = 7

	got, err := GridSearch(context.Background(), separable, b, n, GridOptions{})
	require.NoError(t, err)

	var want Params
	wantValue := math.Inf(1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				p := Params{
					b.Lower[0] + b.Width(0)/n*(float64(i)+0.5),
					b.Lower[1] + b.Width(1)/n*(float64(j)+0.5),
					b.Lower[2] + b.Width(2)/n*(float64(k)+0.5),
				}
				if v := separable(p); v < wantValue {
					want, wantValue = p, v
				}
			}
		}
	}

	assert.Equal(t, want, got.Params)
	assert.Equal(t, wantValue, got.Objective)
	assert.Equal(t, n*n*n, got.Evaluations)
}

func TestGridSearchProbesCellMidpoints(t *testing.T) {
	b := NewBounds([]float64{0}, []float64{1})
	var probes []float64

	_, err := GridSearch(context.Background(), func(p Params) float64 {
		probes = append(probes, p[0])
		return p[0]
	}, b, 4, GridOptions{})
	require.NoError(t, err)

	assert.Equal(t, []float64{0.125, 0.375, 0.625, 0.875}, probes, "edges are never probed")
}

func TestGridSearchEnumerationOrder(t *testing.T) {
	b := NewBounds([]float64{0, 0}, []float64{2, 2})
	var order []Params

	_, err := GridSearch(context.Background(), func(p Params) float64 {
		order = append(order, p.Clone())
		return 1
	}, b, 2, GridOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Params{{0.5, 0.5}, {0.5, 1.5}, {1.5, 0.5}, {1.5, 1.5}}, order,
		"last axis must vary fastest")
}

func TestGridSearchFirstMinimumWins(t *testing.T) {
	b := NewBounds([]float64{-1, -1}, []float64{1, 1})

	got, err := GridSearch(context.Background(), func(Params) float64 { return 3 }, b, 5, GridOptions{})
	require.NoError(t, err)

	assert.InDeltaSlice(t, Params{-0.8, -0.8}, got.Params, 1e-12)
	assert.Equal(t, 3.0, got.Objective)
}

func TestGridSearchSkipsNonFinite(t *testing.T) {
	b := NewBounds([]float64{-1}, []float64{1})

	got, err := GridSearch(context.Background(), func(p Params) float64 {
		if p[0] < 0 {
			return math.NaN()
		}
		return 10 - p[0]
	}, b, 10, GridOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Params[0], 1e-12)

	_, err = GridSearch(context.Background(), func(Params) float64 { return math.Inf(1) }, b, 10, GridOptions{})
	assert.ErrorIs(t, err, ErrNoFiniteObjective)
}

func TestGridSearchParallelMatchesSequential(t *testing.T) {
	b := NewBounds([]float64{-2, -3, 0}, []float64{2, 1, 4})
	// Coarse rounding creates many ties, so the merge order matters.
	plateau := func(p Params) float64 {
		return math.Round(separable(p))
	}

	for _, eval := range []func(Params) float64{separable, plateau} {
		seq, err := GridSearch(context.Background(), eval, b, 9, GridOptions{})
		require.NoError(t, err)
		par, err := GridSearch(context.Background(), eval, b, 9, GridOptions{Workers: 4})
		require.NoError(t, err)

		assert.Equal(t, seq, par)
	}
}

func TestGridSearchRejects(t *testing.T) {
	ctx := context.Background()
	eval := func(Params) float64 { return 0 }

	_, err := GridSearch(ctx, eval, NewBounds([]float64{0, 0}, []float64{1, 1}), 50, GridOptions{MaxEvaluations: 100})
	assert.ErrorIs(t, err, ErrGridTooLarge)

	_, err = GridSearch(ctx, eval, NewBounds([]float64{0}, []float64{1}), 0, GridOptions{})
	assert.ErrorIs(t, err, ErrBadResolution)

	_, err = GridSearch(ctx, eval, NewBounds([]float64{1}, []float64{0}), 5, GridOptions{})
	assert.ErrorIs(t, err, ErrInvertedBounds)
}

func TestGridSearchHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GridSearch(ctx, separable, NewBounds([]float64{0, 0, 0}, []float64{1, 1, 1}), 10, GridOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGridCells(t *testing.T) {
	n, err := GridCells(50, 3)
	require.NoError(t, err)
	assert.Equal(t, 125000, n)

	_, err = GridCells(1000, 40)
	assert.ErrorIs(t, err, ErrGridTooLarge)
}
