package fit

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(p Params) float64 { return p[0] * p[0] }

// bowl is separable with its minimum at (0.3, -0.7).
func bowl(p Params) float64 {
	a, b := p[0]-0.3, p[1]+0.7
	return a*a + 2*b*b
}

func TestRefinerNeighbourOrder(t *testing.T) {
	s, err := NewSession(Params{0, 0}, 5, Params{1, 1})
	require.NoError(t, err)

	var seen []Params
	r := &Refiner{Eval: func(p Params) float64 {
		seen = append(seen, p.Clone())
		return 1
	}}
	rec := r.Iterate(s)

	assert.Equal(t, []Params{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}, seen, "2^k neighbours, + before -")
	assert.Equal(t, Params{1, 1}, rec.Center, "first of equal neighbours wins")
	assert.Equal(t, 1.0, s.BestObjective())
}

func TestRefinerWalksThenHalvesAfterRegression(t *testing.T) {
	s, err := NewSession(Params{0}, 0, Params{1})
	require.NoError(t, err)
	r := &Refiner{Eval: square}

	// Neighbours of 0 are +/-1 (both 1): the walk moves to +1 even though
	// the centre was better, and nothing is halved yet.
	rec := r.Iterate(s)
	assert.Equal(t, Params{1}, rec.Center)
	assert.Equal(t, 1.0, rec.Objective)
	assert.False(t, rec.Halved)
	assert.Equal(t, Params{0}, s.Best(), "best candidate is kept when no neighbour improves it")

	// Neighbours of 1 are 2 and 0: back to 0.
	rec = r.Iterate(s)
	assert.Equal(t, Params{0}, rec.Center)
	assert.Equal(t, 0.0, rec.Objective)
	assert.False(t, rec.Halved)

	// Neighbours of 0 give 1 again: a regression, so the step halves.
	rec = r.Iterate(s)
	assert.Equal(t, 1.0, rec.Objective)
	assert.True(t, rec.Halved)
	assert.Equal(t, Params{0.5}, s.Step())

	assert.Equal(t, []float64{1, 0, 1}, s.History())
	assert.Equal(t, 3, s.Iterations())
}

func TestRefinerStepsNeverGrow(t *testing.T) {
	s, err := NewSession(Params{0.375, -0.625}, bowl(Params{0.375, -0.625}), Params{0.125, 0.125})
	require.NoError(t, err)
	r := &Refiner{Eval: bowl, MaxIterations: 1000, Epsilon: 1e-10}

	prev := s.Step()
	halvings := 0
	status, err := r.Run(context.Background(), s, func(rec IterationRecord) {
		for i := range rec.Step {
			if rec.Step[i] != prev[i] {
				assert.Equal(t, prev[i]/2, rec.Step[i], "step may only halve exactly")
				assert.True(t, rec.Halved)
			}
		}
		if rec.Halved {
			halvings++
		}
		prev = rec.Step
	})
	require.NoError(t, err)

	assert.Equal(t, StatusConverged, status)
	assert.Greater(t, halvings, 0)
	assert.InDelta(t, 0.3, s.Best()[0], 1e-4)
	assert.InDelta(t, -0.7, s.Best()[1], 1e-4)
}

func TestRefinerConvergedFitIsIdempotent(t *testing.T) {
	const eps = 1e-10
	s, err := NewSession(Params{0.375, -0.625}, bowl(Params{0.375, -0.625}), Params{0.125, 0.125})
	require.NoError(t, err)
	r := &Refiner{Eval: bowl, MaxIterations: 1000, Epsilon: eps}

	status, err := r.Run(context.Background(), s, nil)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, status)

	before := s.BestObjective()
	r.Iterate(s)
	assert.LessOrEqual(t, math.Abs(s.BestObjective()-before), eps)
}

func TestRefinerStopsAtIterationCap(t *testing.T) {
	s, err := NewSession(Params{5, 5}, bowl(Params{5, 5}), Params{0.01, 0.01})
	require.NoError(t, err)
	r := &Refiner{Eval: bowl, MaxIterations: 5, Epsilon: 1e-12}

	iterations := 0
	status, err := r.Run(context.Background(), s, func(IterationRecord) { iterations++ })
	require.NoError(t, err)

	assert.Equal(t, StatusMaxIterations, status)
	assert.Equal(t, 5, s.Iterations())
	assert.Equal(t, 5, iterations)
	assert.Less(t, s.BestObjective(), bowl(Params{5, 5}), "progress was still made")
}

func TestRefinerNoFiniteNeighbour(t *testing.T) {
	s, err := NewSession(Params{0}, 0, Params{1})
	require.NoError(t, err)
	r := &Refiner{Eval: func(p Params) float64 {
		if math.Abs(p[0]) >= 1 {
			return math.NaN()
		}
		return p[0] * p[0]
	}, MaxIterations: 10, Epsilon: 1e-9}

	rec := r.Iterate(s)
	assert.Equal(t, Params{0}, rec.Center, "centre is kept")
	assert.True(t, rec.Halved)
	assert.True(t, math.IsNaN(rec.Change), "epsilon test is skipped")

	// With step 0.5 the neighbours are finite again.
	rec = r.Iterate(s)
	assert.Equal(t, 0.25, rec.Objective)
}

func TestRefinerIsDeterministic(t *testing.T) {
	run := func() Params {
		s, err := NewSession(Params{1, 1}, bowl(Params{1, 1}), Params{0.2, 0.3})
		require.NoError(t, err)
		r := &Refiner{Eval: bowl, MaxIterations: 500, Epsilon: 1e-12}
		_, err = r.Run(context.Background(), s, nil)
		require.NoError(t, err)
		return s.Best()
	}
	assert.Equal(t, run(), run())
}

func TestRefinerHonoursContext(t *testing.T) {
	s, err := NewSession(Params{1}, 1, Params{0.1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = (&Refiner{Eval: square, MaxIterations: 10, Epsilon: 1e-9}).Run(ctx, s, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Iterations())
}

func TestNewSessionRejectsStepLength(t *testing.T) {
	_, err := NewSession(Params{0, 0}, 0, Params{1})
	assert.ErrorIs(t, err, ErrStepLength)
}
