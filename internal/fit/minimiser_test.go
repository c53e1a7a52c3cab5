package fit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func straightLineData(t *testing.T) *Dataset {
	t.Helper()
	d, err := NewDataset("straight-line",
		[]float64{0, 1, 2, 3, 4},
		[]float64{1.02, 3.01, 4.98, 7.03, 8.99},
		[]float64{0.1, 0.1, 0.1, 0.1, 0.1},
	)
	require.NoError(t, err)
	return d
}

func straightLineConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = linear
	cfg.Bounds = NewBounds([]float64{-5, -5}, []float64{5, 5})
	return cfg
}

func TestMinimiseStraightLine(t *testing.T) {
	m, err := NewMinimiser(straightLineData(t), straightLineConfig())
	require.NoError(t, err)
	assert.Equal(t, StateConfigured, m.State())

	res, err := m.Minimise(context.Background())
	require.NoError(t, err)

	// Weighted least squares gives a = 1.014, b = 1.996, chi^2 = 0.156.
	assert.Equal(t, StatusConverged, res.Status)
	assert.Equal(t, StateConverged, m.State())
	assert.InDelta(t, 1.014, res.Params[0], 1e-3)
	assert.InDelta(t, 1.996, res.Params[1], 1e-3)
	assert.Less(t, res.Objective, 1.0)
	assert.LessOrEqual(t, res.Objective, res.GridObjective)
	assert.Equal(t, int64(50*50+4*res.Iterations), res.Evaluations)
	assert.Equal(t, res.Evaluations, m.Evaluations())
	assert.Same(t, res, m.Result())
}

func TestEstimateErrorsStraightLine(t *testing.T) {
	m, err := NewMinimiser(straightLineData(t), straightLineConfig())
	require.NoError(t, err)
	_, err = m.Minimise(context.Background())
	require.NoError(t, err)

	intervals, err := m.EstimateErrors(context.Background())
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.Equal(t, StateErrorsEstimated, m.State())
	assert.Equal(t, intervals, m.Result().Intervals)

	// Analytic one-sigma errors are 0.0447 for a and 0.0183 for b.
	assert.InDelta(t, 0.0447, intervals[0].Minus(), 2e-3)
	assert.InDelta(t, 0.0447, intervals[0].Plus(), 2e-3)
	assert.InDelta(t, 0.0183, intervals[1].Minus(), 1e-3)
	assert.InDelta(t, 0.0183, intervals[1].Plus(), 1e-3)
	for _, iv := range intervals {
		assert.False(t, iv.Truncated)
	}
}

func TestMinimiseRecoversNoiselessParams(t *testing.T) {
	xs := make([]float64, 11)
	for i := range xs {
		xs[i] = float64(i) * 0.5
	}
	d, err := FromModel("noiseless", xs, Params{1.5, 0.75}, linear).WithUncertainty(0.1)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Model = linear
	cfg.Bounds = NewBounds([]float64{1, 0.5}, []float64{2, 1})
	cfg.Resolution = 20
	cfg.Epsilon = 1e-12

	m, err := NewMinimiser(d, cfg)
	require.NoError(t, err)
	res, err := m.Minimise(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1.5, res.Params[0], 1e-6)
	assert.InDelta(t, 0.75, res.Params[1], 1e-6)
	assert.LessOrEqual(t, res.Objective, 1e-9)
}

func TestMinimiseIsIdempotentOnceConverged(t *testing.T) {
	cfg := straightLineConfig()
	m, err := NewMinimiser(straightLineData(t), cfg)
	require.NoError(t, err)
	res, err := m.Minimise(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)

	before := m.Session().BestObjective()
	m.Refiner().Iterate(m.Session())
	assert.InDelta(t, before, m.Session().BestObjective(), cfg.Epsilon)
}

func TestMinimiseIterationCap(t *testing.T) {
	cfg := straightLineConfig()
	cfg.MaxIterations = 3
	cfg.Epsilon = 1e-15

	var records []IterationRecord
	cfg.OnIteration = func(rec IterationRecord) { records = append(records, rec) }

	m, err := NewMinimiser(straightLineData(t), cfg)
	require.NoError(t, err)
	res, err := m.Minimise(context.Background())
	require.NoError(t, err, "hitting the cap is not an error")

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, StateMaxIterations, m.State())
	assert.Equal(t, 3, res.Iterations)
	require.Len(t, records, 3)
	assert.Equal(t, 3, records[2].Iteration)
	assert.Equal(t, res.Objective, records[2].Best)
}

func TestMinimiseIsDeterministic(t *testing.T) {
	run := func(workers int) *Result {
		cfg := straightLineConfig()
		cfg.Workers = workers
		m, err := NewMinimiser(straightLineData(t), cfg)
		require.NoError(t, err)
		res, err := m.Minimise(context.Background())
		require.NoError(t, err)
		return res
	}

	a, b, c := run(1), run(1), run(4)
	assert.Equal(t, a.Params, b.Params)
	assert.Equal(t, a.Objective, b.Objective)
	assert.Equal(t, a.Params, c.Params, "parallel grid search finds the same seed")
	assert.Equal(t, a.GridParams, c.GridParams)
}

func TestMinimiserConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no objective", func(c *Config) { c.Objective = nil }, ErrNoObjective},
		{"no model", func(c *Config) { c.Model = nil }, ErrNoModel},
		{"no params", func(c *Config) { c.Bounds = Bounds{} }, ErrNoParams},
		{"inverted bounds", func(c *Config) { c.Bounds = NewBounds([]float64{1, 0}, []float64{0, 1}) }, ErrInvertedBounds},
		{"zero resolution", func(c *Config) { c.Resolution = 0 }, ErrBadResolution},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }, ErrBadEpsilon},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, ErrBadIterations},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, ErrBadThreshold},
		{"negative scan points", func(c *Config) { c.ScanPoints = -1 }, ErrBadResolution},
		{"grid too large", func(c *Config) { c.Resolution = 10_000 }, ErrGridTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := straightLineConfig()
			tt.mutate(&cfg)
			_, err := NewMinimiser(straightLineData(t), cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := NewMinimiser(nil, straightLineConfig())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMinimiserRejectsBeforeEvaluating(t *testing.T) {
	calls := 0
	cfg := straightLineConfig()
	cfg.Objective = func(d *Dataset, p Params, m ModelFunc) float64 {
		calls++
		return ChiSquared(d, p, m)
	}
	cfg.Bounds = NewBounds([]float64{5, -5}, []float64{-5, 5})

	_, err := NewMinimiser(straightLineData(t), cfg)
	assert.ErrorIs(t, err, ErrInvertedBounds)
	assert.Zero(t, calls)
}

func TestMinimiserBoundsAreCopied(t *testing.T) {
	cfg := straightLineConfig()
	m, err := NewMinimiser(straightLineData(t), cfg)
	require.NoError(t, err)

	cfg.Bounds.Lower[0] = 4.9
	assert.Equal(t, -5.0, m.Config().Bounds.Lower[0])
}

func TestMinimiserRequiresFit(t *testing.T) {
	m, err := NewMinimiser(straightLineData(t), straightLineConfig())
	require.NoError(t, err)

	_, err = m.EstimateErrors(context.Background())
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = m.Curve("curve", []float64{0, 1})
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.Nil(t, m.Result())
	assert.Nil(t, m.Session())
}

func TestMinimiserCurveAndReset(t *testing.T) {
	m, err := NewMinimiser(straightLineData(t), straightLineConfig())
	require.NoError(t, err)
	res, err := m.Minimise(context.Background())
	require.NoError(t, err)

	curve, err := m.Curve("fit", []float64{0, 10})
	require.NoError(t, err)
	assert.Equal(t, "fit", curve.Name())
	assert.Equal(t, []float64{linear(0, res.Params), linear(10, res.Params)}, curve.Y())

	m.Reset()
	assert.Equal(t, StateConfigured, m.State())
	assert.Nil(t, m.Result())
	assert.Zero(t, m.Evaluations())

	again, err := m.Minimise(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Params, again.Params)
}

func TestMinimiseHonoursContext(t *testing.T) {
	m, err := NewMinimiser(straightLineData(t), straightLineConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Minimise(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m.Result())
}
