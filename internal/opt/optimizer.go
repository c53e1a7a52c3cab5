package opt

import (
	"math"
	"sync/atomic"
)

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Name identifies the algorithm in comparison reports.
	Name() string
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: per-parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Counter wraps an objective and counts its evaluations. It is safe for
// concurrent use.
type Counter struct {
	eval func([]float64) float64
	n    atomic.Int64
}

// NewCounter wraps eval.
func NewCounter(eval func([]float64) float64) *Counter {
	return &Counter{eval: eval}
}

// Eval calls the wrapped objective.
func (c *Counter) Eval(x []float64) float64 {
	c.n.Add(1)
	return c.eval(x)
}

// Count returns the number of calls so far.
func (c *Counter) Count() int64 { return c.n.Load() }

// unitCube maps [0,1]^dim onto the box [lower, upper]. Coordinates outside
// [0,1] are clamped onto the box faces.
type unitCube struct {
	lower, width []float64
}

func newUnitCube(lower, upper []float64, dim int) unitCube {
	u := unitCube{lower: make([]float64, dim), width: make([]float64, dim)}
	for i := 0; i < dim; i++ {
		u.lower[i] = lower[i]
		u.width[i] = upper[i] - lower[i]
	}
	return u
}

func (u unitCube) toBox(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = u.lower[i] + math.Min(math.Max(v, 0), 1)*u.width[i]
	}
	return out
}

func (u unitCube) wrap(eval func([]float64) float64) func([]float64) float64 {
	return func(x []float64) float64 {
		v := eval(u.toBox(x))
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}
}

func (u unitCube) center() []float64 {
	c := make([]float64, len(u.lower))
	for i := range c {
		c[i] = u.lower[i] + u.width[i]/2
	}
	return c
}
