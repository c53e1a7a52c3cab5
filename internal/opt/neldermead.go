package opt

import (
	"log/slog"

	"gonum.org/v1/gonum/optimize"
)

// NelderMeadAdapter runs gonum's downhill simplex from the centre of the box.
type NelderMeadAdapter struct {
	maxEvals int
	tol      float64
}

// NewNelderMead creates a simplex optimizer that stops after maxEvals
// objective calls or once the best value stalls within tol.
func NewNelderMead(maxEvals int, tol float64) Optimizer {
	return &NelderMeadAdapter{maxEvals: maxEvals, tol: tol}
}

func (n *NelderMeadAdapter) Name() string { return "nelder-mead" }

// Run searches the unit cube mapped onto [lower, upper]; the simplex is
// unconstrained, so points leaving the box are clamped onto its faces.
func (n *NelderMeadAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	cube := newUnitCube(lower, upper, dim)

	problem := optimize.Problem{Func: cube.wrap(eval)}
	settings := &optimize.Settings{
		FuncEvaluations: n.maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   n.tol,
			Iterations: 50,
		},
	}
	init := make([]float64, dim)
	for i := range init {
		init[i] = 0.5
	}

	result, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{SimplexSize: 0.25})
	if result == nil {
		slog.Warn("Nelder-Mead failed, returning box centre", "error", err)
		c := cube.center()
		return c, eval(c)
	}
	if err != nil {
		slog.Debug("Nelder-Mead stopped early", "status", result.Status, "error", err)
	}

	best := cube.toBox(result.X)
	return best, eval(best)
}
