package opt

import (
	"context"
	"log/slog"
	"math"

	"github.com/cwbudde/chisqfit/internal/fit"
)

// NativeAdapter runs the engine's own grid search and neighbour refinement
// on an arbitrary objective.
type NativeAdapter struct {
	resolution    int
	maxIterations int
	epsilon       float64
}

// NewNative creates the grid+refine optimizer.
func NewNative(resolution, maxIterations int, epsilon float64) Optimizer {
	return &NativeAdapter{resolution: resolution, maxIterations: maxIterations, epsilon: epsilon}
}

func (n *NativeAdapter) Name() string { return "native" }

func (n *NativeAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	b := fit.NewBounds(lower[:dim], upper[:dim])
	objective := func(p fit.Params) float64 { return eval(p) }

	grid, err := fit.GridSearch(context.Background(), objective, b, n.resolution, fit.GridOptions{})
	if err != nil {
		slog.Warn("Native grid search failed", "error", err)
		return nil, math.Inf(1)
	}

	step := make(fit.Params, dim)
	for i := range step {
		step[i] = b.Width(i) / (2 * float64(n.resolution))
	}
	session, err := fit.NewSession(grid.Params, grid.Objective, step)
	if err != nil {
		slog.Warn("Native refinement failed", "error", err)
		return grid.Params, grid.Objective
	}
	r := &fit.Refiner{Eval: objective, MaxIterations: n.maxIterations, Epsilon: n.epsilon}
	if _, err := r.Run(context.Background(), session, nil); err != nil {
		slog.Warn("Native refinement failed", "error", err)
	}
	return session.Best(), session.BestObjective()
}
