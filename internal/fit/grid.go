package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// ctxPollInterval is how many objective evaluations pass between context checks.
const ctxPollInterval = 4096

var posInf = math.Inf(1)

// GridOptions bounds the cost of a grid search.
type GridOptions struct {
	// MaxEvaluations rejects lattices with more than this many cells before
	// any evaluation happens. Zero disables the cap.
	MaxEvaluations int

	// Workers > 1 scans slabs of the outermost axis concurrently. The
	// objective must then be safe for concurrent use. The result is the
	// same as a sequential scan.
	Workers int
}

// GridResult is the best lattice cell found by GridSearch.
type GridResult struct {
	Params      Params
	Objective   float64
	Evaluations int
}

// counter is a mixed-radix odometer. Digit 0 is the most significant, the
// last digit turns fastest.
type counter struct {
	digits []int
	radix  int
}

func newCounter(k, radix int) *counter {
	return &counter{digits: make([]int, k), radix: radix}
}

// next advances the odometer and reports false once it wraps around.
func (c *counter) next() bool {
	for i := len(c.digits) - 1; i >= 0; i-- {
		c.digits[i]++
		if c.digits[i] < c.radix {
			return true
		}
		c.digits[i] = 0
	}
	return false
}

// GridCells returns n^k, or an error if that overflows an int.
func GridCells(n, k int) (int, error) {
	total := 1
	for i := 0; i < k; i++ {
		if total > math.MaxInt/n {
			return 0, fmt.Errorf("%w: %d^%d overflows", ErrGridTooLarge, n, k)
		}
		total *= n
	}
	return total, nil
}

// GridSearch samples the midpoint of every cell of an n-per-axis lattice over
// b and returns the cell with the lowest finite objective. The first cell to
// reach the minimum wins ties.
func GridSearch(ctx context.Context, eval func(Params) float64, b Bounds, n int, opts GridOptions) (GridResult, error) {
	if err := b.Validate(); err != nil {
		return GridResult{}, err
	}
	if n <= 0 {
		return GridResult{}, &ConfigError{Field: "Resolution", Reason: fmt.Sprintf("%d", n), Err: ErrBadResolution}
	}
	k := b.Dim()
	total, err := GridCells(n, k)
	if err != nil {
		return GridResult{}, err
	}
	if opts.MaxEvaluations > 0 && total > opts.MaxEvaluations {
		return GridResult{}, &ConfigError{
			Field:  "Resolution",
			Reason: fmt.Sprintf("%d^%d = %d cells, cap %d", n, k, total, opts.MaxEvaluations),
			Err:    ErrGridTooLarge,
		}
	}

	axes := make([][]float64, k)
	for i := range axes {
		cell := b.Width(i) / float64(n)
		axes[i] = make([]float64, n)
		for j := range axes[i] {
			axes[i][j] = b.Lower[i] + cell*(float64(j)+0.5)
		}
	}

	slog.Debug("Starting grid search", "params", k, "resolution", n, "cells", total, "workers", opts.Workers)

	slabs := make([]slabResult, n)
	if opts.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for j := 0; j < n; j++ {
			g.Go(func() error {
				res, err := scanSlab(gctx, eval, axes, j)
				slabs[j] = res
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return GridResult{}, err
		}
	} else {
		for j := 0; j < n; j++ {
			res, err := scanSlab(ctx, eval, axes, j)
			if err != nil {
				return GridResult{}, err
			}
			slabs[j] = res
		}
	}

	best := GridResult{Objective: posInf}
	for _, s := range slabs {
		best.Evaluations += s.evaluations
		if s.params != nil && s.objective < best.Objective {
			best.Params = s.params
			best.Objective = s.objective
		}
	}
	if best.Params == nil {
		return best, ErrNoFiniteObjective
	}

	slog.Debug("Grid search complete", "objective", best.Objective, "params", best.Params, "evaluations", best.Evaluations)
	return best, nil
}

type slabResult struct {
	params      Params
	objective   float64
	evaluations int
}

// scanSlab evaluates every cell whose outermost digit is j, in enumeration order.
func scanSlab(ctx context.Context, eval func(Params) float64, axes [][]float64, j int) (slabResult, error) {
	k := len(axes)
	res := slabResult{objective: posInf}

	probe := make(Params, k)
	probe[0] = axes[0][j]
	for i := 1; i < k; i++ {
		probe[i] = axes[i][0]
	}

	inner := newCounter(k-1, len(axes[0]))
	for {
		if res.evaluations%ctxPollInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		v := eval(probe)
		res.evaluations++
		if isFinite(v) && v < res.objective {
			res.objective = v
			res.params = probe.Clone()
		}
		if !inner.next() {
			break
		}
		for i, d := range inner.digits {
			probe[i+1] = axes[i+1][d]
		}
	}
	return res, nil
}
