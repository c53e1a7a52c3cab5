package fit

import (
	"context"
	"log/slog"
	"math"
)

// IterationRecord describes one completed refinement iteration.
type IterationRecord struct {
	Iteration int
	Objective float64
	Best      float64
	Change    float64 // NaN when no neighbour was finite
	Center    Params
	Step      Params
	Halved    bool
}

// Refiner improves a grid-search seed by repeated full neighbour sweeps.
type Refiner struct {
	Eval          func(Params) float64
	MaxIterations int
	Epsilon       float64
}

// Iterate runs one sweep over all 2^k neighbours centre[i] +/- step[i].
//
// The lowest finite neighbour becomes the next centre even when it is worse
// than the current one; the session's best candidate only changes on
// improvement. Steps are halved after the fact when the iteration objective
// is worse than the previous iteration's. If no neighbour is finite the
// centre stays put, steps are halved and Change is NaN.
func (r *Refiner) Iterate(s *Session) IterationRecord {
	value, at := r.sweep(s.center, s.step)
	s.iterations++

	rec := IterationRecord{Iteration: s.iterations}
	if at == nil {
		s.halve()
		rec.Objective = s.previous
		rec.Change = math.NaN()
		rec.Halved = true
	} else {
		s.center = at
		rec.Objective = value
		rec.Change = math.Abs(s.previous - value)
		if value > s.previous {
			s.halve()
			rec.Halved = true
		}
		if value < s.bestValue {
			s.bestValue = value
			s.best = at.Clone()
		}
		s.previous = value
	}
	s.history = append(s.history, rec.Objective)

	rec.Best = s.bestValue
	rec.Center = s.center.Clone()
	rec.Step = s.step.Clone()
	return rec
}

// Run iterates until the objective changes by at most Epsilon between two
// iterations or MaxIterations is reached. The epsilon test wins when both
// trigger on the same iteration. hook may be nil.
func (r *Refiner) Run(ctx context.Context, s *Session, hook func(IterationRecord)) (Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return StatusRunning, err
		}
		rec := r.Iterate(s)
		if hook != nil {
			hook(rec)
		}
		if rec.Change <= r.Epsilon {
			slog.Debug("Refinement converged", "iterations", s.iterations, "objective", rec.Objective, "best", s.bestValue)
			return StatusConverged, nil
		}
		if s.iterations >= r.MaxIterations {
			slog.Debug("Refinement hit iteration cap", "iterations", s.iterations, "best", s.bestValue)
			return StatusMaxIterations, nil
		}
	}
}

// sweep returns the lowest finite neighbour and its objective, or nil when
// every neighbour is non-finite. The first of equal neighbours wins, with
// "+step" enumerated before "-step" on every axis.
func (r *Refiner) sweep(center, step Params) (float64, Params) {
	k := len(center)
	probe := make(Params, k)
	for i := range probe {
		probe[i] = center[i] + step[i]
	}

	best := math.Inf(1)
	var at Params
	signs := newCounter(k, 2)
	for {
		v := r.Eval(probe)
		if isFinite(v) && v < best {
			best = v
			at = probe.Clone()
		}
		if !signs.next() {
			break
		}
		for i, d := range signs.digits {
			if d == 0 {
				probe[i] = center[i] + step[i]
			} else {
				probe[i] = center[i] - step[i]
			}
		}
	}
	return best, at
}
