package fit

import (
	"fmt"
	"math"
)

// Status is the terminal state of a refinement.
type Status string

const (
	StatusRunning       Status = "running"
	StatusConverged     Status = "converged"
	StatusMaxIterations Status = "max-iterations"
)

// Session is the mutable state of one fit: the walk centre, the best
// candidate seen so far, the per-parameter step sizes and the iteration
// objective history. Only the refinement loop mutates it.
type Session struct {
	center     Params
	best       Params
	bestValue  float64
	step       Params
	previous   float64
	iterations int
	history    []float64
}

// NewSession seeds a session at start, whose objective is startValue.
func NewSession(start Params, startValue float64, step Params) (*Session, error) {
	if len(step) != len(start) {
		return nil, &ConfigError{
			Field:  "Step",
			Reason: fmt.Sprintf("%d steps for %d params", len(step), len(start)),
			Err:    ErrStepLength,
		}
	}
	return &Session{
		center:    start.Clone(),
		best:      start.Clone(),
		bestValue: startValue,
		step:      step.Clone(),
		previous:  math.Inf(1),
		history:   []float64{},
	}, nil
}

// Center returns the current walk position.
func (s *Session) Center() Params { return s.center.Clone() }

// Best returns the best candidate seen so far.
func (s *Session) Best() Params { return s.best.Clone() }

// BestObjective returns the objective at Best.
func (s *Session) BestObjective() float64 { return s.bestValue }

// Step returns the current per-parameter step sizes.
func (s *Session) Step() Params { return s.step.Clone() }

// Previous returns the objective of the last completed iteration, +Inf before
// the first one.
func (s *Session) Previous() float64 { return s.previous }

// Iterations returns the number of completed iterations.
func (s *Session) Iterations() int { return s.iterations }

// History returns the per-iteration objective values.
func (s *Session) History() []float64 {
	return append([]float64{}, s.history...)
}

func (s *Session) halve() {
	for i := range s.step {
		s.step[i] /= 2
	}
}
