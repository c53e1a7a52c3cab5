package fit

import (
	"fmt"
	"math"
)

// Params is a positional parameter vector. Index i always refers to the
// same physical parameter for the lifetime of a fit.
type Params []float64

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// ModelFunc predicts y from x and a parameter vector. It must be pure.
type ModelFunc func(x float64, p Params) float64

// ObjectiveFunc scores a parameter vector against a dataset; lower is better.
// It must be pure and deterministic for reproducible fits.
type ObjectiveFunc func(d *Dataset, p Params, m ModelFunc) float64

// Bounds is the axis-aligned box the grid search samples.
type Bounds struct {
	Lower Params `json:"lower" yaml:"lower"`
	Upper Params `json:"upper" yaml:"upper"`
}

// NewBounds copies lower and upper into a Bounds value.
func NewBounds(lower, upper []float64) Bounds {
	return Bounds{
		Lower: Params(lower).Clone(),
		Upper: Params(upper).Clone(),
	}
}

// Validate reports the first precondition violation, if any.
func (b Bounds) Validate() error {
	if len(b.Lower) != len(b.Upper) {
		return &ConfigError{
			Field:  "Bounds",
			Reason: fmt.Sprintf("%d lower vs %d upper", len(b.Lower), len(b.Upper)),
			Err:    ErrBoundsLength,
		}
	}
	if len(b.Lower) == 0 {
		return &ConfigError{Field: "Bounds", Err: ErrNoParams}
	}
	for i := range b.Lower {
		lo, hi := b.Lower[i], b.Upper[i]
		switch {
		case !isFinite(lo) || !isFinite(hi):
			return &ConfigError{Field: fmt.Sprintf("Bounds[%d]", i), Err: ErrNonFinite}
		case lo > hi:
			return &ConfigError{
				Field:  fmt.Sprintf("Bounds[%d]", i),
				Reason: fmt.Sprintf("%g > %g", lo, hi),
				Err:    ErrInvertedBounds,
			}
		case lo == hi:
			return &ConfigError{
				Field:  fmt.Sprintf("Bounds[%d]", i),
				Reason: fmt.Sprintf("both %g", lo),
				Err:    ErrDegenerateBounds,
			}
		}
	}
	return nil
}

// Dim returns the number of parameters.
func (b Bounds) Dim() int {
	return len(b.Lower)
}

// Width returns upper[i] - lower[i].
func (b Bounds) Width(i int) float64 {
	return b.Upper[i] - b.Lower[i]
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p Params) bool {
	if len(p) != len(b.Lower) {
		return false
	}
	for i, v := range p {
		if v < b.Lower[i] || v > b.Upper[i] {
			return false
		}
	}
	return true
}

// Clamp returns a copy of p with every component clamped into the box.
func (b Bounds) Clamp(p Params) Params {
	out := p.Clone()
	for i := range out {
		out[i] = clamp(out[i], b.Lower[i], b.Upper[i])
	}
	return out
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
