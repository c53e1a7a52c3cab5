package fit

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Dataset holds observed points (x, y, uncertainty). It is immutable once
// constructed: accessors hand out copies.
type Dataset struct {
	name string
	x    []float64
	y    []float64
	e    []float64
}

// NewDataset validates and copies measured points. Every uncertainty must be
// strictly positive and finite.
func NewDataset(name string, x, y, e []float64) (*Dataset, error) {
	if len(x) != len(y) || len(x) != len(e) {
		return nil, &ConfigError{
			Field:  "Dataset",
			Reason: fmt.Sprintf("len(x)=%d len(y)=%d len(e)=%d", len(x), len(y), len(e)),
			Err:    ErrLengthMismatch,
		}
	}
	for i := range x {
		if !isFinite(x[i]) || !isFinite(y[i]) {
			return nil, &ConfigError{Field: fmt.Sprintf("Dataset[%d]", i), Err: ErrNonFinite}
		}
		if !isFinite(e[i]) || e[i] <= 0 {
			return nil, &ConfigError{
				Field:  fmt.Sprintf("Dataset[%d]", i),
				Reason: fmt.Sprintf("uncertainty %g", e[i]),
				Err:    ErrBadUncertainty,
			}
		}
	}
	return &Dataset{
		name: name,
		x:    copyOf(x),
		y:    copyOf(y),
		e:    copyOf(e),
	}, nil
}

// FromModel evaluates model over x. The synthesized points carry zero
// uncertainty; they are meant for rendering a fitted curve, not for fitting.
func FromModel(name string, x []float64, p Params, model ModelFunc) *Dataset {
	d := &Dataset{
		name: name,
		x:    copyOf(x),
		y:    make([]float64, len(x)),
		e:    make([]float64, len(x)),
	}
	for i, xi := range d.x {
		d.y[i] = model(xi, p)
	}
	return d
}

// WithUncertainty returns a copy of d where every point has uncertainty e.
func (d *Dataset) WithUncertainty(e float64) (*Dataset, error) {
	if !isFinite(e) || e <= 0 {
		return nil, &ConfigError{Field: "Uncertainty", Reason: fmt.Sprintf("%g", e), Err: ErrBadUncertainty}
	}
	errs := make([]float64, len(d.x))
	for i := range errs {
		errs[i] = e
	}
	return NewDataset(d.name, d.x, d.y, errs)
}

// Name returns the display name.
func (d *Dataset) Name() string { return d.name }

// Len returns the number of points.
func (d *Dataset) Len() int { return len(d.x) }

// Point returns the i-th observation.
func (d *Dataset) Point(i int) (x, y, e float64) {
	return d.x[i], d.y[i], d.e[i]
}

// X returns a copy of the x values.
func (d *Dataset) X() []float64 { return copyOf(d.x) }

// Y returns a copy of the y values.
func (d *Dataset) Y() []float64 { return copyOf(d.y) }

// Uncertainty returns a copy of the per-point uncertainties.
func (d *Dataset) Uncertainty() []float64 { return copyOf(d.e) }

// SmoothX returns n evenly spaced values covering the range of x, suitable for
// drawing a fitted curve through sparse data.
func SmoothX(x []float64, n int) []float64 {
	if len(x) == 0 || n <= 0 {
		return nil
	}
	lo, hi := floats.Min(x), floats.Max(x)
	if n == 1 || lo == hi {
		out := make([]float64, n)
		for i := range out {
			out[i] = lo
		}
		return out
	}
	return floats.Span(make([]float64, n), lo, hi)
}

func copyOf(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
