// Package linfit solves weighted polynomial least squares in closed form. It
// gives the iterative engine a reference answer for models that are linear in
// their parameters.
package linfit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/chisqfit/internal/fit"
)

var (
	ErrTooFewPoints  = errors.New("linfit: fewer points than parameters")
	ErrNoUncertainty = errors.New("linfit: dataset has no uncertainties")
)

// Solution is a closed-form weighted least-squares fit.
type Solution struct {
	Params     fit.Params
	ChiSquared float64
	// Errors are the marginal one-sigma errors, sqrt of the covariance diagonal.
	Errors []float64
	// Conditional are the one-sigma errors of each parameter with the others
	// held at their fitted values. A chi-squared scan with threshold 1
	// measures these.
	Conditional []float64
}

// Polynomial fits p[0] + p[1]*x + ... + p[n-1]*x^(n-1) to d, weighting every
// point by 1/e.
func Polynomial(d *fit.Dataset, n int) (*Solution, error) {
	if n < 1 {
		return nil, fmt.Errorf("linfit: need at least one parameter, got %d", n)
	}
	if d.Len() < n {
		return nil, fmt.Errorf("%w: %d points, %d params", ErrTooFewPoints, d.Len(), n)
	}
	x, y, e := d.X(), d.Y(), d.Uncertainty()
	for i := range e {
		if !(e[i] > 0) {
			return nil, fmt.Errorf("%w: point %d", ErrNoUncertainty, i)
		}
	}

	a := weightedVandermonde(x, e, n)
	b := mat.NewVecDense(len(y), nil)
	for i := range y {
		b.SetVec(i, y[i]/e[i])
	}

	qr := new(mat.QR)
	qr.Factorize(a)
	c := mat.NewVecDense(n, nil)
	if err := qr.SolveVecTo(c, false, b); err != nil {
		return nil, fmt.Errorf("linfit: could not solve QR: %w", err)
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var cov mat.Dense
	if err := cov.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("linfit: singular normal matrix: %w", err)
	}

	sol := &Solution{
		Params:      make(fit.Params, n),
		Errors:      make([]float64, n),
		Conditional: make([]float64, n),
	}
	for j := 0; j < n; j++ {
		sol.Params[j] = c.AtVec(j)
		sol.Errors[j] = math.Sqrt(cov.At(j, j))
		sol.Conditional[j] = 1 / math.Sqrt(ata.At(j, j))
	}

	residuals := make([]float64, len(y))
	var fitted mat.VecDense
	fitted.MulVec(a, c)
	for i := range residuals {
		residuals[i] = b.AtVec(i) - fitted.AtVec(i)
	}
	sol.ChiSquared = floats.Dot(residuals, residuals)
	return sol, nil
}

// weightedVandermonde returns the Vandermonde matrix of x with row i divided
// by e[i].
func weightedVandermonde(x, e []float64, n int) *mat.Dense {
	v := mat.NewDense(len(x), n, nil)
	for i := range x {
		for j, p := 0, 1.0; j < n; j, p = j+1, p*x[i] {
			v.Set(i, j, p/e[i])
		}
	}
	return v
}
