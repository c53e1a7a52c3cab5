package fit

import "fmt"

// ChiSquared computes sum(((y - f(x)) / e)^2) over every point.
func ChiSquared(d *Dataset, p Params, m ModelFunc) float64 {
	var sum float64
	for i := range d.x {
		chi := (d.y[i] - m(d.x[i], p)) / d.e[i]
		sum += chi * chi
	}
	return sum
}

// SumSquares computes the unweighted sum of squared residuals.
func SumSquares(d *Dataset, p Params, m ModelFunc) float64 {
	var sum float64
	for i := range d.x {
		r := d.y[i] - m(d.x[i], p)
		sum += r * r
	}
	return sum
}

// ReducedChiSquared divides ChiSquared by the degrees of freedom. It is a
// reporting helper, not an objective: dof <= 0 yields +Inf.
func ReducedChiSquared(chisq float64, points, params int) float64 {
	dof := points - params
	if dof <= 0 {
		return posInf
	}
	return chisq / float64(dof)
}

// Objectives maps the names accepted in job files to objective functions.
var Objectives = map[string]ObjectiveFunc{
	"chisq":      ChiSquared,
	"chi2":       ChiSquared,
	"sumsquares": SumSquares,
	"sse":        SumSquares,
}

// LookupObjective resolves an objective by name.
func LookupObjective(name string) (ObjectiveFunc, error) {
	f, ok := Objectives[name]
	if !ok {
		return nil, &ConfigError{Field: "Objective", Reason: fmt.Sprintf("unknown objective %q", name), Err: ErrNoObjective}
	}
	return f, nil
}
