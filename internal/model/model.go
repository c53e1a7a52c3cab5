package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cwbudde/chisqfit/internal/fit"
)

var (
	ErrUnknownModel = errors.New("model: unknown model")
	ErrArity        = errors.New("model: wrong number of parameters")
)

// Variadic marks a model that accepts any number of parameters from MinParams up.
const Variadic = -1

// Model is a named y = f(x; p) function.
type Model struct {
	Name    string
	Formula string
	// Params names each parameter; nil for variadic models.
	Params    []string
	MinParams int
	Func      fit.ModelFunc
}

// Arity returns the fixed parameter count, or Variadic.
func (m Model) Arity() int {
	if m.Params == nil {
		return Variadic
	}
	return len(m.Params)
}

// Check reports whether the model accepts n parameters.
func (m Model) Check(n int) error {
	if m.Arity() == Variadic {
		if n < m.MinParams {
			return fmt.Errorf("%w: %s needs at least %d, got %d", ErrArity, m.Name, m.MinParams, n)
		}
		return nil
	}
	if n != m.Arity() {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrArity, m.Name, m.Arity(), n)
	}
	return nil
}

// Bind returns the model function after checking it against n parameters.
// The returned function does no per-call checking.
func (m Model) Bind(n int) (fit.ModelFunc, error) {
	if err := m.Check(n); err != nil {
		return nil, err
	}
	return m.Func, nil
}

// ParamName returns the name of parameter i.
func (m Model) ParamName(i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return fmt.Sprintf("p%d", i)
}

func Linear(x float64, p fit.Params) float64 {
	return p[0] + p[1]*x
}

func Quadratic(x float64, p fit.Params) float64 {
	return p[0] + p[1]*x + p[2]*x*x
}

func Cubic(x float64, p fit.Params) float64 {
	return p[0] + p[1]*x + p[2]*x*x + p[3]*x*x*x
}

// Polynomial evaluates sum p[i]*x^i by Horner's rule.
func Polynomial(x float64, p fit.Params) float64 {
	var y float64
	for i := len(p) - 1; i >= 0; i-- {
		y = y*x + p[i]
	}
	return y
}

func Sinusoidal(x float64, p fit.Params) float64 {
	return p[0] + p[1]*math.Sin(p[2]*x+p[3])
}

func Power(x float64, p fit.Params) float64 {
	return p[0] + p[1]*math.Pow(x, p[2])
}

func Exponential(x float64, p fit.Params) float64 {
	return p[0] + p[1]*math.Pow(p[2], p[3]*x)
}

// Logarithmic is NaN where c*x + d <= 0, which the fit treats as non-finite.
func Logarithmic(x float64, p fit.Params) float64 {
	return p[0] + p[1]*math.Log(p[2]*x+p[3])
}

func Gaussian(x float64, p fit.Params) float64 {
	z := (x - p[2]) / p[3]
	return p[0] + p[1]*math.Exp(-0.5*z*z)
}

// Step is a for x < c and b otherwise.
func Step(x float64, p fit.Params) float64 {
	if x < p[2] {
		return p[0]
	}
	return p[1]
}

var registry = map[string]Model{}

func register(m Model) {
	registry[m.Name] = m
}

func init() {
	register(Model{Name: "linear", Formula: "a + b*x", Params: []string{"a", "b"}, Func: Linear})
	register(Model{Name: "quadratic", Formula: "a + b*x + c*x^2", Params: []string{"a", "b", "c"}, Func: Quadratic})
	register(Model{Name: "cubic", Formula: "a + b*x + c*x^2 + d*x^3", Params: []string{"a", "b", "c", "d"}, Func: Cubic})
	register(Model{Name: "polynomial", Formula: "p0 + p1*x + ... + pn*x^n", MinParams: 1, Func: Polynomial})
	register(Model{Name: "sinusoidal", Formula: "a + b*sin(c*x + d)", Params: []string{"a", "b", "c", "d"}, Func: Sinusoidal})
	register(Model{Name: "power", Formula: "a + b*x^c", Params: []string{"a", "b", "c"}, Func: Power})
	register(Model{Name: "exponential", Formula: "a + b*c^(d*x)", Params: []string{"a", "b", "c", "d"}, Func: Exponential})
	register(Model{Name: "logarithmic", Formula: "a + b*ln(c*x + d)", Params: []string{"a", "b", "c", "d"}, Func: Logarithmic})
	register(Model{Name: "gaussian", Formula: "a + b*exp(-((x-c)/d)^2 / 2)", Params: []string{"a", "b", "c", "d"}, Func: Gaussian})
	register(Model{Name: "step", Formula: "a if x < c else b", Params: []string{"a", "b", "c"}, Func: Step})
}

// Lookup resolves a model by case-insensitive name.
func Lookup(name string) (Model, error) {
	m, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Model{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownModel, name, strings.Join(Names(), ", "))
	}
	return m, nil
}

// Names lists the registered models in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPolynomial reports whether m is linear in its parameters as a power series
// in x, so that closed-form least squares applies.
func IsPolynomial(m Model) bool {
	switch m.Name {
	case "linear", "quadratic", "cubic", "polynomial":
		return true
	}
	return false
}
