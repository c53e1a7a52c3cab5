// Package config loads fit jobs from YAML and turns them into engine
// configurations.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/model"
)

var ErrInvalid = errors.New("config: invalid fit job")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("finite", validateFinite)
}

// Validator returns the shared validator, with the "finite" tag registered.
func Validator() *validator.Validate {
	return validate
}

// validateFinite rejects NaN and Inf floats.
func validateFinite(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FitConfig is one fit job as written in a job file or posted to the server.
type FitConfig struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Data      string `json:"data,omitempty" yaml:"data,omitempty"`
	Model     string `json:"model" yaml:"model" validate:"required"`
	Objective string `json:"objective" yaml:"objective" validate:"required,oneof=chisq chi2 sumsquares sse"`

	Lower []float64 `json:"lower" yaml:"lower" validate:"required,min=1,dive,finite"`
	Upper []float64 `json:"upper" yaml:"upper" validate:"required,min=1,eqfield=Lower,dive,finite"`

	Resolution         int     `json:"resolution" yaml:"resolution" validate:"gte=1"`
	Epsilon            float64 `json:"epsilon" yaml:"epsilon" validate:"gt=0,finite"`
	MaxIterations      int     `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	Threshold          float64 `json:"threshold" yaml:"threshold" validate:"gt=0,finite"`
	ScanPoints         int     `json:"scan_points" yaml:"scan_points" validate:"gte=1"`
	MaxGridEvaluations int     `json:"max_grid_evaluations" yaml:"max_grid_evaluations" validate:"gte=0"`
	Workers            int     `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`

	// Intervals requests confidence intervals after the fit.
	Intervals bool `json:"intervals" yaml:"intervals"`
	// CurvePoints is the number of samples of the rendered fit curve.
	CurvePoints int `json:"curve_points" yaml:"curve_points" validate:"gte=0"`
	// DefaultUncertainty fills in e for data files with only x and y.
	DefaultUncertainty float64 `json:"default_uncertainty,omitempty" yaml:"default_uncertainty,omitempty" validate:"gte=0"`
}

// Default returns a job with the engine defaults and no model or bounds.
func Default() FitConfig {
	d := fit.DefaultConfig()
	return FitConfig{
		Objective:          "chisq",
		Resolution:         d.Resolution,
		Epsilon:            d.Epsilon,
		MaxIterations:      d.MaxIterations,
		Threshold:          d.Threshold,
		ScanPoints:         d.ScanPoints,
		MaxGridEvaluations: d.MaxGridEvaluations,
		Workers:            d.Workers,
		Intervals:          true,
		CurvePoints:        200,
	}
}

// Validate checks the struct tags. Bounds ordering and model arity are
// checked by Build.
func (c *FitConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Decode reads a YAML job over the defaults without validating it, so that
// callers can apply overrides first. Unknown keys are rejected.
func Decode(data []byte) (*FitConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

// Parse decodes a YAML job over the defaults and validates it.
func Parse(data []byte) (*FitConfig, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes a YAML job file without validating it.
func Read(path string) (*FitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load reads and parses a YAML job file.
func Load(path string) (*FitConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the job as YAML.
func (c *FitConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Build resolves the model and objective names into an engine configuration.
func (c *FitConfig) Build() (fit.Config, model.Model, error) {
	if err := c.Validate(); err != nil {
		return fit.Config{}, model.Model{}, err
	}
	m, err := model.Lookup(c.Model)
	if err != nil {
		return fit.Config{}, model.Model{}, err
	}
	fn, err := m.Bind(len(c.Lower))
	if err != nil {
		return fit.Config{}, model.Model{}, err
	}
	objective, err := fit.LookupObjective(c.Objective)
	if err != nil {
		return fit.Config{}, model.Model{}, err
	}

	cfg := fit.Config{
		Objective:          objective,
		Model:              fn,
		Bounds:             fit.NewBounds(c.Lower, c.Upper),
		Resolution:         c.Resolution,
		Epsilon:            c.Epsilon,
		MaxIterations:      c.MaxIterations,
		Threshold:          c.Threshold,
		ScanPoints:         c.ScanPoints,
		MaxGridEvaluations: c.MaxGridEvaluations,
		Workers:            c.Workers,
	}
	if err := cfg.Validate(); err != nil {
		return fit.Config{}, model.Model{}, err
	}
	return cfg, m, nil
}
