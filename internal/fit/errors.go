package fit

import "errors"

// Configuration errors. Every one of them is raised before any search work
// starts; match them with errors.Is.
var (
	ErrNoObjective       = errors.New("fit: objective function is required")
	ErrNoModel           = errors.New("fit: model function is required")
	ErrNoData            = errors.New("fit: dataset is required")
	ErrNoParams          = errors.New("fit: parameter bounds are empty")
	ErrBoundsLength      = errors.New("fit: lower and upper bounds differ in length")
	ErrInvertedBounds    = errors.New("fit: lower bound exceeds upper bound")
	ErrDegenerateBounds  = errors.New("fit: zero-width parameter bounds")
	ErrNonFinite         = errors.New("fit: NaN or Inf in configuration")
	ErrBadResolution     = errors.New("fit: grid resolution must be positive")
	ErrBadEpsilon        = errors.New("fit: epsilon must be positive")
	ErrBadIterations     = errors.New("fit: max iterations must be positive")
	ErrBadThreshold      = errors.New("fit: confidence threshold must be positive")
	ErrGridTooLarge      = errors.New("fit: grid exceeds evaluation cap")
	ErrLengthMismatch    = errors.New("fit: x, y and uncertainty differ in length")
	ErrBadUncertainty    = errors.New("fit: uncertainty must be positive and finite")
	ErrStepLength        = errors.New("fit: step vector length differs from parameters")
	ErrNoFiniteObjective = errors.New("fit: objective is not finite anywhere on the grid")
	ErrNotFitted         = errors.New("fit: minimise has not completed")
)

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return e.Err.Error() + " (" + e.Field + ")"
	}
	return e.Err.Error() + " (" + e.Field + ": " + e.Reason + ")"
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
