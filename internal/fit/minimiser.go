package fit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// State tracks a Minimiser through one fit.
type State string

const (
	StateConfigured      State = "configured"
	StateGridSearched    State = "grid-searched"
	StateRefining        State = "refining"
	StateConverged       State = "converged"
	StateMaxIterations   State = "max-iterations"
	StateErrorsEstimated State = "errors-estimated"
)

// Config holds everything a fit needs. All fields except the hooks and the
// concurrency knobs are required; DefaultConfig supplies a starting point.
type Config struct {
	Objective ObjectiveFunc
	Model     ModelFunc
	Bounds    Bounds

	// Resolution is the number of grid cells per parameter axis.
	Resolution int
	// Epsilon ends refinement once two iterations differ by at most this.
	Epsilon float64
	// MaxIterations caps refinement.
	MaxIterations int
	// Threshold is the objective rise that bounds a confidence interval.
	Threshold float64
	// ScanPoints sets the confidence scan increment |p|/ScanPoints.
	ScanPoints int
	// MaxGridEvaluations rejects oversized grids up front (0 = no cap).
	MaxGridEvaluations int
	// Workers > 1 parallelises the grid search and confidence scans. The
	// objective and model must then be safe for concurrent use.
	Workers int

	// OnIteration, if set, is called after every refinement iteration.
	OnIteration func(IterationRecord)
}

// DefaultConfig returns the usual chi-squared settings. Model and Bounds are
// left empty.
func DefaultConfig() Config {
	return Config{
		Objective:          ChiSquared,
		Resolution:         50,
		Epsilon:            1e-7,
		MaxIterations:      10000,
		Threshold:          1,
		ScanPoints:         DefaultScanPoints,
		MaxGridEvaluations: 10_000_000,
		Workers:            1,
	}
}

// Validate reports the first precondition violation.
func (c Config) Validate() error {
	if c.Objective == nil {
		return &ConfigError{Field: "Objective", Err: ErrNoObjective}
	}
	if c.Model == nil {
		return &ConfigError{Field: "Model", Err: ErrNoModel}
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if c.Resolution <= 0 {
		return &ConfigError{Field: "Resolution", Reason: fmt.Sprintf("%d", c.Resolution), Err: ErrBadResolution}
	}
	if !(c.Epsilon > 0) || !isFinite(c.Epsilon) {
		return &ConfigError{Field: "Epsilon", Reason: fmt.Sprintf("%g", c.Epsilon), Err: ErrBadEpsilon}
	}
	if c.MaxIterations <= 0 {
		return &ConfigError{Field: "MaxIterations", Reason: fmt.Sprintf("%d", c.MaxIterations), Err: ErrBadIterations}
	}
	if !(c.Threshold > 0) || !isFinite(c.Threshold) {
		return &ConfigError{Field: "Threshold", Reason: fmt.Sprintf("%g", c.Threshold), Err: ErrBadThreshold}
	}
	if c.ScanPoints < 0 {
		return &ConfigError{Field: "ScanPoints", Reason: fmt.Sprintf("%d", c.ScanPoints), Err: ErrBadResolution}
	}
	cells, err := GridCells(c.Resolution, c.Bounds.Dim())
	if err != nil {
		return &ConfigError{Field: "Resolution", Err: err}
	}
	if c.MaxGridEvaluations > 0 && cells > c.MaxGridEvaluations {
		return &ConfigError{
			Field:  "Resolution",
			Reason: fmt.Sprintf("%d cells, cap %d", cells, c.MaxGridEvaluations),
			Err:    ErrGridTooLarge,
		}
	}
	return nil
}

// Result is the outcome of a fit.
type Result struct {
	Params        Params        `json:"params"`
	Objective     float64       `json:"objective"`
	Iterations    int           `json:"iterations"`
	Status        Status        `json:"status"`
	GridParams    Params        `json:"gridParams"`
	GridObjective float64       `json:"gridObjective"`
	Evaluations   int64         `json:"evaluations"`
	Steps         Params        `json:"steps"`
	Elapsed       time.Duration `json:"elapsed"`
	Intervals     []Interval    `json:"intervals,omitempty"`
}

// Minimiser fits a model to a dataset: a coarse grid search seeds a local
// neighbour refinement, and confidence intervals are scanned on demand.
// A Minimiser is not safe for concurrent use; independent fits need
// independent Minimisers.
type Minimiser struct {
	data    *Dataset
	cfg     Config
	state   State
	session *Session
	result  *Result
	evals   atomic.Int64
}

// NewMinimiser validates cfg against data. No search work happens here.
func NewMinimiser(data *Dataset, cfg Config) (*Minimiser, error) {
	if data == nil {
		return nil, &ConfigError{Field: "Dataset", Err: ErrNoData}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ScanPoints == 0 {
		cfg.ScanPoints = DefaultScanPoints
	}
	cfg.Bounds = NewBounds(cfg.Bounds.Lower, cfg.Bounds.Upper)
	return &Minimiser{
		data:  data,
		cfg:   cfg,
		state: StateConfigured,
	}, nil
}

// State returns the current lifecycle state.
func (m *Minimiser) State() State { return m.state }

// Dataset returns the dataset being fitted.
func (m *Minimiser) Dataset() *Dataset { return m.data }

// Config returns a copy of the configuration.
func (m *Minimiser) Config() Config { return m.cfg }

// Session returns the refinement session of the last fit, or nil.
func (m *Minimiser) Session() *Session { return m.session }

// Result returns the last fit, or nil before Minimise completes.
func (m *Minimiser) Result() *Result { return m.result }

// Evaluations returns how many times the objective has been evaluated.
func (m *Minimiser) Evaluations() int64 { return m.evals.Load() }

// Reset discards the session and result so the next Minimise starts fresh.
func (m *Minimiser) Reset() {
	m.session = nil
	m.result = nil
	m.evals.Store(0)
	m.state = StateConfigured
}

// Evaluate scores p with the configured objective and model.
func (m *Minimiser) Evaluate(p Params) float64 {
	m.evals.Add(1)
	return m.cfg.Objective(m.data, p, m.cfg.Model)
}

// Refiner returns a refiner wired to this Minimiser's objective and limits.
func (m *Minimiser) Refiner() *Refiner {
	return &Refiner{
		Eval:          m.Evaluate,
		MaxIterations: m.cfg.MaxIterations,
		Epsilon:       m.cfg.Epsilon,
	}
}

// Minimise runs grid search and refinement. Reaching MaxIterations is not an
// error; inspect Result.Status and Result.Objective.
func (m *Minimiser) Minimise(ctx context.Context) (*Result, error) {
	m.Reset()
	start := time.Now()
	b := m.cfg.Bounds

	grid, err := GridSearch(ctx, m.Evaluate, b, m.cfg.Resolution, GridOptions{
		MaxEvaluations: m.cfg.MaxGridEvaluations,
		Workers:        m.cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("grid search: %w", err)
	}
	m.state = StateGridSearched

	step := make(Params, b.Dim())
	for i := range step {
		step[i] = b.Width(i) / (2 * float64(m.cfg.Resolution))
	}
	session, err := NewSession(grid.Params, grid.Objective, step)
	if err != nil {
		return nil, err
	}
	m.session = session
	m.state = StateRefining

	status, err := m.Refiner().Run(ctx, session, m.cfg.OnIteration)
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}
	if status == StatusConverged {
		m.state = StateConverged
	} else {
		m.state = StateMaxIterations
	}

	m.result = &Result{
		Params:        session.Best(),
		Objective:     session.BestObjective(),
		Iterations:    session.Iterations(),
		Status:        status,
		GridParams:    grid.Params,
		GridObjective: grid.Objective,
		Evaluations:   m.evals.Load(),
		Steps:         session.Step(),
		Elapsed:       time.Since(start),
	}

	slog.Info("Fit complete",
		"dataset", m.data.Name(),
		"status", status,
		"objective", m.result.Objective,
		"iterations", m.result.Iterations,
		"evaluations", m.result.Evaluations,
		"elapsed", m.result.Elapsed,
	)
	return m.result, nil
}

// EstimateErrors scans a confidence interval for every fitted parameter and
// stores them on the result.
func (m *Minimiser) EstimateErrors(ctx context.Context) ([]Interval, error) {
	if m.result == nil {
		return nil, ErrNotFitted
	}
	b := m.cfg.Bounds
	floors := make(Params, b.Dim())
	for i := range floors {
		floors[i] = b.Width(i) / float64(m.cfg.ScanPoints*m.cfg.Resolution)
	}

	intervals, err := EstimateIntervals(ctx, m.Evaluate, m.result.Params, m.result.Objective, ScanOptions{
		Threshold:     m.cfg.Threshold,
		Points:        m.cfg.ScanPoints,
		MinIncrements: floors,
		Workers:       m.cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("confidence scan: %w", err)
	}
	m.result.Intervals = intervals
	m.result.Evaluations = m.evals.Load()
	m.state = StateErrorsEstimated

	for _, iv := range intervals {
		slog.Debug("Confidence interval", "index", iv.Index, "value", iv.Value, "minus", iv.Minus(), "plus", iv.Plus(), "truncated", iv.Truncated)
	}
	return intervals, nil
}

// Curve renders the fitted model over x as a zero-uncertainty dataset.
func (m *Minimiser) Curve(name string, x []float64) (*Dataset, error) {
	if m.result == nil {
		return nil, ErrNotFitted
	}
	return FromModel(name, x, m.result.Params, m.cfg.Model), nil
}
