package store

import (
	"math"
	"strconv"
	"time"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/fit"
)

// IntervalRecord is a confidence interval without its scan profile.
type IntervalRecord struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
	Minus     float64 `json:"minus"`
	Plus      float64 `json:"plus"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Record is the persisted outcome of one fit job.
type Record struct {
	JobID      string    `json:"jobId"`
	Dataset    string    `json:"dataset"`
	Points     int       `json:"points"`
	Model      string    `json:"model"`
	ParamNames []string  `json:"paramNames"`
	Params     []float64 `json:"params"`
	Objective  float64   `json:"objective"`
	// ReducedChiSquared is nil when there are no degrees of freedom.
	ReducedChiSquared *float64         `json:"reducedChiSquared,omitempty"`
	Status            fit.Status       `json:"status"`
	Iterations        int              `json:"iterations"`
	Evaluations       int64            `json:"evaluations"`
	ElapsedMS         int64            `json:"elapsedMs"`
	Intervals         []IntervalRecord `json:"intervals,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
	Config            config.FitConfig `json:"config"`
}

// RecordInfo is the listing summary of a Record.
type RecordInfo struct {
	JobID     string     `json:"jobId"`
	Dataset   string     `json:"dataset"`
	Model     string     `json:"model"`
	Objective float64    `json:"objective"`
	Status    fit.Status `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewRecord captures a finished fit. names labels the parameters; missing
// names fall back to p<i>.
func NewRecord(jobID string, cfg config.FitConfig, data *fit.Dataset, names []string, res *fit.Result) *Record {
	rec := &Record{
		JobID:       jobID,
		Dataset:     data.Name(),
		Points:      data.Len(),
		Model:       cfg.Model,
		ParamNames:  make([]string, len(res.Params)),
		Params:      append([]float64{}, res.Params...),
		Objective:   res.Objective,
		Status:      res.Status,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		ElapsedMS:   res.Elapsed.Milliseconds(),
		Timestamp:   time.Now(),
		Config:      cfg,
	}
	for i := range rec.ParamNames {
		rec.ParamNames[i] = paramName(names, i)
	}
	if red := fit.ReducedChiSquared(res.Objective, data.Len(), len(res.Params)); !math.IsInf(red, 0) && !math.IsNaN(red) {
		rec.ReducedChiSquared = &red
	}
	for _, iv := range res.Intervals {
		rec.Intervals = append(rec.Intervals, IntervalRecord{
			Index:     iv.Index,
			Name:      paramName(names, iv.Index),
			Value:     iv.Value,
			Lower:     iv.Lower,
			Upper:     iv.Upper,
			Minus:     iv.Minus(),
			Plus:      iv.Plus(),
			Truncated: iv.Truncated,
		})
	}
	return rec
}

func paramName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return "p" + strconv.Itoa(i)
}

// ToInfo converts a full Record to RecordInfo.
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		JobID:     r.JobID,
		Dataset:   r.Dataset,
		Model:     r.Model,
		Objective: r.Objective,
		Status:    r.Status,
		Timestamp: r.Timestamp,
	}
}

// Validate checks that the record is complete and JSON-encodable.
func (r *Record) Validate() error {
	if r.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if r.Model == "" {
		return &ValidationError{Field: "Model", Reason: "cannot be empty"}
	}
	if len(r.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if len(r.ParamNames) != len(r.Params) {
		return &ValidationError{Field: "ParamNames", Reason: "length must match Params"}
	}
	for _, p := range r.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return &ValidationError{Field: "Params", Reason: "must be finite"}
		}
	}
	if math.IsNaN(r.Objective) || math.IsInf(r.Objective, 0) || r.Objective < 0 {
		return &ValidationError{Field: "Objective", Reason: "must be finite and non-negative"}
	}
	if r.Iterations < 0 {
		return &ValidationError{Field: "Iterations", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
