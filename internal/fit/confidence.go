package fit

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultScanPoints divides the fitted value into scan increments.
	DefaultScanPoints = 1000
	// DefaultStopFactor stops a scan once the objective exceeds
	// minimum + DefaultStopFactor*threshold.
	DefaultStopFactor = 8.0
	// DefaultMaxScanSteps caps the probes taken on one side of a scan.
	DefaultMaxScanSteps = 1_000_000
	// fallbackIncrement is used when both |p|/points and the floor are zero.
	fallbackIncrement = 1e-6
)

// ScanOptions configures confidence interval extraction.
type ScanOptions struct {
	// Threshold is the objective rise that defines the interval edge
	// (1 for a one-sigma chi-squared interval).
	Threshold float64
	// Points sets the increment |p|/Points.
	Points int
	// MinIncrements is a per-parameter floor for the increment. It keeps the
	// scan moving when the fitted value is zero or tiny.
	MinIncrements Params
	// StopFactor multiplies Threshold to give the stopping rise.
	StopFactor float64
	// MaxSteps caps the probes per side.
	MaxSteps int
	// Workers > 1 scans parameters and sides concurrently.
	Workers int
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.Points <= 0 {
		o.Points = DefaultScanPoints
	}
	if o.StopFactor <= 0 {
		o.StopFactor = DefaultStopFactor
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxScanSteps
	}
	return o
}

// ScanPoint is one probe of a confidence scan.
type ScanPoint struct {
	Value     float64 `json:"value"`
	Objective float64 `json:"objective"`
}

// Interval is the confidence interval of one parameter, found by moving that
// parameter alone away from the fit until the objective rises by Threshold.
type Interval struct {
	Index     int         `json:"index"`
	Value     float64     `json:"value"`
	Lower     float64     `json:"lower"`
	Upper     float64     `json:"upper"`
	Minimum   float64     `json:"minimum"`
	Threshold float64     `json:"threshold"`
	Increment float64     `json:"increment"`
	Truncated bool        `json:"truncated,omitempty"`
	Scan      []ScanPoint `json:"scan,omitempty"`
}

// Minus is the distance from the fitted value down to the lower edge.
func (iv Interval) Minus() float64 { return iv.Value - iv.Lower }

// Plus is the distance from the fitted value up to the upper edge.
func (iv Interval) Plus() float64 { return iv.Upper - iv.Value }

// HalfWidth averages Minus and Plus.
func (iv Interval) HalfWidth() float64 { return (iv.Upper - iv.Lower) / 2 }

func (iv Interval) String() string {
	return fmt.Sprintf("p[%d] = %g -%g/+%g", iv.Index, iv.Value, iv.Minus(), iv.Plus())
}

// EstimateInterval scans parameter index of fitted on both sides.
func EstimateInterval(ctx context.Context, eval func(Params) float64, fitted Params, minimum float64, index int, opts ScanOptions) (Interval, error) {
	if index < 0 || index >= len(fitted) {
		return Interval{}, fmt.Errorf("fit: interval index %d out of range [0,%d)", index, len(fitted))
	}
	if !(opts.Threshold > 0) || !isFinite(opts.Threshold) {
		return Interval{}, &ConfigError{Field: "Threshold", Reason: fmt.Sprintf("%g", opts.Threshold), Err: ErrBadThreshold}
	}
	opts = opts.withDefaults()

	plan := newScanPlan(fitted, minimum, index, opts)
	var sides [2]sideResult
	for s, sign := range []float64{-1, 1} {
		res, err := plan.scan(ctx, eval, sign)
		if err != nil {
			return Interval{}, err
		}
		sides[s] = res
	}
	return plan.interval(sides), nil
}

// EstimateIntervals scans every parameter of fitted independently.
func EstimateIntervals(ctx context.Context, eval func(Params) float64, fitted Params, minimum float64, opts ScanOptions) ([]Interval, error) {
	if opts.Workers <= 1 {
		out := make([]Interval, len(fitted))
		for i := range fitted {
			iv, err := EstimateInterval(ctx, eval, fitted, minimum, i, opts)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	}

	if !(opts.Threshold > 0) || !isFinite(opts.Threshold) {
		return nil, &ConfigError{Field: "Threshold", Reason: fmt.Sprintf("%g", opts.Threshold), Err: ErrBadThreshold}
	}
	opts = opts.withDefaults()

	plans := make([]*scanPlan, len(fitted))
	sides := make([][2]sideResult, len(fitted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range fitted {
		plans[i] = newScanPlan(fitted, minimum, i, opts)
		for s, sign := range []float64{-1, 1} {
			g.Go(func() error {
				res, err := plans[i].scan(gctx, eval, sign)
				sides[i][s] = res
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Interval, len(fitted))
	for i, p := range plans {
		out[i] = p.interval(sides[i])
	}
	return out, nil
}

type scanPlan struct {
	fitted    Params
	index     int
	minimum   float64
	threshold float64
	target    float64
	stop      float64
	increment float64
	maxSteps  int
}

func newScanPlan(fitted Params, minimum float64, index int, opts ScanOptions) *scanPlan {
	inc := math.Abs(fitted[index]) / float64(opts.Points)
	if index < len(opts.MinIncrements) && inc < opts.MinIncrements[index] {
		inc = opts.MinIncrements[index]
	}
	if !(inc > 0) || !isFinite(inc) {
		inc = fallbackIncrement
	}
	return &scanPlan{
		fitted:    fitted,
		index:     index,
		minimum:   minimum,
		threshold: opts.Threshold,
		target:    minimum + opts.Threshold,
		stop:      minimum + opts.StopFactor*opts.Threshold,
		increment: inc,
		maxSteps:  opts.MaxSteps,
	}
}

type sideResult struct {
	bound     float64
	points    []ScanPoint
	truncated bool
}

// scan walks one side and records the probe closest to the target objective.
func (sp *scanPlan) scan(ctx context.Context, eval func(Params) float64, sign float64) (sideResult, error) {
	probe := sp.fitted.Clone()
	center := sp.fitted[sp.index]
	res := sideResult{bound: center, truncated: true}
	nearest := math.Inf(1)

	for step := 1; step <= sp.maxSteps; step++ {
		if step%ctxPollInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		probe[sp.index] = center + sign*float64(step)*sp.increment
		v := eval(probe)
		if !isFinite(v) {
			break
		}
		res.points = append(res.points, ScanPoint{Value: probe[sp.index], Objective: v})
		if d := math.Abs(v - sp.target); d < nearest {
			nearest = d
			res.bound = probe[sp.index]
		}
		if v > sp.stop {
			res.truncated = false
			break
		}
	}
	return res, nil
}

func (sp *scanPlan) interval(sides [2]sideResult) Interval {
	lower, upper := sides[0], sides[1]
	scan := make([]ScanPoint, 0, len(lower.points)+len(upper.points)+1)
	scan = append(scan, lower.points...)
	scan = append(scan, ScanPoint{Value: sp.fitted[sp.index], Objective: sp.minimum})
	scan = append(scan, upper.points...)
	sort.Slice(scan, func(a, b int) bool { return scan[a].Value < scan[b].Value })

	return Interval{
		Index:     sp.index,
		Value:     sp.fitted[sp.index],
		Lower:     lower.bound,
		Upper:     upper.bound,
		Minimum:   sp.minimum,
		Threshold: sp.threshold,
		Increment: sp.increment,
		Truncated: lower.truncated || upper.truncated,
		Scan:      scan,
	}
}
