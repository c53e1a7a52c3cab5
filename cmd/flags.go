package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/dataio"
	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/model"
)

// fitFlags are the job options shared by fit and compare. Flags that were
// set on the command line override the job file.
type fitFlags struct {
	job           string
	model         string
	objective     string
	lower         []float64
	upper         []float64
	resolution    int
	epsilon       float64
	maxIterations int
	threshold     float64
	scanPoints    int
	workers       int
	sigma         float64
}

func (f *fitFlags) register(cmd *cobra.Command) {
	d := config.Default()
	fl := cmd.Flags()
	fl.StringVar(&f.job, "job", "", "YAML fit job file")
	fl.StringVar(&f.model, "model", "", "Model: "+strings.Join(model.Names(), ", "))
	fl.StringVar(&f.objective, "objective", d.Objective, "Objective: chisq or sumsquares")
	fl.Float64SliceVar(&f.lower, "lower", nil, "Lower grid bound per parameter, comma separated")
	fl.Float64SliceVar(&f.upper, "upper", nil, "Upper grid bound per parameter, comma separated")
	fl.IntVar(&f.resolution, "resolution", d.Resolution, "Grid cells per parameter")
	fl.Float64Var(&f.epsilon, "epsilon", d.Epsilon, "Convergence threshold between iterations")
	fl.IntVar(&f.maxIterations, "max-iterations", d.MaxIterations, "Refinement iteration cap")
	fl.Float64Var(&f.threshold, "threshold", d.Threshold, "Objective rise bounding a confidence interval")
	fl.IntVar(&f.scanPoints, "scan-points", d.ScanPoints, "Confidence scan increment divisor")
	fl.IntVar(&f.workers, "workers", d.Workers, "Parallel workers for grid and confidence scans")
	fl.Float64Var(&f.sigma, "sigma", 0, "Uncertainty for data files with only x and y")
}

// resolve builds the job from the job file and changed flags, validates it,
// and reads the dataset named by args[0] or the job's data field.
func (f *fitFlags) resolve(cmd *cobra.Command, args []string) (*config.FitConfig, *fit.Dataset, error) {
	cfg := config.Default()
	if f.job != "" {
		loaded, err := config.Read(f.job)
		if err != nil {
			return nil, nil, err
		}
		cfg = *loaded
		if cfg.Data != "" && !filepath.IsAbs(cfg.Data) {
			cfg.Data = filepath.Join(filepath.Dir(f.job), cfg.Data)
		}
	}

	fl := cmd.Flags()
	if fl.Changed("model") {
		cfg.Model = f.model
	}
	if fl.Changed("objective") {
		cfg.Objective = f.objective
	}
	if fl.Changed("lower") {
		cfg.Lower = f.lower
	}
	if fl.Changed("upper") {
		cfg.Upper = f.upper
	}
	if fl.Changed("resolution") {
		cfg.Resolution = f.resolution
	}
	if fl.Changed("epsilon") {
		cfg.Epsilon = f.epsilon
	}
	if fl.Changed("max-iterations") {
		cfg.MaxIterations = f.maxIterations
	}
	if fl.Changed("threshold") {
		cfg.Threshold = f.threshold
	}
	if fl.Changed("scan-points") {
		cfg.ScanPoints = f.scanPoints
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("sigma") {
		cfg.DefaultUncertainty = f.sigma
	}
	if len(args) > 0 {
		cfg.Data = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Data == "" {
		return nil, nil, fmt.Errorf("no data file: pass one as an argument or set data in the job file")
	}

	data, err := dataio.ReadFile(cfg.Data, dataio.Options{DefaultUncertainty: cfg.DefaultUncertainty})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Name == "" {
		cfg.Name = data.Name()
	}
	return &cfg, data, nil
}
