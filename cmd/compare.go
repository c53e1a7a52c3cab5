package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/linfit"
	"github.com/cwbudde/chisqfit/internal/model"
	"github.com/cwbudde/chisqfit/internal/opt"
)

var (
	compareOpts  fitFlags
	swarmIters   int
	swarmPop     int
	swarmSeed    int64
	simplexEvals int
)

var compareCmd = &cobra.Command{
	Use:   "compare [data-file]",
	Short: "Compare the native fit against other optimizers",
	Long: `Runs the same objective through the native grid and refinement engine,
the Mayfly swarm optimizer, and a Nelder-Mead simplex, all inside the job's
bounds. Polynomial models are also solved in closed form.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompare,
}

func init() {
	compareOpts.register(compareCmd)
	compareCmd.Flags().IntVar(&swarmIters, "iters", 200, "Mayfly iterations")
	compareCmd.Flags().IntVar(&swarmPop, "pop", 30, "Mayfly population size (at least 20)")
	compareCmd.Flags().Int64Var(&swarmSeed, "seed", 42, "Mayfly random seed")
	compareCmd.Flags().IntVar(&simplexEvals, "evals", 20000, "Nelder-Mead evaluation budget")
	rootCmd.AddCommand(compareCmd)
}

// comparison is one optimizer's outcome on the shared objective.
type comparison struct {
	Name        string
	Params      []float64
	Objective   float64
	Evaluations int64
	Elapsed     time.Duration
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, data, err := compareOpts.resolve(cmd, args)
	if err != nil {
		return err
	}

	optimizers := []opt.Optimizer{
		opt.NewNative(cfg.Resolution, cfg.MaxIterations, cfg.Epsilon),
		opt.NewMayfly(swarmIters, swarmPop, swarmSeed),
		opt.NewNelderMead(simplexEvals, cfg.Epsilon),
	}
	results, err := compareOptimizers(cfg, data, optimizers)
	if err != nil {
		return err
	}
	printComparison(cmd.OutOrStdout(), results)
	return nil
}

// compareOptimizers runs each optimizer on the job's objective and appends the
// closed-form solution for chi-squared polynomial fits.
func compareOptimizers(cfg *config.FitConfig, data *fit.Dataset, optimizers []opt.Optimizer) ([]comparison, error) {
	fitCfg, mdl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	objective := func(p []float64) float64 {
		return fitCfg.Objective(data, p, fitCfg.Model)
	}
	dim := fitCfg.Bounds.Dim()

	results := make([]comparison, 0, len(optimizers)+1)
	for _, o := range optimizers {
		counter := opt.NewCounter(objective)
		start := time.Now()
		params, cost := o.Run(counter.Eval, fitCfg.Bounds.Lower, fitCfg.Bounds.Upper, dim)
		results = append(results, comparison{
			Name:        o.Name(),
			Params:      params,
			Objective:   cost,
			Evaluations: counter.Count(),
			Elapsed:     time.Since(start),
		})
		slog.Info("Optimizer finished", "optimizer", o.Name(), "objective", cost, "evaluations", counter.Count())
	}

	if model.IsPolynomial(mdl) && isChiSquared(cfg.Objective) {
		start := time.Now()
		sol, err := linfit.Polynomial(data, dim)
		if err != nil {
			slog.Warn("Closed-form fit failed", "error", err)
		} else {
			results = append(results, comparison{
				Name:      "closed-form",
				Params:    sol.Params,
				Objective: sol.ChiSquared,
				Elapsed:   time.Since(start),
			})
		}
	}
	return results, nil
}

func isChiSquared(name string) bool {
	return name == "chisq" || name == "chi2"
}

func printComparison(w io.Writer, results []comparison) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPTIMIZER\tOBJECTIVE\tEVALS\tTIME\tPARAMS")
	for _, r := range results {
		params := make([]string, len(r.Params))
		for i, p := range r.Params {
			params[i] = fmt.Sprintf("%.6g", p)
		}
		evals := "-"
		if r.Evaluations > 0 {
			evals = fmt.Sprintf("%d", r.Evaluations)
		}
		fmt.Fprintf(tw, "%s\t%.6g\t%s\t%s\t%s\n", r.Name, r.Objective, evals, r.Elapsed.Round(time.Microsecond), strings.Join(params, " "))
	}
	tw.Flush()
}
