package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/dataio"
	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/model"
	"github.com/cwbudde/chisqfit/internal/store"
)

var (
	fitOpts     fitFlags
	noIntervals bool
	curvePath   string
	curvePoints int
	scanDir     string
	saveDir     string
	jsonOutput  bool
)

var fitCmd = &cobra.Command{
	Use:   "fit [data-file]",
	Short: "Fit a model to a data file",
	Long: `Fits a model to whitespace-separated "x y e" data. The job comes from
--job and/or flags; flags override the job file. Prints the fitted
parameters with their confidence intervals.`,
	Example: `  chisqfit fit line.dat --model linear --lower -5,-5 --upper 5,5
  chisqfit fit --job gauss.yaml --curve gauss-fit.tsv --save-dir ./data`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFitCommand,
}

func init() {
	fitOpts.register(fitCmd)
	fitCmd.Flags().BoolVar(&noIntervals, "no-intervals", false, "Skip confidence interval estimation")
	fitCmd.Flags().StringVar(&curvePath, "curve", "", "Write the fitted curve as TSV to this path")
	fitCmd.Flags().IntVar(&curvePoints, "curve-points", config.Default().CurvePoints, "Samples in the fitted curve")
	fitCmd.Flags().StringVar(&scanDir, "scan-dir", "", "Write each confidence scan profile as TSV into this directory")
	fitCmd.Flags().StringVar(&saveDir, "save-dir", "", "Save the result record under this data directory")
	fitCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result record as JSON")
	rootCmd.AddCommand(fitCmd)
}

func runFitCommand(cmd *cobra.Command, args []string) error {
	cfg, data, err := fitOpts.resolve(cmd, args)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("no-intervals") {
		cfg.Intervals = !noIntervals
	}
	if cmd.Flags().Changed("curve-points") {
		cfg.CurvePoints = curvePoints
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	run, err := executeFit(ctx, cfg, data)
	if err != nil {
		return err
	}

	if curvePath != "" {
		if err := writeCurveFile(curvePath, run, cfg.CurvePoints); err != nil {
			return err
		}
	}
	if scanDir != "" {
		if err := writeScanFiles(scanDir, run); err != nil {
			return err
		}
	}
	if saveDir != "" {
		fsStore, err := store.NewFSStore(saveDir)
		if err != nil {
			return fmt.Errorf("failed to create result store: %w", err)
		}
		if err := fsStore.SaveResult(run.record); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		slog.Info("Result saved", "job_id", run.record.JobID, "dir", saveDir)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run.record)
	}
	printRecord(out, run.record, run.model)
	return nil
}

// fitRun is a finished fit with everything needed to report it.
type fitRun struct {
	record    *store.Record
	model     model.Model
	minimiser *fit.Minimiser
	data      *fit.Dataset
}

// executeFit minimises and, if requested, estimates confidence intervals.
func executeFit(ctx context.Context, cfg *config.FitConfig, data *fit.Dataset) (*fitRun, error) {
	fitCfg, mdl, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	m, err := fit.NewMinimiser(data, fitCfg)
	if err != nil {
		return nil, err
	}
	if _, err := m.Minimise(ctx); err != nil {
		return nil, err
	}
	if cfg.Intervals {
		if _, err := m.EstimateErrors(ctx); err != nil {
			return nil, err
		}
	}

	names := make([]string, fitCfg.Bounds.Dim())
	for i := range names {
		names[i] = mdl.ParamName(i)
	}
	return &fitRun{
		record:    store.NewRecord(uuid.New().String(), *cfg, data, names, m.Result()),
		model:     mdl,
		minimiser: m,
		data:      data,
	}, nil
}

func printRecord(w io.Writer, rec *store.Record, mdl model.Model) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "dataset\t%s (%d points)\n", rec.Dataset, rec.Points)
	fmt.Fprintf(tw, "model\t%s: y = %s\n", mdl.Name, mdl.Formula)
	if rec.ReducedChiSquared != nil {
		fmt.Fprintf(tw, "objective\t%s = %.6g (reduced %.6g)\n", rec.Config.Objective, rec.Objective, *rec.ReducedChiSquared)
	} else {
		fmt.Fprintf(tw, "objective\t%s = %.6g\n", rec.Config.Objective, rec.Objective)
	}
	fmt.Fprintf(tw, "status\t%s after %d iterations, %d evaluations\n", rec.Status, rec.Iterations, rec.Evaluations)
	tw.Flush()
	fmt.Fprintln(w)

	truncated := false
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(rec.Intervals) == 0 {
		fmt.Fprintln(tw, "PARAM\tVALUE")
		for i, p := range rec.Params {
			fmt.Fprintf(tw, "%s\t%.6g\n", rec.ParamNames[i], p)
		}
	} else {
		fmt.Fprintln(tw, "PARAM\tVALUE\tMINUS\tPLUS\t")
		for _, iv := range rec.Intervals {
			mark := ""
			if iv.Truncated {
				mark = "*"
				truncated = true
			}
			fmt.Fprintf(tw, "%s\t%.6g\t%.3g\t%.3g\t%s\n", iv.Name, iv.Value, iv.Minus, iv.Plus, mark)
		}
	}
	tw.Flush()
	if truncated {
		fmt.Fprintln(w, "\n* scan stopped before reaching the threshold; the interval is a lower bound")
	}
}

func writeCurveFile(path string, run *fitRun, points int) error {
	if points <= 0 {
		points = config.Default().CurvePoints
	}
	curve, err := run.minimiser.Curve(run.data.Name()+"-fit", fit.SmoothX(run.data.X(), points))
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create curve file: %w", err)
	}
	defer f.Close()

	if err := dataio.WriteCurve(f, curve); err != nil {
		return fmt.Errorf("failed to write curve: %w", err)
	}
	slog.Info("Curve written", "path", path, "points", points)
	return f.Close()
}

func writeScanFiles(dir string, run *fitRun) error {
	intervals := run.minimiser.Result().Intervals
	if len(intervals) == 0 {
		return fmt.Errorf("no confidence scans to write; intervals were disabled")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create scan directory: %w", err)
	}

	for _, iv := range intervals {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.tsv", run.data.Name(), run.model.ParamName(iv.Index)))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create scan file: %w", err)
		}
		if err := dataio.WriteScan(f, iv); err != nil {
			f.Close()
			return fmt.Errorf("failed to write scan: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	slog.Info("Scan profiles written", "dir", dir, "count", len(intervals))
	return nil
}
