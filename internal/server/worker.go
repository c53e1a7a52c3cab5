package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/store"
)

// runJob executes a fit job. The result is saved to resultStore when it is
// not nil, and every refinement iteration is appended to a trace under
// traceDir when traceDir is not empty.
func runJob(ctx context.Context, jm *JobManager, resultStore store.Store, traceDir string, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	data := jm.dataset(jobID)

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	cfg := job.Config
	fitCfg, mdl, err := cfg.Build()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	names := make([]string, fitCfg.Bounds.Dim())
	for i := range names {
		names[i] = mdl.ParamName(i)
	}

	var trace *store.TraceWriter
	if traceDir != "" {
		trace, err = store.NewTraceWriter(traceDir, jobID, false)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
		}
	}
	closeTrace := func() {
		if trace == nil {
			return
		}
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
		}
		trace = nil
	}
	defer closeTrace()

	fitCfg.OnIteration = func(rec fit.IterationRecord) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Phase = PhaseRefine
			j.Iterations = rec.Iteration
			if !math.IsInf(rec.Best, 0) && !math.IsNaN(rec.Best) {
				j.Objective = rec.Best
			}
			j.Params = append(j.Params[:0], rec.Center...)
		})
		if trace != nil {
			if err := trace.WriteIteration(rec); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	m, err := fit.NewMinimiser(data, fitCfg)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Phase = PhaseGrid
		j.ParamNames = names
	})
	jobsRunning.Inc()
	defer jobsRunning.Dec()

	slog.Info("Starting job", "job_id", jobID, "dataset", data.Name(), "model", mdl.Name, "params", len(names))

	start := time.Now()
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)
	defer close(progressDone)

	res, err := m.Minimise(ctx)
	objectiveEvaluations.Add(float64(m.Evaluations()))
	if err != nil {
		return finishWithError(ctx, jm, jobID, err)
	}

	if cfg.Intervals {
		jm.UpdateJob(jobID, func(j *Job) { j.Phase = PhaseIntervals })
		before := m.Evaluations()
		if _, err := m.EstimateErrors(ctx); err != nil {
			return finishWithError(ctx, jm, jobID, err)
		}
		objectiveEvaluations.Add(float64(m.Evaluations() - before))
	}

	var curve *fit.Dataset
	if cfg.CurvePoints > 0 {
		curve, err = m.Curve(data.Name()+"-fit", fit.SmoothX(data.X(), cfg.CurvePoints))
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
	}

	closeTrace()

	rec := store.NewRecord(jobID, cfg, data, names, m.Result())
	if resultStore != nil {
		if err := resultStore.SaveResult(rec); err != nil {
			slog.Error("Failed to save result", "job_id", jobID, "error", err)
		}
	}

	elapsed := time.Since(start)
	endTime := time.Now()
	var final *Job
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Phase = PhaseDone
		j.Params = rec.Params
		j.Objective = rec.Objective
		j.ReducedChiSquared = rec.ReducedChiSquared
		j.FitStatus = rec.Status
		j.Iterations = rec.Iterations
		j.Evaluations = rec.Evaluations
		j.Intervals = rec.Intervals
		j.EndTime = &endTime
		j.curve = curve
		final = j.snapshot()
	})
	if err != nil {
		return err
	}

	recordFinished(StateCompleted)
	fitDuration.WithLabelValues(mdl.Name).Observe(elapsed.Seconds())
	fitIterations.Observe(float64(res.Iterations))

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"status", res.Status,
		"objective", res.Objective,
		"iterations", res.Iterations,
		"evaluations", m.Evaluations(),
	)

	jm.broadcaster.Broadcast(newProgressEvent(final))
	return nil
}

// finishWithError marks the job cancelled when ctx ended, failed otherwise.
func finishWithError(ctx context.Context, jm *JobManager, jobID string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		markJobCancelled(jm, jobID)
		return err
	}
	markJobFailed(jm, jobID, err)
	return err
}

// monitorProgress periodically broadcasts progress events during the fit
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(newProgressEvent(job))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var final *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		final = j.snapshot()
	})
	recordFinished(StateFailed)
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if final != nil {
		jm.broadcaster.Broadcast(newProgressEvent(final))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	var final *Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		final = j.snapshot()
	})
	recordFinished(StateCancelled)
	slog.Info("Job cancelled", "job_id", jobID)
	if final != nil {
		jm.broadcaster.Broadcast(newProgressEvent(final))
	}
}
