package server

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(lineConfig(), lineData(t))

	before := testutil.ToFloat64(jobsTotal.WithLabelValues(string(StateCompleted)))

	if err := runJob(context.Background(), jm, nil, "", job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if updated.Phase != PhaseDone {
		t.Errorf("Phase should be done, got %s", updated.Phase)
	}
	if updated.FitStatus != fit.StatusConverged {
		t.Errorf("Fit should converge, got %s", updated.FitStatus)
	}
	if len(updated.Params) != 2 {
		t.Fatalf("Expected 2 params, got %d", len(updated.Params))
	}
	if math.Abs(updated.Params[0]-1.014) > 1e-3 || math.Abs(updated.Params[1]-1.996) > 1e-3 {
		t.Errorf("Unexpected params %v", updated.Params)
	}
	if updated.ParamNames[0] != "a" || updated.ParamNames[1] != "b" {
		t.Errorf("Unexpected param names %v", updated.ParamNames)
	}
	if updated.Iterations == 0 || updated.Evaluations < 2500 {
		t.Errorf("Expected iterations and evaluations to be set, got %d / %d", updated.Iterations, updated.Evaluations)
	}
	if updated.ReducedChiSquared == nil {
		t.Error("Reduced chi-squared should be set for 3 degrees of freedom")
	}
	if len(updated.Intervals) != 2 {
		t.Fatalf("Expected 2 intervals, got %d", len(updated.Intervals))
	}
	if math.Abs(updated.Intervals[1].Plus-0.0183) > 1e-3 {
		t.Errorf("Unexpected slope error %g", updated.Intervals[1].Plus)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	curve, err := jm.Curve(job.ID)
	if err != nil || curve == nil {
		t.Fatalf("Curve should be available: %v", err)
	}
	if curve.Len() != 200 {
		t.Errorf("Expected 200 curve points, got %d", curve.Len())
	}

	if got := testutil.ToFloat64(jobsTotal.WithLabelValues(string(StateCompleted))); got < before+1 {
		t.Errorf("Completed counter should increase, got %g from %g", got, before)
	}

	ev, ok := jm.broadcaster.LastEvent(job.ID)
	if !ok || ev.State != StateCompleted {
		t.Errorf("Final event should report completion, got %+v", ev)
	}
}

func TestRunJob_SavesResultAndTrace(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(lineConfig(), lineData(t))

	if err := runJob(context.Background(), jm, fsStore, fsStore.BaseDir(), job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}
	updated, _ := jm.GetJob(job.ID)

	rec, err := fsStore.LoadResult(job.ID)
	if err != nil {
		t.Fatalf("Result should be saved: %v", err)
	}
	if rec.Model != "linear" || rec.Dataset != "line" || rec.Points != 5 {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.Objective != updated.Objective {
		t.Errorf("Record objective %g differs from job %g", rec.Objective, updated.Objective)
	}
	if len(rec.Intervals) != 2 {
		t.Errorf("Expected 2 interval records, got %d", len(rec.Intervals))
	}

	tr, err := store.NewTraceReader(fsStore.BaseDir(), job.ID)
	if err != nil {
		t.Fatalf("Trace should exist: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != updated.Iterations {
		t.Errorf("Expected one trace entry per iteration (%d), got %d", updated.Iterations, len(entries))
	}
	if entries[len(entries)-1].Iteration != updated.Iterations {
		t.Errorf("Last trace entry should be iteration %d", updated.Iterations)
	}
}

func TestRunJob_NoIntervalsOrCurve(t *testing.T) {
	cfg := lineConfig()
	cfg.Intervals = false
	cfg.CurvePoints = 0

	jm := NewJobManager()
	job := jm.CreateJob(cfg, lineData(t))

	if err := runJob(context.Background(), jm, nil, "", job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if len(updated.Intervals) != 0 {
		t.Error("Intervals should not be estimated")
	}
	if curve, _ := jm.Curve(job.ID); curve != nil {
		t.Error("Curve should not be rendered")
	}
}

func TestRunJob_InvalidConfig(t *testing.T) {
	cfg := lineConfig()
	cfg.Model = "spline"

	jm := NewJobManager()
	job := jm.CreateJob(cfg, lineData(t))

	err := runJob(context.Background(), jm, nil, "", job.ID)
	if err == nil {
		t.Fatal("runJob should fail for an unknown model")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if !strings.Contains(updated.Error, "unknown model") {
		t.Errorf("Error should name the problem, got %q", updated.Error)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(lineConfig(), lineData(t))

	ctx, cancel := context.WithCancel(context.Background())
	jm.setCancel(job.ID, cancel)
	if err := jm.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel should succeed: %v", err)
	}

	err := runJob(ctx, jm, nil, "", job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	jm := NewJobManager()
	if err := runJob(context.Background(), jm, nil, "", "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestFinishWithError(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(lineConfig(), lineData(t))

	// A cancellation error without a cancelled context is a failure.
	finishWithError(context.Background(), jm, job.ID, context.Canceled)
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Expected failed, got %s", updated.State)
	}
}
