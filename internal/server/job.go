package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Phase is the step of the fit a running job is in.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseGrid      Phase = "grid"
	PhaseRefine    Phase = "refine"
	PhaseIntervals Phase = "intervals"
	PhaseDone      Phase = "done"
)

var (
	ErrJobNotFound = errors.New("server: job not found")
	ErrJobFinished = errors.New("server: job already finished")
)

// Job represents a fit job
type Job struct {
	ID      string           `json:"id"`
	State   JobState         `json:"state"`
	Phase   Phase            `json:"phase"`
	Config  config.FitConfig `json:"config"`
	Dataset string           `json:"dataset"`
	Points  int              `json:"points"`

	ParamNames []string  `json:"paramNames,omitempty"`
	Params     []float64 `json:"params,omitempty"`
	// Objective is the best value seen so far; zero until the grid search ends.
	Objective         float64                `json:"objective"`
	ReducedChiSquared *float64               `json:"reducedChiSquared,omitempty"`
	FitStatus         fit.Status             `json:"fitStatus,omitempty"`
	Iterations        int                    `json:"iterations"`
	Evaluations       int64                  `json:"evaluations"`
	Intervals         []store.IntervalRecord `json:"intervals,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	data   *fit.Dataset
	curve  *fit.Dataset
	cancel context.CancelFunc
}

// Finished reports whether the job has reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// Elapsed is the run time so far, or the total once finished.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// snapshot copies the job so callers can read it without holding the lock.
func (j *Job) snapshot() *Job {
	c := *j
	c.ParamNames = append([]string(nil), j.ParamNames...)
	c.Params = append([]float64(nil), j.Params...)
	c.Intervals = append([]store.IntervalRecord(nil), j.Intervals...)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	if j.ReducedChiSquared != nil {
		red := *j.ReducedChiSquared
		c.ReducedChiSquared = &red
	}
	c.cancel = nil
	return &c
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for the dataset.
func (jm *JobManager) CreateJob(cfg config.FitConfig, data *fit.Dataset) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Phase:     PhaseQueued,
		Config:    cfg,
		Dataset:   data.Name(),
		Points:    data.Len(),
		StartTime: time.Now(),
		data:      data,
	}

	jm.jobs[job.ID] = job
	return job.snapshot()
}

// GetJob returns a copy of the job.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].StartTime.Equal(jobs[b].StartTime) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].StartTime.Before(jobs[b].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// Curve returns the fitted curve of a completed job.
func (jm *JobManager) Curve(id string) (*fit.Dataset, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.curve, nil
}

func (jm *JobManager) dataset(id string) *fit.Dataset {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	if job, exists := jm.jobs[id]; exists {
		return job.data
	}
	return nil
}

// setCancel records the function that stops the job's worker.
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.UpdateJob(id, func(j *Job) { j.cancel = cancel })
}

// Cancel stops a pending or running job.
func (jm *JobManager) Cancel(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Finished() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.State)
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// Remove forgets a finished job.
func (jm *JobManager) Remove(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.Finished() {
		return fmt.Errorf("server: job %s is still %s", id, job.State)
	}
	delete(jm.jobs, id)
	jm.broadcaster.CleanupJob(id)
	return nil
}
