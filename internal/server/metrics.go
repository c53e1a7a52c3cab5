package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs by terminal state.
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chisqfit_jobs_total",
		Help: "Total fit jobs finished, by terminal state",
	}, []string{"state"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chisqfit_jobs_running",
		Help: "Fit jobs currently running",
	})

	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chisqfit_fit_duration_seconds",
		Help:    "Wall time of completed fits, by model",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"model"})

	fitIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chisqfit_fit_iterations",
		Help:    "Refinement iterations per completed fit",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15),
	})

	objectiveEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chisqfit_objective_evaluations_total",
		Help: "Objective evaluations across all fits",
	})

	sseClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chisqfit_sse_clients",
		Help: "Connected progress stream clients",
	})
)

// recordFinished updates the job counters once a job reaches a terminal state.
func recordFinished(state JobState) {
	jobsTotal.WithLabelValues(string(state)).Inc()
}
