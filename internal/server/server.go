package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/chisqfit/internal/config"
	"github.com/cwbudde/chisqfit/internal/dataio"
	"github.com/cwbudde/chisqfit/internal/fit"
	"github.com/cwbudde/chisqfit/internal/model"
	"github.com/cwbudde/chisqfit/internal/store"
)

// maxRequestBytes bounds a submitted fit request.
const maxRequestBytes = 8 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	traceDir   string
	addr       string
	server     *http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewServer creates a new HTTP server. resultStore may be nil, in which case
// finished fits live only in memory. Iteration traces are written when the
// store is file backed.
func NewServer(addr string, resultStore store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		store:      resultStore,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
	if fs, ok := resultStore.(*store.FSStore); ok {
		s.traceDir = fs.BaseDir()
	}
	return s
}

// FitRequest is the body of POST /api/v1/fits. Points come either as x/y/e
// arrays or as a whitespace-separated table in the data file format.
type FitRequest struct {
	Config config.FitConfig `json:"config" validate:"-"`
	Name   string           `json:"name,omitempty"`
	X      []float64        `json:"x,omitempty" validate:"required_without=Table,dive,finite"`
	Y      []float64        `json:"y,omitempty" validate:"required_with=X,dive,finite"`
	E      []float64        `json:"e,omitempty" validate:"omitempty,dive,gt=0,finite"`
	Table  string           `json:"table,omitempty"`
}

// dataset builds the request's points, applying the job's default
// uncertainty when none is given.
func (req *FitRequest) dataset() (*fit.Dataset, error) {
	name := req.Name
	if name == "" {
		name = "request"
	}
	opts := dataio.Options{DefaultUncertainty: req.Config.DefaultUncertainty}
	if req.Table != "" {
		return dataio.Read(strings.NewReader(req.Table), name, opts)
	}
	e := req.E
	if e == nil && opts.DefaultUncertainty > 0 {
		e = make([]float64, len(req.X))
		for i := range e {
			e[i] = opts.DefaultUncertainty
		}
	}
	return fit.NewDataset(name, req.X, req.Y, e)
}

// StatusResponse is a job plus its elapsed time in seconds.
type StatusResponse struct {
	*Job
	Elapsed float64 `json:"elapsed"`
}

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name    string   `json:"name"`
	Formula string   `json:"formula"`
	Params  []string `json:"params,omitempty"`
}

// Handler builds the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/fits", s.handleFits)
	mux.HandleFunc("/api/v1/fits/", s.handleFitsWithID)
	mux.HandleFunc("/api/v1/results", s.handleResults)
	mux.HandleFunc("/api/v1/results/", s.handleResultWithID)
	mux.HandleFunc("/api/v1/models", s.handleModels)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Submit validates a request and starts its job in the background.
func (s *Server) Submit(req *FitRequest) (*Job, error) {
	if err := config.Validator().Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if _, _, err := req.Config.Build(); err != nil {
		return nil, err
	}
	data, err := req.dataset()
	if err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, fmt.Errorf("%w: no data points", config.ErrInvalid)
	}

	job := s.jobManager.CreateJob(req.Config, data)

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.setCancel(job.ID, cancel)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer cancel()
		runJob(ctx, s.jobManager, s.store, s.traceDir, job.ID)
	}()
	return job, nil
}

// handleFits handles /api/v1/fits
func (s *Server) handleFits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateFit(w, r)
	case http.MethodGet:
		s.handleListFits(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFitsWithID handles /api/v1/fits/:id/*
func (s *Server) handleFitsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/fits/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		s.handleDeleteFit(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetFitStatus(w, r, jobID)
		return
	}
	switch parts[1] {
	case "events":
		s.handleJobStream(w, r, jobID)
	case "curve":
		s.handleGetCurve(w, r, jobID)
	case "intervals":
		s.handleGetIntervals(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateFit handles POST /api/v1/fits
func (s *Server) handleCreateFit(w http.ResponseWriter, r *http.Request) {
	req := FitRequest{Config: config.Default()}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	job, err := s.Submit(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// handleListFits handles GET /api/v1/fits
func (s *Server) handleListFits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetFitStatus handles GET /api/v1/fits/:id/status
func (s *Server) handleGetFitStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Job: job, Elapsed: job.Elapsed().Seconds()})
}

// handleDeleteFit cancels a live job or forgets a finished one.
func (s *Server) handleDeleteFit(w http.ResponseWriter, r *http.Request, jobID string) {
	err := s.jobManager.Cancel(jobID)
	if errors.Is(err, ErrJobFinished) {
		err = s.jobManager.Remove(jobID)
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetCurve handles GET /api/v1/fits/:id/curve as tab-separated x, y.
func (s *Server) handleGetCurve(w http.ResponseWriter, r *http.Request, jobID string) {
	curve, err := s.jobManager.Curve(jobID)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if curve == nil {
		http.Error(w, "No curve yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/tab-separated-values")
	w.Header().Set("Cache-Control", "no-cache")
	if err := dataio.WriteCurve(w, curve); err != nil {
		slog.Error("Failed to write curve", "job_id", jobID, "error", err)
	}
}

// handleGetIntervals handles GET /api/v1/fits/:id/intervals
func (s *Server) handleGetIntervals(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted {
		http.Error(w, fmt.Sprintf("Job is %s", job.State), http.StatusConflict)
		return
	}
	if !job.Config.Intervals {
		http.Error(w, "Intervals were not requested", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Intervals)
}

// handleGetTrace handles GET /api/v1/fits/:id/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if s.traceDir == "" {
		http.Error(w, "Tracing disabled", http.StatusNotFound)
		return
	}

	tr, err := store.NewTraceReader(s.traceDir, jobID)
	if err != nil {
		http.Error(w, "No trace", http.StatusNotFound)
		return
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleResults handles GET /api/v1/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RecordInfo{})
		return
	}
	infos, err := s.store.ListResults()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleResultWithID handles /api/v1/results/:id
func (s *Server) handleResultWithID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/results/"), "/")
	if jobID == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		http.Error(w, "Result not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.LoadResult(jobID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Result not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		err := s.store.DeleteResult(jobID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Result not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleModels handles GET /api/v1/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names := model.Names()
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		m, err := model.Lookup(name)
		if err != nil {
			continue
		}
		infos = append(infos, ModelInfo{Name: m.Name, Formula: m.Formula, Params: m.Params})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": len(s.jobManager.GetRunningJobs()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
