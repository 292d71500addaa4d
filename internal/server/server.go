// Package server exposes the optimizer as an HTTP job service. It is a
// caller of the optimization core: it constructs a run per request, executes
// it in the background and reports progress and results.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantforge/bayesopt/internal/config"
	"github.com/quantforge/bayesopt/internal/logging"
	"github.com/quantforge/bayesopt/internal/optimization"
	"github.com/quantforge/bayesopt/internal/optimization/bayesian"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job tracks one optimization run owned by the service. Access is guarded by
// the server's job mutex.
type Job struct {
	ID        string
	Status    string
	StartTime time.Time
	EndTime   *time.Time

	// Live progress from the optimizer's iterationComplete events.
	Iteration int
	Best      *optimization.Solution

	Result *optimization.Result
	Err    string

	cancel context.CancelFunc
}

// JobRequest is the payload of the optimize endpoint.
type JobRequest struct {
	Objective     string       `json:"objective"`
	Bounds        [][2]float64 `json:"bounds"`
	Kernel        string       `json:"kernel,omitempty"`
	Acquisition   string       `json:"acquisition,omitempty"`
	MaxIterations int          `json:"max_iterations,omitempty"`
	InitialPoints int          `json:"initial_points,omitempty"`
	Seed          int64        `json:"seed,omitempty"`
}

// Server manages optimization jobs over HTTP and JSON-RPC.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *Metrics

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewServer creates a server with the given configuration, logger and
// metrics. A nil metrics disables instrumentation.
func NewServer(cfg *config.Config, logger *logging.Logger, metrics *Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*Job),
	}
}

// RegisterRoutes mounts the job API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
	})
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every running job.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	return nil
}

// startJob validates req, builds the optimizer and launches the run.
func (s *Server) startJob(req JobRequest) (*Job, error) {
	objective, err := objectiveForName(req.Objective)
	if err != nil {
		return nil, err
	}

	if req.Kernel == "" {
		req.Kernel = optimization.KernelRBF
	}
	if req.Acquisition == "" {
		req.Acquisition = optimization.AcquisitionEI
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = s.cfg.Optimizer.MaxIterations
	}
	if req.InitialPoints == 0 {
		req.InitialPoints = s.cfg.Optimizer.InitialPoints
	}

	progress := make(chan optimization.ProgressEvent, 64)
	cfg := optimization.Config{
		Type:          optimization.StrategyBayesian,
		Objective:     objective,
		Bounds:        req.Bounds,
		Kernel:        req.Kernel,
		Acquisition:   req.Acquisition,
		MaxIterations: req.MaxIterations,
		InitialPoints: req.InitialPoints,
		CandidatePool: s.cfg.Optimizer.CandidatePool,
		RandomSeed:    req.Seed,
		ProgressChan:  progress,
	}

	opt, err := bayesian.New(cfg, logging.NewZapLogger(s.logger))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        fmt.Sprintf("opt_%d", time.Now().UnixNano()),
		Status:    StatusPending,
		StartTime: time.Now(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go s.consumeProgress(job.ID, progress)
	go s.run(ctx, job.ID, opt, progress)

	return job, nil
}

// run executes one optimization and records its outcome.
func (s *Server) run(ctx context.Context, id string, opt optimization.Optimizer, progress chan optimization.ProgressEvent) {
	defer close(progress)

	s.setStatus(id, StatusRunning)
	if s.metrics != nil {
		s.metrics.JobsRunning.Inc()
	}

	result, err := opt.Optimize(ctx)

	s.mu.Lock()
	job := s.jobs[id]
	now := time.Now()
	job.EndTime = &now
	outcome := StatusCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		job.Status = StatusCancelled
		job.Err = ctx.Err().Error()
		outcome = StatusCancelled
	case err != nil:
		job.Status = StatusFailed
		job.Err = err.Error()
		outcome = StatusFailed
	default:
		job.Status = StatusCompleted
		job.Result = result
		job.Best = result.BestSolution
	}
	elapsed := now.Sub(job.StartTime)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsRunning.Dec()
		s.metrics.JobsCompleted.WithLabelValues(outcome).Inc()
		s.metrics.JobDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		s.logger.Error("optimization job failed", map[string]interface{}{
			"job_id": id,
			"error":  err.Error(),
		})
		return
	}
	s.logger.Info("optimization job finished", map[string]interface{}{
		"job_id":     id,
		"reason":     result.Reason,
		"iterations": result.Iterations,
		"best_value": result.BestSolution.Value,
	})
}

// consumeProgress mirrors the optimizer's iterationComplete events into the
// job record.
func (s *Server) consumeProgress(id string, progress <-chan optimization.ProgressEvent) {
	for ev := range progress {
		s.mu.Lock()
		if job, ok := s.jobs[id]; ok {
			job.Iteration = ev.Iteration
			if ev.BestParameters != nil {
				job.Best = &optimization.Solution{
					Parameters: ev.BestParameters,
					Value:      ev.BestValue,
				}
			}
		}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.Iterations.Inc()
		}
	}
}

func (s *Server) setStatus(id, status string) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
	}
	s.mu.Unlock()
}

// jobStatus builds the status payload for a job.
func (s *Server) jobStatus(id string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("optimization not found")
	}

	resp := map[string]interface{}{
		"status":     job.Status,
		"iteration":  job.Iteration,
		"start_time": job.StartTime.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		resp["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.Best != nil {
		resp["best_solution"] = map[string]interface{}{
			"parameters": job.Best.Parameters,
			"value":      job.Best.Value,
		}
	}
	if job.Result != nil {
		resp["reason"] = job.Result.Reason
		resp["iterations"] = job.Result.Iterations
		resp["elapsed_ms"] = job.Result.Elapsed.Milliseconds()
	}
	if job.Err != "" {
		resp["error"] = job.Err
	}
	return resp, nil
}

// cancelJob cancels a running job.
func (s *Server) cancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("optimization not found")
	}
	switch job.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return fmt.Errorf("cannot cancel optimization with status %s", job.Status)
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	job, err := s.startJob(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": job.ID,
		"status":          job.Status,
	})
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := s.jobStatus(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cancelJob(id); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// handleJSONRPC handles JSON-RPC 2.0 requests mirroring the three job
// methods.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondRPCError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondRPCError(w, -32600, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var req JobRequest
		if err = json.Unmarshal(request.Params, &req); err == nil {
			var job *Job
			if job, err = s.startJob(req); err == nil {
				result = map[string]interface{}{
					"optimization_id": job.ID,
					"status":          job.Status,
				}
			}
		}
	case "optimization.status":
		var params struct {
			OptimizationID string `json:"optimization_id"`
		}
		if err = json.Unmarshal(request.Params, &params); err == nil {
			result, err = s.jobStatus(params.OptimizationID)
		}
	case "optimization.cancel":
		var params struct {
			OptimizationID string `json:"optimization_id"`
		}
		if err = json.Unmarshal(request.Params, &params); err == nil {
			err = s.cancelJob(params.OptimizationID)
			result = map[string]string{"status": "cancellation requested"}
		}
	default:
		s.respondRPCError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondRPCError(w, -32000, err.Error(), request.ID)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.logger.Error("request error", map[string]interface{}{
		"status":  status,
		"message": msg,
	})
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) respondRPCError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}
