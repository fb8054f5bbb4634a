package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/godirect/internal/config"
	apierrors "github.com/copyleftdev/godirect/internal/errors"
	"github.com/copyleftdev/godirect/internal/events"
	"github.com/copyleftdev/godirect/internal/logging"
	"github.com/copyleftdev/godirect/internal/objective"
	"github.com/copyleftdev/godirect/internal/optimization"
	"github.com/copyleftdev/godirect/internal/optimization/direct"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// OptimizationState represents the state of an optimization job. All fields
// are guarded by the server's optimizationsMu.
type OptimizationState struct {
	ID             string
	Status         string
	Objective      string
	Bounds         [][2]float64
	Algorithm      string
	MaxEvaluations int
	StartTime      time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
	// Progress is the fraction of the evaluation budget used.
	Progress     float64
	Iteration    int
	Evaluations  int
	BestSolution *optimization.Solution
	// SolverStatus is the solver's termination code, 0 until it stops.
	SolverStatus direct.Status
	Error        string
	Optimizer    optimization.Optimizer
	CancelFunc   context.CancelFunc
}

func (st *OptimizationState) terminal() bool {
	switch st.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	solver  *zap.Logger
	hub     *events.Hub
	metrics *metrics
	workers chan struct{}
	wg      sync.WaitGroup

	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	registerer prometheus.Registerer
	hub        *events.Hub
}

// WithRegisterer registers the job metrics with reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *serverOptions) { o.registerer = reg }
}

// WithHub sets the hub progress events are published to.
func WithHub(h *events.Hub) Option {
	return func(o *serverOptions) { o.hub = h }
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	o := serverOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hub == nil {
		o.hub = events.NewHub(0)
	}
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &Server{
		cfg:           cfg,
		logger:        logger,
		solver:        logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "solver"})),
		hub:           o.hub,
		metrics:       newMetrics(o.registerer),
		workers:       make(chan struct{}, workers),
		optimizations: make(map[string]*OptimizationState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/optimization/{id}/events", s.handleEvents)
		r.Get("/optimization/{id}/history.csv", s.handleHistoryCSV)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// startOptimization validates req, registers a pending job and starts it.
func (s *Server) startOptimization(req OptimizeRequest) (map[string]interface{}, error) {
	if req.Objective == "" {
		return nil, apierrors.BadRequest("objective function is required")
	}
	bounds, err := req.bounds()
	if err != nil {
		return nil, err
	}
	expr, err := objective.Parse(req.Objective, len(bounds))
	if err != nil {
		return nil, apierrors.Wrap(err, "invalid objective").WithCode(http.StatusBadRequest)
	}
	params, maxf, maxT, err := req.Options.solverSettings(s.cfg.DirectParams(), s.cfg.Direct.MaxEvaluations, s.cfg.Direct.MaxIterations)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	cfg := optimization.OptimizerConfig{
		Objective:      expr.Func(),
		Bounds:         bounds,
		MaxIterations:  maxT,
		MaxEvaluations: maxf,
		KeepHistory:    req.Options.History,
	}
	params.Progress = func(p direct.Progress) { s.recordProgress(id, p) }

	solver, err := direct.New(cfg, params, s.solver.With(zap.String("optimization_id", id)))
	if err != nil {
		return nil, apierrors.Wrap(err, "invalid optimization settings").WithCode(http.StatusBadRequest)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &OptimizationState{
		ID:             id,
		Status:         StatusPending,
		Objective:      expr.String(),
		Bounds:         bounds,
		Algorithm:      params.Algorithm.String(),
		MaxEvaluations: maxf,
		StartTime:      now,
		LastUpdated:    now,
		Optimizer:      solver,
		CancelFunc:     cancel,
	}
	if state.MaxEvaluations == 0 {
		state.MaxEvaluations = direct.DefaultMaxEvaluations
	}

	s.optimizationsMu.Lock()
	s.pruneLocked(now)
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.metrics.started.Inc()
	s.metrics.queued.Inc()
	s.wg.Add(1)
	go s.runOptimization(ctx, state, cfg)

	s.logger.Info("Optimization accepted", map[string]interface{}{
		"optimization_id": id,
		"dimensions":      len(bounds),
		"algorithm":       state.Algorithm,
		"maxf":            state.MaxEvaluations,
	})

	return map[string]interface{}{
		"optimization_id": id,
		"status":          StatusPending,
	}, nil
}

// runOptimization waits for a worker slot and runs the solver.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, cfg optimization.OptimizerConfig) {
	defer s.wg.Done()
	defer s.hub.Close(state.ID)

	select {
	case s.workers <- struct{}{}:
		s.metrics.queued.Dec()
	case <-ctx.Done():
		s.metrics.queued.Dec()
		s.complete(state, nil, direct.StatusForcedStop, ctx.Err())
		return
	}
	defer func() { <-s.workers }()

	s.optimizationsMu.Lock()
	if state.Status == StatusPending {
		state.Status = StatusRunning
		state.LastUpdated = time.Now()
	}
	s.optimizationsMu.Unlock()
	s.publish(state.ID, map[string]interface{}{"type": "start", "id": state.ID})

	s.metrics.running.Inc()
	result, err := state.Optimizer.Optimize(ctx, cfg)
	s.metrics.running.Dec()

	status := direct.StatusOf(err)
	if solver, ok := state.Optimizer.(*direct.Solver); ok && err == nil {
		status = solver.Status()
	}
	s.complete(state, result, status, err)
}

// complete moves state into its terminal state and publishes the outcome.
func (s *Server) complete(state *OptimizationState, result *optimization.OptimizationResult, status direct.Status, err error) {
	now := time.Now()

	s.optimizationsMu.Lock()
	state.SolverStatus = status
	if result != nil {
		state.BestSolution = result.BestSolution
		state.Evaluations = result.Evaluations
		state.Iteration = result.Iterations
	}
	switch {
	case state.Status == StatusCancelled:
	case status == direct.StatusForcedStop:
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		state.Error = err.Error()
	default:
		state.Status = StatusCompleted
	}
	if state.MaxEvaluations > 0 {
		state.Progress = min(1, float64(state.Evaluations)/float64(state.MaxEvaluations))
	}
	if state.EndTime == nil {
		state.EndTime = &now
	}
	state.LastUpdated = now
	jobStatus := state.Status
	evals := state.Evaluations
	elapsed := now.Sub(state.StartTime)
	event := map[string]interface{}{
		"type":   "done",
		"status": jobStatus,
		"reason": status.String(),
		"ierror": int(status),
	}
	if state.BestSolution != nil {
		event["x"] = state.BestSolution.Parameters
		event["fmin"] = state.BestSolution.Value
	}
	s.optimizationsMu.Unlock()

	s.metrics.finished.WithLabelValues(jobStatus).Inc()
	s.metrics.evaluations.Observe(float64(evals))
	s.metrics.duration.Observe(elapsed.Seconds())
	s.publish(state.ID, event)

	fields := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          jobStatus,
		"reason":          status.String(),
		"evaluations":     evals,
	}
	if jobStatus == StatusFailed {
		fields["error"] = err.Error()
		s.logger.Error("Optimization failed", fields)
		return
	}
	s.logger.Info("Optimization finished", fields)
}

// recordProgress is the solver's per-iteration callback.
func (s *Server) recordProgress(id string, p direct.Progress) {
	s.optimizationsMu.Lock()
	state, ok := s.optimizations[id]
	if ok {
		state.Iteration = p.Iteration
		state.Evaluations = p.Evaluations
		if state.MaxEvaluations > 0 {
			state.Progress = min(1, float64(p.Evaluations)/float64(state.MaxEvaluations))
		}
		if p.X != nil {
			state.BestSolution = &optimization.Solution{Parameters: p.X, Value: p.FMin}
		}
		state.LastUpdated = time.Now()
	}
	s.optimizationsMu.Unlock()
	if !ok {
		return
	}

	event := map[string]interface{}{
		"type":        "iter",
		"iteration":   p.Iteration,
		"evaluations": p.Evaluations,
	}
	if p.X != nil {
		event["x"] = p.X
		event["fmin"] = p.FMin
	}
	s.publish(id, event)
}

func (s *Server) publish(id string, event map[string]interface{}) {
	msg, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("Dropping unencodable event", map[string]interface{}{
			"optimization_id": id,
			"error":           err.Error(),
		})
		return
	}
	s.hub.Publish(id, string(msg))
}

// pruneLocked forgets terminal jobs older than the configured retention.
func (s *Server) pruneLocked(now time.Time) {
	retention := s.cfg.Optimization.Retention
	if retention <= 0 {
		return
	}
	for id, st := range s.optimizations {
		if st.terminal() && st.EndTime != nil && now.Sub(*st.EndTime) > retention {
			delete(s.optimizations, id)
		}
	}
}

func (s *Server) lookup(id string) (*OptimizationState, error) {
	if id == "" {
		return nil, apierrors.BadRequest("optimization_id is required")
	}
	state, ok := s.optimizations[id]
	if !ok {
		return nil, apierrors.NotFound("optimization not found")
	}
	return state, nil
}

// optimizationStatus returns the status view of a job.
func (s *Server) optimizationStatus(id string) (map[string]interface{}, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	response := map[string]interface{}{
		"optimization_id": state.ID,
		"status":          state.Status,
		"objective":       state.Objective,
		"algorithm":       state.Algorithm,
		"progress":        state.Progress,
		"iterations":      state.Iteration,
		"evaluations":     state.Evaluations,
		"start_time":      state.StartTime.Format(time.RFC3339),
		"last_update":     state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.SolverStatus != 0 {
		response["solver_status"] = map[string]interface{}{
			"code":   int(state.SolverStatus),
			"reason": state.SolverStatus.String(),
		}
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.BestSolution != nil {
		response["best_solution"] = map[string]interface{}{
			"parameters": state.BestSolution.Parameters,
			"value":      state.BestSolution.Value,
		}
	}
	return response, nil
}

// cancelOptimization stops a pending or running job.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, err := s.lookup(id)
	if err != nil {
		return err
	}
	if state.terminal() {
		return apierrors.Conflict("cannot cancel optimization with status: %s", state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

// Close cancels every job and waits for their goroutines to return.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.wg.Wait()
	return nil
}
