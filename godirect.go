// Package godirect minimizes a function over a box with the DIRECT
// (DIviding RECTangles) global optimization algorithm.
//
// Solve needs only function values: no gradients and no starting point.
// It samples the box on a trisection grid that is refined where values are
// low and where large regions are still unexplored.
//
//	res, err := godirect.Solve(ctx, f, []float64{-3, -2}, []float64{3, 2})
//
// An objective can reject a point by returning ErrInfeasible. Such points
// act as hidden constraints and never become the result.
package godirect

import (
	"context"
	"io"
	"math"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/copyleftdev/godirect/internal/logging"
	"github.com/copyleftdev/godirect/internal/optimization"
	"github.com/copyleftdev/godirect/internal/optimization/direct"
)

// Objective evaluates the function to minimize at x. The slice is owned by
// the solver for the duration of the call only.
type Objective func(x []float64) (float64, error)

// ErrInfeasible marks a point as infeasible. Objectives may return it
// directly or wrapped.
var ErrInfeasible = direct.ErrInfeasible

// Algorithm selects the DIRECT variant.
type Algorithm = direct.Algorithm

const (
	// Original is Jones' DIRECT.
	Original = direct.Original
	// Locally is Gablonsky's locally biased DIRECT-L.
	Locally = direct.Locally
)

// Status is the termination code. Positive values are normal
// terminations, negative values are failures.
type Status = direct.Status

// StatusError carries the failure Status of a run.
type StatusError = direct.StatusError

// Progress is passed to the WithProgress callback after every iteration.
type Progress = direct.Progress

// Termination statuses, numbered like the ierror codes of the classic
// DIRECT implementation.
const (
	StatusMaxEvaluations       = direct.StatusMaxEvaluations
	StatusMaxIterations        = direct.StatusMaxIterations
	StatusGlobalFound          = direct.StatusGlobalFound
	StatusVolumeTolerance      = direct.StatusVolumeTolerance
	StatusSigmaTolerance       = direct.StatusSigmaTolerance
	StatusInvalidBounds        = direct.StatusInvalidBounds
	StatusMaxEvaluationsTooBig = direct.StatusMaxEvaluationsTooBig
	StatusInitFailed           = direct.StatusInitFailed
	StatusSamplePointsFailed   = direct.StatusSamplePointsFailed
	StatusSampleFailed         = direct.StatusSampleFailed
	StatusMaxLevelReached      = direct.StatusMaxLevelReached
	StatusForcedStop           = direct.StatusForcedStop
)

// StatusOf returns the Status carried by an error returned from Solve, or 0.
func StatusOf(err error) Status {
	return direct.StatusOf(err)
}

// Result is the outcome of Solve.
type Result struct {
	// X is the best feasible point found, nil if there is none.
	X []float64
	// F is the objective value at X, +Inf if no feasible point was found.
	F float64
	// Feasible reports whether any sampled point was feasible.
	Feasible    bool
	Status      Status
	Evaluations int
	Iterations  int
}

type settings struct {
	params  direct.Params
	maxf    int
	maxT    int
	logFile string
	logger  *zap.Logger
}

// Option configures Solve.
type Option func(*settings)

// WithEpsilon sets the Jones factor (default 1e-3). A negative value uses
// |eps| with an absolute floor of 1e-8 on the required improvement.
func WithEpsilon(eps float64) Option {
	return func(s *settings) { s.params.Epsilon = eps }
}

// WithMaxEvaluations sets the approximate evaluation budget (default
// 10000, at most 90000). A division in progress may overshoot by 2n.
func WithMaxEvaluations(maxf int) Option {
	return func(s *settings) { s.maxf = maxf }
}

// WithMaxIterations sets the iteration budget (default 100).
func WithMaxIterations(maxT int) Option {
	return func(s *settings) { s.maxT = maxT }
}

// WithAlgorithm selects Original (default) or Locally.
func WithAlgorithm(a Algorithm) Option {
	return func(s *settings) { s.params.Algorithm = a }
}

// WithGlobalMinimum stops the run once the best value is within tolerance
// percent of the known global minimum fglobal.
func WithGlobalMinimum(fglobal, tolerance float64) Option {
	return func(s *settings) {
		s.params.GlobalMin = fglobal
		s.params.GlobalTolerance = tolerance
	}
}

// WithVolumeTolerance stops the run once the best point's rectangle is at
// most volper percent of the box volume (default 1e-5).
func WithVolumeTolerance(volper float64) Option {
	return func(s *settings) { s.params.VolumeTolerance = volper }
}

// WithSigmaTolerance stops the run once the measure of the best point's
// rectangle is at most sigmaper (default 1e-3).
func WithSigmaTolerance(sigmaper float64) Option {
	return func(s *settings) { s.params.SigmaTolerance = sigmaper }
}

// WithLogFile appends a run log, one line per iteration plus the outcome,
// to path.
func WithLogFile(path string) Option {
	return func(s *settings) { s.logFile = path }
}

// WithLogger sends the run log to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithPolish refines the result with a bounded Nelder-Mead search that
// spends the evaluations DIRECT left unused.
func WithPolish(polish bool) Option {
	return func(s *settings) { s.params.Polish = polish }
}

// WithProgress calls fn after every iteration.
func WithProgress(fn func(Progress)) Option {
	return func(s *settings) { s.params.Progress = fn }
}

// Solve minimizes objective over the box [lower, upper]. Dimensions with
// lower[i] == upper[i] are held fixed.
//
// The returned Result is never nil. On a normal termination the error is
// nil and Result.Status is positive. Otherwise the error carries a negative
// Status (see StatusOf) and Result holds whatever was found before the
// failure.
func Solve(ctx context.Context, objective Objective, lower, upper []float64, opts ...Option) (*Result, error) {
	s := settings{params: direct.DefaultParams()}
	for _, opt := range opts {
		opt(&s)
	}
	res := &Result{F: math.Inf(1)}

	bounds, err := box(lower, upper)
	if err != nil {
		return res.fail(direct.StatusInvalidBounds, err)
	}
	if objective == nil {
		return res.fail(direct.StatusInitFailed, optimization.NewError("objective function is required").WithOperation("Solve"))
	}

	logger, closer, err := s.runLogger()
	if err != nil {
		return res.fail(direct.StatusInitFailed, optimization.WrapError(err, "open log file").WithOperation("Solve"))
	}
	defer closer.Close()

	cfg := optimization.OptimizerConfig{
		Objective:      optimization.ObjectiveFunction(objective),
		Bounds:         bounds,
		MaxIterations:  s.maxT,
		MaxEvaluations: s.maxf,
	}
	solver, err := direct.New(cfg, s.params, logger)
	if err != nil {
		res.Status = direct.StatusOf(err)
		return res, err
	}

	_, err = solver.Optimize(ctx, cfg)
	res.Status = solver.Status()
	if err != nil {
		res.Status = direct.StatusOf(err)
	}
	res.Evaluations = solver.Evaluations()
	res.Iterations = solver.Iterations()
	if best := solver.GetBestSolution(); best != nil {
		res.X = best.Parameters
		res.F = best.Value
		res.Feasible = true
	}
	return res, err
}

func (r *Result) fail(status Status, err error) (*Result, error) {
	r.Status = status
	return r, &direct.StatusError{Status: status, Err: err}
}

// box pairs lower and upper into solver bounds.
func box(lower, upper []float64) ([][2]float64, error) {
	if len(lower) != len(upper) {
		return nil, optimization.NewErrorf("lower has %d entries, upper has %d", len(lower), len(upper)).WithOperation("Solve")
	}
	bounds := make([][2]float64, len(lower))
	for i := range lower {
		bounds[i] = [2]float64{lower[i], upper[i]}
	}
	if err := optimization.ValidateBounds(bounds); err != nil {
		return nil, err
	}
	return bounds, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// runLogger combines the configured logger and log file into one logger.
func (s *settings) runLogger() (*zap.Logger, io.Closer, error) {
	if s.logFile == "" {
		return s.logger, nopCloser{}, nil
	}
	file, closer, err := logging.NewFileZapLogger(s.logFile, logging.DebugLevel)
	if err != nil {
		return nil, nil, err
	}
	if s.logger == nil {
		return file, closer, nil
	}
	return zap.New(zapcore.NewTee(s.logger.Core(), file.Core()), zap.AddCaller()), closer, nil
}
