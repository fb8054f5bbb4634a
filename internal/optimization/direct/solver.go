// Package direct implements the DIRECT (DIviding RECTangles) global
// optimization algorithm for box-constrained problems.
//
// The search box is scaled to the unit cube and recursively trisected. Each
// iteration divides the rectangles that could hold the global minimum for
// some Lipschitz constant, so the search balances between large unexplored
// rectangles and small rectangles with low values.
package direct

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/godirect/internal/optimization"
)

const component = "direct"

// Solver runs DIRECT. It implements optimization.Optimizer.
type Solver struct {
	config optimization.OptimizerConfig
	params Params
	logger *zap.Logger

	lower []float64
	width []float64

	// free lists the dimensions with lower < upper. Only those are searched;
	// fixed dimensions stay at their bound.
	free      []int
	freeLower []float64
	freeWidth []float64

	store *store
	best  int // index of the best feasible rectangle, -1 if none
	fmax  float64

	mu          sync.RWMutex
	bestSol     *optimization.Solution
	history     []optimization.Evaluation
	status      Status
	evaluations int
	iterations  int
	cancel      context.CancelFunc
}

var _ optimization.Optimizer = (*Solver)(nil)

// New validates the configuration and returns a solver. Zero budgets are
// replaced by the defaults. A nil logger discards all output.
func New(config optimization.OptimizerConfig, params Params, logger *zap.Logger) (*Solver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Solver{
		params: params,
		logger: logger.Named("direct"),
		best:   -1,
	}
	if err := s.configure(config); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Solver) configure(config optimization.OptimizerConfig) error {
	const op = "Solver.configure"

	if err := optimization.ValidateBounds(config.Bounds); err != nil {
		return s.fail(StatusInvalidBounds, optimization.WrapError(err, "invalid box").WithOperation(op).WithComponent(component))
	}
	if config.MaxEvaluations <= 0 {
		config.MaxEvaluations = DefaultMaxEvaluations
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultMaxIterations
	}
	if config.MaxEvaluations > MaxEvaluationsLimit {
		err := optimization.NewErrorf("max evaluations %d exceeds limit %d", config.MaxEvaluations, MaxEvaluationsLimit)
		return s.fail(StatusMaxEvaluationsTooBig, err.WithOperation(op).WithComponent(component))
	}
	if err := s.params.validate(); err != nil {
		return s.fail(StatusInitFailed, optimization.WrapError(err, "invalid parameters").WithOperation(op).WithComponent(component))
	}

	n := len(config.Bounds)
	s.lower = make([]float64, n)
	s.width = make([]float64, n)
	s.free, s.freeLower, s.freeWidth = s.free[:0], s.freeLower[:0], s.freeWidth[:0]
	for i, b := range config.Bounds {
		s.lower[i] = b[0]
		s.width[i] = b[1] - b[0]
		if s.width[i] > 0 {
			s.free = append(s.free, i)
			s.freeLower = append(s.freeLower, b[0])
			s.freeWidth = append(s.freeWidth, s.width[i])
		}
	}
	s.config = config
	return nil
}

// Optimize runs DIRECT to termination. If config carries an objective it
// replaces the one given to New.
//
// On a normal termination the error is nil and Status is positive. When the
// run stops on a failure after sampling at least one feasible point, the
// best solution so far is returned together with the error.
func (s *Solver) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if config.Objective != nil {
		if err := s.configure(config); err != nil {
			return nil, err
		}
	}
	if s.config.Objective == nil {
		err := optimization.NewError("objective function is required").WithOperation("Solver.Optimize").WithComponent(component)
		return nil, s.fail(StatusInitFailed, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.reset(cancel)

	n := len(s.free)
	center := make([]float64, n)
	for i := range center {
		center[i] = 0.5
	}
	f, ok, err := s.sample(ctx, center)
	if err != nil {
		return s.finish(err)
	}
	s.insert(center, make([]int, n), f, ok)
	s.replaceInfeasible()

	// A box with no free dimension is a single point.
	if n == 0 {
		return s.finish(s.fail(StatusVolumeTolerance, nil))
	}

	if st := s.globalReached(); st != 0 {
		return s.finish(s.fail(st, nil))
	}

	for iter := 1; ; iter++ {
		if err := ctx.Err(); err != nil {
			return s.finish(s.fail(StatusForcedStop, err))
		}

		divided, atMaxLevel := 0, false
		budget := false
		for _, idx := range s.selectPotentiallyOptimal() {
			if s.evaluationCount() >= s.config.MaxEvaluations {
				budget = true
				break
			}
			if minLevel(s.store.level(idx)) >= MaxLevel {
				atMaxLevel = true
				continue
			}
			if err := s.divide(ctx, idx); err != nil {
				return s.finish(err)
			}
			divided++
		}
		s.replaceInfeasible()

		s.mu.Lock()
		s.iterations = iter
		s.mu.Unlock()
		s.report(iter, divided)

		if atMaxLevel {
			err := optimization.NewErrorf("potentially optimal rectangle reached level %d", MaxLevel).WithComponent(component)
			return s.finish(s.fail(StatusMaxLevelReached, err))
		}
		if budget {
			return s.finish(s.fail(StatusMaxEvaluations, nil))
		}
		if st := s.terminated(iter); st != 0 {
			return s.finish(s.fail(st, nil))
		}
	}
}

func (s *Solver) reset(cancel context.CancelFunc) {
	n := len(s.free)
	capacity := s.config.MaxEvaluations + 2*n
	s.store = newStore(n, s.params.Algorithm, capacity)
	s.best = -1
	s.fmax = math.Inf(-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bestSol = nil
	s.history = nil
	if s.config.KeepHistory {
		s.history = make([]optimization.Evaluation, 0, capacity)
	}
	s.status = 0
	s.evaluations = 0
	s.iterations = 0
	s.cancel = cancel
}

// sample evaluates the objective at a point of the unit cube spanned by the
// free dimensions.
func (s *Solver) sample(ctx context.Context, unit []float64) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, s.fail(StatusForcedStop, err)
	}
	for i, c := range unit {
		if c < -1e-12 || c > 1+1e-12 {
			err := optimization.NewErrorf("coordinate %d of sample point is %v", i, c).WithOperation("Solver.sample").WithComponent(component)
			return 0, false, s.fail(StatusSamplePointsFailed, err)
		}
	}

	x := s.toBox(unit)
	f, err := s.config.Objective(append([]float64(nil), x...))

	feasible := true
	switch {
	case errors.Is(err, ErrInfeasible):
		feasible = false
	case err != nil:
		count := s.record(x, 0, false)
		wrapped := optimization.WrapErrorf(err, "objective failed at evaluation %d", count).WithOperation("Solver.sample").WithComponent(component)
		return 0, false, s.fail(StatusSampleFailed, wrapped)
	case math.IsNaN(f) || math.IsInf(f, 0):
		feasible = false
	}
	if !feasible {
		f = 0
	}
	s.record(x, f, feasible)
	return f, feasible, nil
}

// record counts one objective evaluation and appends it to the history
// when KeepHistory is set. Infeasible evaluations are stored with value 0.
// It returns the evaluation count including this one.
func (s *Solver) record(x []float64, f float64, feasible bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations++
	if s.config.KeepHistory {
		s.history = append(s.history, optimization.Evaluation{
			Iteration: s.evaluations - 1,
			Solution:  &optimization.Solution{Parameters: append([]float64(nil), x...), Value: f},
			Feasible:  feasible,
		})
	}
	return s.evaluations
}

// insert stores a sampled rectangle and updates the incumbent.
func (s *Solver) insert(center []float64, levels []int, f float64, feasible bool) int {
	idx := s.store.add(center, levels, f, feasible)
	if !feasible {
		return idx
	}
	s.fmax = math.Max(s.fmax, f)
	if s.best < 0 || f < s.store.values[s.best] {
		s.best = idx
		s.mu.Lock()
		s.bestSol = &optimization.Solution{Parameters: s.toBox(center), Value: f}
		s.mu.Unlock()
	}
	return idx
}

type trial struct {
	dim             int
	w               float64
	plus, minus     []float64
	fPlus, fMinus   float64
	okPlus, okMinus bool
}

// divide trisects rectangle idx along all of its longest sides. Sides are
// split in order of increasing w = min(f(c+δe_i), f(c-δe_i)) so the best
// new points end up in the largest children.
func (s *Solver) divide(ctx context.Context, idx int) error {
	c := append([]float64(nil), s.store.center(idx)...)
	levels := append([]int(nil), s.store.level(idx)...)
	kmin := minLevel(levels)
	delta := math.Pow(3, -float64(kmin+1))

	var trials []trial
	for i, k := range levels {
		if k != kmin {
			continue
		}
		p := trial{dim: i, w: math.Inf(1)}
		p.plus = append([]float64(nil), c...)
		p.plus[i] += delta
		p.minus = append([]float64(nil), c...)
		p.minus[i] -= delta

		var err error
		if p.fPlus, p.okPlus, err = s.sample(ctx, p.plus); err != nil {
			return err
		}
		if p.fMinus, p.okMinus, err = s.sample(ctx, p.minus); err != nil {
			return err
		}
		if p.okPlus {
			p.w = p.fPlus
		}
		if p.okMinus {
			p.w = math.Min(p.w, p.fMinus)
		}
		trials = append(trials, p)
	}
	sort.SliceStable(trials, func(a, b int) bool { return trials[a].w < trials[b].w })

	for _, p := range trials {
		levels[p.dim]++
		s.insert(p.plus, levels, p.fPlus, p.okPlus)
		s.insert(p.minus, levels, p.fMinus, p.okMinus)
	}
	s.store.setLevels(idx, levels)
	return nil
}

// replaceInfeasible reassigns the value of every infeasible rectangle: the
// lowest feasible value found in the rectangle's neighbourhood raised by 1e-6
// of its magnitude, or fmax+1 when there is none. Neighbourhoods shrink and
// fmax grows as the search proceeds, so values from earlier iterations are
// recomputed as well.
func (s *Solver) replaceInfeasible() {
	for i := 0; i < s.store.len(); i++ {
		if s.store.feasible[i] {
			continue
		}
		nb := math.Inf(1)
		for j := 0; j < s.store.len(); j++ {
			if s.store.feasible[j] && s.store.values[j] < nb && s.store.contains(i, s.store.center(j)) {
				nb = s.store.values[j]
			}
		}
		switch {
		case !math.IsInf(nb, 1):
			s.store.values[i] = nb + 1e-6*math.Abs(nb)
		case !math.IsInf(s.fmax, -1):
			s.store.values[i] = s.fmax + 1
		default:
			s.store.values[i] = 1
		}
	}
}

// globalReached checks the distance to a known global minimum.
func (s *Solver) globalReached() Status {
	if s.best < 0 {
		return 0
	}
	div := math.Abs(s.params.GlobalMin)
	if div == 0 {
		div = 1
	}
	if (s.store.values[s.best]-s.params.GlobalMin)*100/div <= s.params.GlobalTolerance {
		return StatusGlobalFound
	}
	return 0
}

// terminated applies the stopping rules after an iteration.
func (s *Solver) terminated(iter int) Status {
	if st := s.globalReached(); st != 0 {
		return st
	}
	if s.best >= 0 {
		if s.store.volumePercent(s.best) <= s.params.VolumeTolerance {
			return StatusVolumeTolerance
		}
		if s.store.measure(s.store.keys[s.best]) <= s.params.SigmaTolerance {
			return StatusSigmaTolerance
		}
	}
	if s.evaluationCount() >= s.config.MaxEvaluations {
		return StatusMaxEvaluations
	}
	if iter >= s.config.MaxIterations {
		return StatusMaxIterations
	}
	return 0
}

func (s *Solver) report(iter, divided int) {
	fmin := math.Inf(1)
	var x []float64
	if s.best >= 0 {
		fmin = s.store.values[s.best]
		x = s.toBox(s.store.center(s.best))
	}
	evals := s.evaluationCount()
	s.logger.Debug("iteration done",
		zap.Int("iteration", iter),
		zap.Int("evaluations", evals),
		zap.Int("divided", divided),
		zap.Int("rectangles", s.store.len()),
		zap.Float64("fmin", fmin),
	)
	if s.params.Progress != nil {
		s.params.Progress(Progress{Iteration: iter, Evaluations: evals, FMin: fmin, X: x})
	}
}

// finish records the final status, polishes on success, and assembles the
// result.
func (s *Solver) finish(err error) (*optimization.OptimizationResult, error) {
	status := StatusOf(err)
	if status > 0 {
		err = nil
		if s.params.Polish && s.best >= 0 {
			s.polish()
		}
	}

	s.mu.Lock()
	s.status = status
	result := &optimization.OptimizationResult{
		History:     s.history,
		Iterations:  s.iterations,
		Evaluations: s.evaluations,
		Converged:   status > 0,
	}
	if s.bestSol != nil {
		result.BestSolution = &optimization.Solution{
			Parameters: append([]float64(nil), s.bestSol.Parameters...),
			Value:      s.bestSol.Value,
		}
	}
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("status", int(status)),
		zap.String("reason", status.String()),
		zap.Int("evaluations", result.Evaluations),
		zap.Int("iterations", result.Iterations),
	}
	if result.BestSolution != nil {
		fields = append(fields, zap.Float64("fmin", result.BestSolution.Value), zap.Float64s("x", result.BestSolution.Parameters))
	}
	if err != nil {
		s.logger.Warn("DIRECT stopped", append(fields, zap.Error(err))...)
		if result.BestSolution == nil {
			return nil, err
		}
		return result, err
	}
	s.logger.Info("DIRECT finished", fields...)
	return result, nil
}

func (s *Solver) fail(status Status, err error) error {
	return statusError(status, err)
}

// toBox maps a unit-cube point over the free dimensions into the box.
func (s *Solver) toBox(unit []float64) []float64 {
	reduced := make([]float64, len(unit))
	floats.MulTo(reduced, unit, s.freeWidth)
	floats.Add(reduced, s.freeLower)

	x := append([]float64(nil), s.lower...)
	for j, d := range s.free {
		x[d] = reduced[j]
	}
	return x
}

func (s *Solver) evaluationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluations
}

// Status returns the termination status of the last run, 0 while running.
func (s *Solver) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Evaluations returns the number of objective evaluations so far.
func (s *Solver) Evaluations() int {
	return s.evaluationCount()
}

// Iterations returns the number of completed iterations.
func (s *Solver) Iterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iterations
}

// GetBestSolution returns the best feasible solution found so far.
func (s *Solver) GetBestSolution() *optimization.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bestSol == nil {
		return nil
	}
	return &optimization.Solution{
		Parameters: append([]float64(nil), s.bestSol.Parameters...),
		Value:      s.bestSol.Value,
	}
}

// GetHistory returns the recorded evaluations. It is empty unless
// KeepHistory was set.
func (s *Solver) GetHistory() []optimization.Evaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]optimization.Evaluation(nil), s.history...)
}

// Stop cancels a running optimization.
func (s *Solver) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
