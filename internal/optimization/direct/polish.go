package direct

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// minPolishBudget is the fewest evaluations worth spending on a simplex.
const minPolishBudget = 8

// polish runs Nelder-Mead from the incumbent inside the box, using whatever
// is left of the evaluation budget. The incumbent only changes when the
// simplex finds a strictly lower feasible value.
func (s *Solver) polish() {
	n := len(s.lower)
	remaining := s.config.MaxEvaluations - s.evaluationCount()
	if remaining < minPolishBudget+n {
		s.logger.Debug("skipping polish, budget exhausted", zap.Int("remaining", remaining))
		return
	}

	start := s.toBox(s.store.center(s.best))
	var failure error
	clamped := make([]float64, n)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			s.clamp(clamped, x)
			f, err := s.config.Objective(append([]float64(nil), clamped...))
			feasible := err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
			if feasible {
				s.record(clamped, f, true)
				return f
			}
			s.record(clamped, 0, false)
			if err != nil && !errors.Is(err, ErrInfeasible) && failure == nil {
				failure = err
			}
			return math.Inf(1)
		},
	}

	// The initial simplex spans the incumbent's rectangle.
	size := 0.0
	for j, k := range s.store.level(s.best) {
		size = math.Max(size, 0.5*s.freeWidth[j]*math.Pow(3, -float64(k)))
	}
	method := &optimize.NelderMead{SimplexSize: size}
	if size == 0 {
		method.SimplexSize = 0.05
	}

	settings := &optimize.Settings{
		FuncEvaluations: remaining,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, start, settings, method)
	if failure != nil {
		s.logger.Warn("polish abandoned, objective failed", zap.Error(failure))
		return
	}
	if result == nil {
		s.logger.Debug("polish produced no result", zap.Error(err))
		return
	}

	x := make([]float64, n)
	s.clamp(x, result.X)
	best := s.GetBestSolution()
	if best == nil || !(result.F < best.Value) || math.IsInf(result.F, 1) {
		return
	}
	s.logger.Debug("polish improved incumbent",
		zap.Float64("before", best.Value),
		zap.Float64("after", result.F),
	)
	s.mu.Lock()
	s.bestSol.Parameters = x
	s.bestSol.Value = result.F
	s.mu.Unlock()
}

// clamp writes x projected onto the box into dst.
func (s *Solver) clamp(dst, x []float64) {
	for i := range dst {
		lo, hi := s.lower[i], s.lower[i]+s.width[i]
		dst[i] = math.Max(lo, math.Min(x[i], hi))
	}
}
