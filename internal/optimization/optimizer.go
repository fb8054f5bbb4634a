package optimization

import (
	"context"
	"math"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [lower, upper]
	Bounds [][2]float64

	// Maximum number of iterations
	MaxIterations int

	// Maximum number of objective evaluations
	MaxEvaluations int

	// KeepHistory records every evaluation when set
	KeepHistory bool
}

// ObjectiveFunction defines the function to be minimized
type ObjectiveFunction func([]float64) (float64, error)

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single evaluation of the objective function
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Feasible  bool
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Evaluations  int
	Converged    bool
}

// ValidateBounds checks that bounds describe a non-empty box with finite
// edges and lower <= upper in every dimension.
func ValidateBounds(bounds [][2]float64) error {
	if len(bounds) == 0 {
		return NewError("bounds must not be empty").WithOperation("ValidateBounds")
	}
	for i, b := range bounds {
		lo, hi := b[0], b[1]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return NewErrorf("bound %d is not finite: [%v, %v]", i, lo, hi).WithOperation("ValidateBounds")
		}
		if lo > hi {
			return NewErrorf("bound %d has lower %v above upper %v", i, lo, hi).WithOperation("ValidateBounds")
		}
	}
	return nil
}
