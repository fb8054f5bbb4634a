package direct

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/godirect/internal/optimization"
)

func TestSolverSixHumpCamel(t *testing.T) {
	tests := []struct {
		name   string
		params func() Params
	}{
		{
			name:   "original defaults",
			params: DefaultParams,
		},
		{
			name: "locally biased",
			params: func() Params {
				p := DefaultParams()
				p.Algorithm = Locally
				p.SigmaTolerance = 1e-4
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(optimization.OptimizerConfig{
				Objective: sixHumpCamel,
				Bounds:    camelBounds,
			}, tt.params(), nil)
			require.NoError(t, err)

			result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
			require.NoError(t, err)
			require.NotNil(t, result.BestSolution)

			assert.InDelta(t, camelMin, result.BestSolution.Value, 1e-3)
			assert.True(t, nearAny(result.BestSolution.Parameters, camelMinimizers, 0.02),
				"%v is not near a global minimizer", result.BestSolution.Parameters)
			assert.True(t, s.Status() > 0, "status %v", s.Status())
			assert.True(t, result.Converged)
			assert.Equal(t, s.Evaluations(), result.Evaluations)
		})
	}
}

func TestSolverShiftedSphere(t *testing.T) {
	shift := []float64{-1, 2, -4, 3}
	bounds := [][2]float64{{-10, 10}, {-10, 10}, {-10, 10}, {-10, 10}}

	t.Run("defaults", func(t *testing.T) {
		s, err := New(optimization.OptimizerConfig{Objective: shiftedSphere(shift), Bounds: bounds}, DefaultParams(), nil)
		require.NoError(t, err)

		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Less(t, result.BestSolution.Value, 1e-2)
		assertNear(t, result.BestSolution.Parameters, shift, 0.1)
	})

	t.Run("tight sigma", func(t *testing.T) {
		p := quietParams()
		p.SigmaTolerance = 1e-4
		s, err := New(optimization.OptimizerConfig{
			Objective:      shiftedSphere(shift),
			Bounds:         bounds,
			MaxEvaluations: 20000,
		}, p, nil)
		require.NoError(t, err)

		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Equal(t, StatusSigmaTolerance, s.Status())
		assert.Less(t, result.BestSolution.Value, 1e-5)
		assertNear(t, result.BestSolution.Parameters, shift, 1e-2)
	})
}

func TestSolverInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config optimization.OptimizerConfig
		params Params
		want   Status
	}{
		{
			name:   "no bounds",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel},
			params: DefaultParams(),
			want:   StatusInvalidBounds,
		},
		{
			name:   "lower above upper",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: [][2]float64{{1, -1}, {0, 1}}},
			params: DefaultParams(),
			want:   StatusInvalidBounds,
		},
		{
			name:   "infinite bound",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: [][2]float64{{math.Inf(-1), 1}}},
			params: DefaultParams(),
			want:   StatusInvalidBounds,
		},
		{
			name:   "budget too big",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds, MaxEvaluations: MaxEvaluationsLimit + 1},
			params: DefaultParams(),
			want:   StatusMaxEvaluationsTooBig,
		},
		{
			name:   "unknown algorithm",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds},
			params: Params{Algorithm: Algorithm(7)},
			want:   StatusInitFailed,
		},
		{
			name:   "NaN epsilon",
			config: optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds},
			params: Params{Epsilon: math.NaN()},
			want:   StatusInitFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config, tt.params, nil)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, tt.want, StatusOf(err))
			assert.True(t, StatusOf(err).Failed())
		})
	}
}

func TestSolverMissingObjective(t *testing.T) {
	s, err := New(optimization.OptimizerConfig{Bounds: camelBounds}, DefaultParams(), nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StatusInitFailed, StatusOf(err))
}

func TestSolverBudgets(t *testing.T) {
	t.Run("evaluations", func(t *testing.T) {
		s, err := New(optimization.OptimizerConfig{
			Objective:      sixHumpCamel,
			Bounds:         camelBounds,
			MaxEvaluations: 100,
		}, quietParams(), nil)
		require.NoError(t, err)

		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Equal(t, StatusMaxEvaluations, s.Status())
		assert.GreaterOrEqual(t, result.Evaluations, 100)
		assert.LessOrEqual(t, result.Evaluations, 100+2*len(camelBounds))
	})

	t.Run("iterations", func(t *testing.T) {
		s, err := New(optimization.OptimizerConfig{
			Objective:     sixHumpCamel,
			Bounds:        camelBounds,
			MaxIterations: 5,
		}, quietParams(), nil)
		require.NoError(t, err)

		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Equal(t, StatusMaxIterations, s.Status())
		assert.Equal(t, 5, result.Iterations)
		assert.Equal(t, 5, s.Iterations())
	})
}

func TestSolverGlobalMinimumKnown(t *testing.T) {
	p := quietParams()
	p.GlobalMin = camelMin
	p.GlobalTolerance = 0.1

	s, err := New(optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds}, p, nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	assert.Equal(t, StatusGlobalFound, s.Status())
	assert.LessOrEqual(t, (result.BestSolution.Value-camelMin)*100/math.Abs(camelMin), 0.1)
}

func TestSolverSamplesStayInBox(t *testing.T) {
	var outside [][]float64
	objective := func(x []float64) (float64, error) {
		for i, v := range x {
			if v < camelBounds[i][0] || v > camelBounds[i][1] {
				outside = append(outside, append([]float64(nil), x...))
			}
		}
		return sixHumpCamel(x)
	}

	s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds, MaxEvaluations: 2000}, quietParams(), nil)
	require.NoError(t, err)
	_, err = s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	assert.Empty(t, outside)
}

func TestSolverObjectiveMayMutateInput(t *testing.T) {
	objective := func(x []float64) (float64, error) {
		f, _ := sixHumpCamel(x)
		for i := range x {
			x[i] = 1e9
		}
		return f, nil
	}

	s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds}, DefaultParams(), nil)
	require.NoError(t, err)
	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	assert.InDelta(t, camelMin, result.BestSolution.Value, 1e-3)
}

func TestSolverInfeasiblePoints(t *testing.T) {
	t.Run("hidden constraint", func(t *testing.T) {
		objective := func(x []float64) (float64, error) {
			if x[0] > 1 {
				return 0, ErrInfeasible
			}
			return sixHumpCamel(x)
		}

		s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds}, DefaultParams(), nil)
		require.NoError(t, err)
		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.InDelta(t, camelMin, result.BestSolution.Value, 1e-3)
		assert.LessOrEqual(t, result.BestSolution.Parameters[0], 1.0)
	})

	t.Run("NaN is infeasible", func(t *testing.T) {
		objective := func(x []float64) (float64, error) {
			if x[1] < -1.5 {
				return math.NaN(), nil
			}
			return sixHumpCamel(x)
		}

		s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds}, DefaultParams(), nil)
		require.NoError(t, err)
		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.False(t, math.IsNaN(result.BestSolution.Value))
	})

	t.Run("everything infeasible", func(t *testing.T) {
		objective := func(x []float64) (float64, error) {
			return 0, ErrInfeasible
		}

		s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds, MaxEvaluations: 200}, DefaultParams(), nil)
		require.NoError(t, err)
		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Nil(t, result.BestSolution)
		assert.Equal(t, StatusMaxEvaluations, s.Status())
		assert.Nil(t, s.GetBestSolution())
	})
}

func TestSolverInfeasibleValuesFollowSearch(t *testing.T) {
	// The centre is infeasible and every feasible value is at least 100, so
	// a replacement value below 100 could only come from the fmax+1 fallback
	// of the first iteration.
	objective := func(x []float64) (float64, error) {
		if math.Hypot(x[0], x[1]) < 0.05 {
			return 0, ErrInfeasible
		}
		return 100 + (x[0]-0.7)*(x[0]-0.7) + (x[1]+0.4)*(x[1]+0.4), nil
	}

	s, err := New(optimization.OptimizerConfig{
		Objective:      objective,
		Bounds:         [][2]float64{{-1, 1}, {-1, 1}},
		MaxEvaluations: 2000,
	}, quietParams(), nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	assert.InDelta(t, 100, result.BestSolution.Value, 5e-4)

	require.False(t, s.store.feasible[0])
	assert.GreaterOrEqual(t, s.store.values[0], 100.0)

	fmin := math.Inf(1)
	for i := 0; i < s.store.len(); i++ {
		if s.store.feasible[i] {
			fmin = math.Min(fmin, s.store.values[i])
		}
	}
	for i := 0; i < s.store.len(); i++ {
		if !s.store.feasible[i] {
			assert.GreaterOrEqual(t, s.store.values[i], fmin, "infeasible rectangle %d", i)
		}
	}
}

func TestSolverMaxLevelReached(t *testing.T) {
	// The minimizer is the centre of the box, so the rectangle holding it is
	// potentially optimal every iteration and shrinks by one level each time.
	s, err := New(optimization.OptimizerConfig{
		Objective:      shiftedSphere([]float64{0, 0}),
		Bounds:         [][2]float64{{-1, 1}, {-1, 1}},
		MaxIterations:  1000,
		MaxEvaluations: MaxEvaluationsLimit,
	}, quietParams(), nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.Error(t, err)
	assert.Equal(t, StatusMaxLevelReached, StatusOf(err))
	assert.Equal(t, StatusMaxLevelReached, s.Status())

	require.NotNil(t, result)
	require.NotNil(t, result.BestSolution)
	assert.Equal(t, 0.0, result.BestSolution.Value)
	assert.Equal(t, []float64{0, 0}, result.BestSolution.Parameters)
	assert.Equal(t, MaxLevel+1, result.Iterations)
	assert.Less(t, result.Evaluations, MaxEvaluationsLimit)
	assert.Equal(t, MaxLevel, minLevel(s.store.level(s.best)))
}

func TestSolverObjectiveError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	objective := func(x []float64) (float64, error) {
		calls++
		if calls > 10 {
			return 0, boom
		}
		return sixHumpCamel(x)
	}

	s, err := New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds}, DefaultParams(), nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusSampleFailed, StatusOf(err))
	assert.Equal(t, StatusSampleFailed, s.Status())
	require.NotNil(t, result, "best point so far is kept")
	assert.Equal(t, 11, result.Evaluations)
}

func TestSolverCancellation(t *testing.T) {
	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s, err := New(optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds}, DefaultParams(), nil)
		require.NoError(t, err)
		result, err := s.Optimize(ctx, optimization.OptimizerConfig{})
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StatusForcedStop, StatusOf(err))
	})

	t.Run("stopped while running", func(t *testing.T) {
		var s *Solver
		calls := 0
		objective := func(x []float64) (float64, error) {
			calls++
			if calls == 50 {
				s.Stop()
			}
			return sixHumpCamel(x)
		}

		var err error
		s, err = New(optimization.OptimizerConfig{Objective: objective, Bounds: camelBounds}, quietParams(), nil)
		require.NoError(t, err)
		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.Error(t, err)
		assert.Equal(t, StatusForcedStop, s.Status())
		require.NotNil(t, result)
		assert.NotNil(t, result.BestSolution)
		assert.Equal(t, 50, result.Evaluations)
	})
}

func TestSolverFixedDimension(t *testing.T) {
	objective := func(x []float64) (float64, error) {
		return (x[0]-1)*(x[0]-1) + (x[1]-2)*(x[1]-2), nil
	}

	s, err := New(optimization.OptimizerConfig{
		Objective: objective,
		Bounds:    [][2]float64{{-5, 5}, {2, 2}},
	}, DefaultParams(), nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.BestSolution.Parameters[1])
	assert.InDelta(t, 1.0, result.BestSolution.Parameters[0], 1e-2)
	assert.Less(t, result.Evaluations, 500)

	t.Run("single point box", func(t *testing.T) {
		s, err := New(optimization.OptimizerConfig{
			Objective: objective,
			Bounds:    [][2]float64{{3, 3}, {2, 2}},
		}, DefaultParams(), nil)
		require.NoError(t, err)

		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Evaluations)
		assert.Equal(t, []float64{3, 2}, result.BestSolution.Parameters)
		assert.Equal(t, 4.0, result.BestSolution.Value)
	})
}

func TestSolverHistoryAndProgress(t *testing.T) {
	var reports []Progress
	p := DefaultParams()
	p.Progress = func(pr Progress) { reports = append(reports, pr) }

	s, err := New(optimization.OptimizerConfig{
		Objective:   sixHumpCamel,
		Bounds:      camelBounds,
		KeepHistory: true,
	}, p, nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)

	assert.Len(t, result.History, result.Evaluations)
	assert.Len(t, s.GetHistory(), result.Evaluations)
	for _, e := range result.History {
		assert.True(t, e.Feasible)
		assert.GreaterOrEqual(t, e.Solution.Value, result.BestSolution.Value)
	}

	require.Len(t, reports, result.Iterations)
	for i, r := range reports {
		assert.Equal(t, i+1, r.Iteration)
		if i > 0 {
			assert.LessOrEqual(t, r.FMin, reports[i-1].FMin)
			assert.GreaterOrEqual(t, r.Evaluations, reports[i-1].Evaluations)
		}
	}
}

func TestSolverPolish(t *testing.T) {
	shift := []float64{0.123, -0.456}
	bounds := [][2]float64{{-1, 1}, {-1, 1}}

	run := func(polish bool) *optimization.OptimizationResult {
		p := quietParams()
		p.Polish = polish
		s, err := New(optimization.OptimizerConfig{
			Objective:     shiftedSphere(shift),
			Bounds:        bounds,
			MaxIterations: 5,
		}, p, nil)
		require.NoError(t, err)
		result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
		require.NoError(t, err)
		return result
	}

	plain := run(false)
	polished := run(true)
	assert.Less(t, polished.BestSolution.Value, plain.BestSolution.Value)
	assert.Greater(t, polished.Evaluations, plain.Evaluations)
	for i, v := range polished.BestSolution.Parameters {
		assert.GreaterOrEqual(t, v, bounds[i][0])
		assert.LessOrEqual(t, v, bounds[i][1])
	}
}

func TestSolverPolishHistory(t *testing.T) {
	p := DefaultParams()
	p.Polish = true
	s, err := New(optimization.OptimizerConfig{
		Objective:     sixHumpCamel,
		Bounds:        camelBounds,
		MaxIterations: 10,
		KeepHistory:   true,
	}, p, nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)

	assert.Len(t, s.GetHistory(), s.Evaluations())
	assert.Len(t, result.History, result.Evaluations)
	for i, e := range result.History {
		assert.Equal(t, i, e.Iteration)
		assert.GreaterOrEqual(t, e.Solution.Value, result.BestSolution.Value)
		for j, v := range e.Solution.Parameters {
			assert.GreaterOrEqual(t, v, camelBounds[j][0])
			assert.LessOrEqual(t, v, camelBounds[j][1])
		}
	}
}

func TestSolverPolishRejectsInfinity(t *testing.T) {
	shift := []float64{0.123, -0.456}
	sphere := shiftedSphere(shift)
	objective := func(x []float64) (float64, error) {
		if math.Hypot(x[0]-shift[0], x[1]-shift[1]) < 0.05 {
			return math.Inf(-1), nil
		}
		return sphere(x)
	}

	p := quietParams()
	p.Polish = true
	s, err := New(optimization.OptimizerConfig{
		Objective:     objective,
		Bounds:        [][2]float64{{-1, 1}, {-1, 1}},
		MaxIterations: 5,
		KeepHistory:   true,
	}, p, nil)
	require.NoError(t, err)

	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	require.NotNil(t, result.BestSolution)
	assert.False(t, math.IsInf(result.BestSolution.Value, 0))
	assert.GreaterOrEqual(t, result.BestSolution.Value, 0.0)

	for _, e := range result.History {
		assert.False(t, math.IsInf(e.Solution.Value, 0))
		if !e.Feasible {
			assert.Equal(t, 0.0, e.Solution.Value)
		}
	}
}

func TestSolverLogsTermination(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, err := New(optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds, MaxIterations: 3}, quietParams(), zap.New(core))
	require.NoError(t, err)

	_, err = s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)

	assert.Equal(t, 3, logs.FilterMessage("iteration done").Len())
	finished := logs.FilterMessage("DIRECT finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "direct", finished[0].LoggerName)
	assert.Equal(t, int64(StatusMaxIterations), finished[0].ContextMap()["status"])
}

func TestSolverRerunWithNewObjective(t *testing.T) {
	s, err := New(optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds}, DefaultParams(), nil)
	require.NoError(t, err)

	_, err = s.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)

	shift := []float64{0.5, -0.5}
	result, err := s.Optimize(context.Background(), optimization.OptimizerConfig{
		Objective: shiftedSphere(shift),
		Bounds:    [][2]float64{{-1, 1}, {-1, 1}},
	})
	require.NoError(t, err)
	assertNear(t, result.BestSolution.Parameters, shift, 0.05)
}
