package direct

import (
	"context"
	"fmt"
	"testing"

	"github.com/copyleftdev/godirect/internal/optimization"
)

// BenchmarkSolverCamel measures a full default run on the six-hump camelback.
func BenchmarkSolverCamel(b *testing.B) {
	for _, alg := range []Algorithm{Original, Locally} {
		b.Run(alg.String(), func(b *testing.B) {
			p := DefaultParams()
			p.Algorithm = alg
			for i := 0; i < b.N; i++ {
				s, err := New(optimization.OptimizerConfig{Objective: sixHumpCamel, Bounds: camelBounds}, p, nil)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := s.Optimize(context.Background(), optimization.OptimizerConfig{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSolverDimensions measures a fixed budget on spheres of growing
// dimension, where selection cost grows with the number of rectangles.
func BenchmarkSolverDimensions(b *testing.B) {
	for _, n := range []int{2, 4, 8} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			shift := make([]float64, n)
			bounds := make([][2]float64, n)
			for i := range bounds {
				shift[i] = 0.3
				bounds[i] = [2]float64{-1, 1}
			}
			cfg := optimization.OptimizerConfig{Objective: shiftedSphere(shift), Bounds: bounds, MaxEvaluations: 2000}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s, err := New(cfg, quietParams(), nil)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := s.Optimize(context.Background(), optimization.OptimizerConfig{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
