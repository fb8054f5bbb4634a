package direct

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/godirect/internal/optimization"
)

// sixHumpCamel has two global minima at (±0.0898, ∓0.7126) with value
// -1.0316284535.
func sixHumpCamel(x []float64) (float64, error) {
	x1, x2 := x[0], x[1]
	f := (4-2.1*x1*x1+x1*x1*x1*x1/3)*x1*x1 + x1*x2 + (-4+4*x2*x2)*x2*x2
	return f, nil
}

const camelMin = -1.0316284535

var camelMinimizers = [][]float64{{0.0898, -0.7126}, {-0.0898, 0.7126}}

var camelBounds = [][2]float64{{-3, 3}, {-2, 2}}

// shiftedSphere returns |x - shift|^2.
func shiftedSphere(shift []float64) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		sum := 0.0
		for i, v := range x {
			d := v - shift[i]
			sum += d * d
		}
		return sum, nil
	}
}

// assertNear fails unless got is within tol of want in every coordinate.
func assertNear(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// nearAny reports whether x lies within tol of one of the candidates.
func nearAny(x []float64, candidates [][]float64, tol float64) bool {
	for _, c := range candidates {
		ok := true
		for i := range c {
			if math.Abs(x[i]-c[i]) > tol {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// quietParams disables the size based stopping rules so that only the
// budgets end a run.
func quietParams() Params {
	p := DefaultParams()
	p.VolumeTolerance = 0
	p.SigmaTolerance = 0
	return p
}
