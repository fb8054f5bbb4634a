package direct

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Algorithm selects the DIRECT variant.
type Algorithm int

const (
	// Original is the algorithm of Jones, Perttunen and Stuckman: rectangles
	// are measured by their half diagonal and every rectangle tying for a
	// size group minimum is divided.
	Original Algorithm = 0
	// Locally is Gablonsky's DIRECT-L: rectangles are measured by their
	// longest side and one rectangle per size group is divided, which biases
	// the search towards the incumbent.
	Locally Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case Original:
		return "original"
	case Locally:
		return "locally-biased"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm accepts "original"/"0" and "locally"/"direct-l"/"1".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "original", "direct":
		return Original, nil
	case "1", "locally", "locally-biased", "direct-l":
		return Locally, nil
	}
	return 0, fmt.Errorf("unknown DIRECT algorithm %q", s)
}

const (
	// DefaultEpsilon is the Jones factor used by the wrapper (10e-4).
	DefaultEpsilon = 1e-3
	// DefaultMaxEvaluations is the default evaluation budget.
	DefaultMaxEvaluations = 10000
	// DefaultMaxIterations is the default iteration limit.
	DefaultMaxIterations = 100
	// DefaultGlobalMin is the placeholder for an unknown global minimum.
	DefaultGlobalMin = -1e6
	// DefaultVolumeTolerance is given in percent of the search box volume.
	DefaultVolumeTolerance = 1e-5
	// DefaultSigmaTolerance bounds the size measure of the best rectangle.
	DefaultSigmaTolerance = 1e-3

	// MaxEvaluationsLimit is the largest accepted evaluation budget.
	MaxEvaluationsLimit = 90000
	// MaxLevel is the deepest trisection level of any side. Beyond it the
	// new sample offsets drop below float64 resolution of the unit cube.
	MaxLevel = 30
)

// Progress is reported once per iteration.
type Progress struct {
	Iteration   int
	Evaluations int
	FMin        float64
	X           []float64
}

// Params holds the DIRECT-specific settings. Budgets (maxf, maxT) live in
// optimization.OptimizerConfig.
type Params struct {
	// Epsilon is the Jones factor. A negative value keeps the relative rule
	// with |Epsilon| but never lets the required improvement fall below 1e-8.
	Epsilon float64
	// Algorithm is the DIRECT variant.
	Algorithm Algorithm
	// GlobalMin is the known global minimum, if any (fglobal).
	GlobalMin float64
	// GlobalTolerance is the relative distance to GlobalMin, in percent,
	// that ends the run (fglper).
	GlobalTolerance float64
	// VolumeTolerance ends the run when the best rectangle's volume is at
	// most this percentage of the box (volper).
	VolumeTolerance float64
	// SigmaTolerance ends the run when the best rectangle's size measure is
	// at most this value (sigmaper).
	SigmaTolerance float64
	// Polish runs a bounded Nelder-Mead search from the incumbent after a
	// normal termination.
	Polish bool
	// Progress, if set, is called after every iteration.
	Progress func(Progress)
}

// DefaultParams returns the wrapper defaults.
func DefaultParams() Params {
	return Params{
		Epsilon:         DefaultEpsilon,
		Algorithm:       Original,
		GlobalMin:       DefaultGlobalMin,
		GlobalTolerance: 0,
		VolumeTolerance: DefaultVolumeTolerance,
		SigmaTolerance:  DefaultSigmaTolerance,
	}
}

func (p Params) validate() error {
	if p.Algorithm != Original && p.Algorithm != Locally {
		return fmt.Errorf("unsupported algorithm %d", int(p.Algorithm))
	}
	for name, v := range map[string]float64{
		"epsilon":          p.Epsilon,
		"global minimum":   p.GlobalMin,
		"global tolerance": p.GlobalTolerance,
		"volume tolerance": p.VolumeTolerance,
		"sigma tolerance":  p.SigmaTolerance,
	} {
		if math.IsNaN(v) {
			return fmt.Errorf("%s is NaN", name)
		}
	}
	return nil
}

// improvement returns the amount by which a rectangle must be able to beat
// fmin to be potentially optimal.
func (p Params) improvement(fmin float64) float64 {
	if p.Epsilon < 0 {
		return math.Max(-p.Epsilon*math.Abs(fmin), 1e-8)
	}
	return p.Epsilon * math.Abs(fmin)
}

// ErrInfeasible is returned by an objective to mark a point as violating a
// hidden constraint. The point is kept but never becomes the incumbent.
var ErrInfeasible = errors.New("direct: infeasible point")
