package direct

import (
	"math"
)

// store keeps every hyper-rectangle of a run in flat slices. Rectangles are
// never removed: dividing one shrinks it in place and appends its children.
type store struct {
	n         int
	algorithm Algorithm

	centers  []float64 // unit-cube centers, n per rectangle
	levels   []int     // trisection level per side, n per rectangle
	values   []float64 // objective value, or replacement when infeasible
	feasible []bool
	keys     []int // size group key
}

func newStore(n int, algorithm Algorithm, capacity int) *store {
	return &store{
		n:         n,
		algorithm: algorithm,
		centers:   make([]float64, 0, capacity*n),
		levels:    make([]int, 0, capacity*n),
		values:    make([]float64, 0, capacity),
		feasible:  make([]bool, 0, capacity),
		keys:      make([]int, 0, capacity),
	}
}

func (s *store) len() int {
	return len(s.values)
}

// add copies center and levels into the store and returns the new index.
func (s *store) add(center []float64, levels []int, value float64, feasible bool) int {
	s.centers = append(s.centers, center...)
	s.levels = append(s.levels, levels...)
	s.values = append(s.values, value)
	s.feasible = append(s.feasible, feasible)
	s.keys = append(s.keys, s.keyOf(levels))
	return len(s.values) - 1
}

func (s *store) center(i int) []float64 {
	return s.centers[i*s.n : (i+1)*s.n : (i+1)*s.n]
}

func (s *store) level(i int) []int {
	return s.levels[i*s.n : (i+1)*s.n : (i+1)*s.n]
}

func (s *store) setLevels(i int, levels []int) {
	copy(s.level(i), levels)
	s.keys[i] = s.keyOf(levels)
}

// keyOf maps a level vector to its size group. Division only ever splits
// the longest sides, so all levels of a rectangle lie in {m, m+1} and the
// level sum identifies the half diagonal exactly.
func (s *store) keyOf(levels []int) int {
	if s.algorithm == Locally {
		return minLevel(levels)
	}
	sum := 0
	for _, k := range levels {
		sum += k
	}
	return sum
}

// measure is the size of a group: the half diagonal for Original and half
// the longest side for Locally. Larger keys give smaller measures.
func (s *store) measure(key int) float64 {
	if s.algorithm == Locally {
		return 0.5 * math.Pow(3, -float64(key))
	}
	m, p := key/s.n, key%s.n
	sq := float64(s.n-p)*math.Pow(9, -float64(m)) + float64(p)*math.Pow(9, -float64(m+1))
	return 0.5 * math.Sqrt(sq)
}

// volumePercent is the volume of rectangle i relative to the unit cube.
func (s *store) volumePercent(i int) float64 {
	sum := 0
	for _, k := range s.level(i) {
		sum += k
	}
	return 100 * math.Pow(3, -float64(sum))
}

// contains reports whether point p lies in the neighbourhood of rectangle
// i: its box widened to twice the side length in every dimension.
func (s *store) contains(i int, p []float64) bool {
	c := s.center(i)
	for d, k := range s.level(i) {
		if math.Abs(p[d]-c[d]) > math.Pow(3, -float64(k)) {
			return false
		}
	}
	return true
}

func minLevel(levels []int) int {
	if len(levels) == 0 {
		return 0
	}
	m := levels[0]
	for _, k := range levels[1:] {
		if k < m {
			m = k
		}
	}
	return m
}
