package direct

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// group is the set of rectangles sharing one size, reduced to those that
// attain the group's lowest value.
type group struct {
	key     int
	d       float64
	f       float64
	members []int
}

// groups returns the size groups ordered by increasing measure.
func (s *store) groups() []*group {
	byKey := make(map[int]*group)
	for i, f := range s.values {
		k := s.keys[i]
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k, d: s.measure(k), f: math.Inf(1)}
			byKey[k] = g
		}
		switch {
		case f < g.f:
			g.f = f
			g.members = append(g.members[:0], i)
		case f == g.f:
			g.members = append(g.members, i)
		}
	}

	out := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].d < out[b].d })
	return out
}

// selectPotentiallyOptimal returns the rectangles to divide this iteration.
//
// A group minimum j is potentially optimal when some rate K > 0 exists with
//
//	f_j - K d_j <= f_i - K d_i  for every other group minimum i, and
//	f_j - K d_j <= fmin - improvement(fmin).
//
// The first condition bounds K from below by the slopes to smaller groups
// and from above by the slopes to larger groups; the second is checked at
// the upper bound, where f_j - K d_j is smallest.
func (s *Solver) selectPotentiallyOptimal() []int {
	gs := s.store.groups()
	fmin := s.selectionMin()
	threshold := fmin - s.params.improvement(fmin)

	var selected []int
	for j, g := range gs {
		lo, hi := math.Inf(-1), math.Inf(1)
		for _, o := range gs[:j] {
			lo = math.Max(lo, (g.f-o.f)/(g.d-o.d))
		}
		for _, o := range gs[j+1:] {
			hi = math.Min(hi, (o.f-g.f)/(o.d-g.d))
		}
		if lo > hi {
			continue
		}
		if !math.IsInf(hi, 1) && g.f-g.d*hi > threshold {
			continue
		}
		if s.params.Algorithm == Locally {
			selected = append(selected, g.members[0])
		} else {
			selected = append(selected, g.members...)
		}
	}
	return selected
}

// selectionMin is the incumbent value, or the lowest stored value when no
// feasible point has been found yet.
func (s *Solver) selectionMin() float64 {
	if s.best >= 0 {
		return s.store.values[s.best]
	}
	return floats.Min(s.store.values)
}
