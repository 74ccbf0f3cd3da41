package growth

import (
	"fmt"
	"math"
	"sort"
)

// LMS holds the Box-Cox power (L), median (M) and coefficient of
// variation (S) at one reference breakpoint.
type LMS struct {
	L float64
	M float64
	S float64
}

// Z returns the unrestricted LMS z-score of x.
func (p LMS) Z(x float64) float64 {
	if p.L == 0 {
		return math.Log(x/p.M) / p.S
	}
	return (math.Pow(x/p.M, p.L) - 1) / (p.L * p.S)
}

// SD returns the measurement at k standard deviations from the median.
func (p LMS) SD(k float64) float64 {
	if p.L == 0 {
		return p.M * math.Exp(p.S*k)
	}
	return p.M * math.Pow(1+p.L*p.S*k, 1/p.L)
}

// RestrictedZ applies the WHO rule for weight-based indicators: beyond
// +/-3 SD the distance is measured in units of the 2-3 SD interval.
func (p LMS) RestrictedZ(x float64) float64 {
	z := p.Z(x)
	switch {
	case z > 3:
		sd3 := p.SD(3)
		return 3 + (x-sd3)/(sd3-p.SD(2))
	case z < -3:
		sd3 := p.SD(-3)
		return -3 - (sd3-x)/(p.SD(-2)-sd3)
	}
	return z
}

// Point is a table row keyed by age in months or length/height in cm.
type Point struct {
	Key float64
	LMS
}

// Table is a sorted set of breakpoints. Values between breakpoints are
// linearly interpolated.
type Table struct {
	points []Point
}

// NewTable sorts points by key and rejects duplicates and non-positive M or S.
func NewTable(points []Point) (*Table, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for i, p := range sorted {
		if p.M <= 0 || p.S <= 0 {
			return nil, fmt.Errorf("row %v: M and S must be positive", p.Key)
		}
		if i > 0 && sorted[i-1].Key == p.Key {
			return nil, fmt.Errorf("duplicate row %v", p.Key)
		}
	}
	return &Table{points: sorted}, nil
}

// Range returns the smallest and largest keys.
func (t *Table) Range() (float64, float64) {
	return t.points[0].Key, t.points[len(t.points)-1].Key
}

// At returns the LMS parameters at key, or false when key lies outside the table.
func (t *Table) At(key float64) (LMS, bool) {
	lo, hi := t.Range()
	if key < lo || key > hi {
		return LMS{}, false
	}
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].Key >= key })
	if t.points[i].Key == key {
		return t.points[i].LMS, true
	}
	a, b := t.points[i-1], t.points[i]
	f := (key - a.Key) / (b.Key - a.Key)
	return LMS{
		L: a.L + f*(b.L-a.L),
		M: a.M + f*(b.M-a.M),
		S: a.S + f*(b.S-a.S),
	}, true
}

// Len returns the number of breakpoints.
func (t *Table) Len() int {
	return len(t.points)
}
