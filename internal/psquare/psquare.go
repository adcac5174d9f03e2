// Package psquare estimates streaming quantiles using the P-Square algorithm
// (Jain and Chlamtac, 1985), in constant memory and constant time per
// observation.
//
// Values are NOT safe for concurrent use.
package psquare

import (
	"math"
)

// Estimator tracks a single target quantile.
type Estimator struct {
	// heights of the five markers
	q [5]float64
	// desired positions, and their per-observation increments
	want [5]float64
	step [5]float64
	// actual (0-indexed) positions
	pos   [5]int
	p     float64
	count int
}

// New returns an Estimator for quantile p, clamped to [0, 1].
func New(p float64) *Estimator {
	p = math.Max(0, math.Min(1, p))
	return &Estimator{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// P returns the target quantile.
func (e *Estimator) P() float64 { return e.p }

// Count returns the number of observations.
func (e *Estimator) Count() int { return e.count }

// Observe adds x to the estimate.
func (e *Estimator) Observe(x float64) {
	e.count++
	if e.count <= 5 {
		e.q[e.count-1] = x
		if e.count == 5 {
			e.seed()
		}
		return
	}

	var cell int
	switch {
	case x < e.q[0]:
		e.q[0] = x
	case x >= e.q[4]:
		e.q[4] = x
		cell = 3
	default:
		for cell < 3 && x >= e.q[cell+1] {
			cell++
		}
	}

	for i := cell + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := range e.want {
		e.want[i] += e.step[i]
	}

	for i := 1; i < 4; i++ {
		d := e.want[i] - float64(e.pos[i])
		if !(d >= 1 && e.pos[i+1]-e.pos[i] > 1) && !(d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			continue
		}
		dir := 1
		if d < 0 {
			dir = -1
		}
		if h := e.parabolic(i, dir); e.q[i-1] < h && h < e.q[i+1] {
			e.q[i] = h
		} else {
			e.q[i] = e.linear(i, dir)
		}
		e.pos[i] += dir
	}
}

func (e *Estimator) seed() {
	insertionSort(e.q[:])
	for i := range e.pos {
		e.pos[i] = i
	}
	e.want = [5]float64{0, 2 * e.p, 4 * e.p, 2 + 2*e.p, 4}
}

func (e *Estimator) parabolic(i, dir int) float64 {
	d := float64(dir)
	n, prev, next := float64(e.pos[i]), float64(e.pos[i-1]), float64(e.pos[i+1])
	return e.q[i] + d/(next-prev)*
		((n-prev+d)*(e.q[i+1]-e.q[i])/(next-n)+
			(next-n-d)*(e.q[i]-e.q[i-1])/(n-prev))
}

func (e *Estimator) linear(i, dir int) float64 {
	j := i + dir
	return e.q[i] + float64(dir)*(e.q[j]-e.q[i])/float64(e.pos[j]-e.pos[i])
}

// Value returns the current estimate, or 0 if nothing was observed.
func (e *Estimator) Value() float64 {
	switch {
	case e.count == 0:
		return 0
	case e.count < 5:
		var buf [5]float64
		copy(buf[:], e.q[:e.count])
		insertionSort(buf[:e.count])
		return buf[int(float64(e.count-1)*e.p)]
	default:
		return e.q[2]
	}
}

// Max returns the largest observation, or 0 if nothing was observed.
func (e *Estimator) Max() float64 {
	switch {
	case e.count == 0:
		return 0
	case e.count < 5:
		v := e.q[0]
		for _, x := range e.q[1:e.count] {
			v = math.Max(v, x)
		}
		return v
	default:
		return e.q[4]
	}
}

func insertionSort(s []float64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Summary tracks several quantiles of the same stream, plus its sum and max.
type Summary struct {
	estimators []*Estimator
	sum        float64
	max        float64
	count      int
}

// NewSummary returns a Summary tracking each of the given quantiles, in order.
func NewSummary(quantiles ...float64) *Summary {
	s := &Summary{estimators: make([]*Estimator, len(quantiles))}
	for i, p := range quantiles {
		s.estimators[i] = New(p)
	}
	s.Reset()
	return s
}

// Observe adds x to every estimator.
func (s *Summary) Observe(x float64) {
	s.count++
	s.sum += x
	s.max = math.Max(s.max, x)
	for _, e := range s.estimators {
		e.Observe(x)
	}
}

// Quantile returns the estimate for the i-th configured quantile.
func (s *Summary) Quantile(i int) float64 {
	if i < 0 || i >= len(s.estimators) {
		return 0
	}
	return s.estimators[i].Value()
}

func (s *Summary) Count() int { return s.count }

func (s *Summary) Max() float64 {
	if s.count == 0 {
		return 0
	}
	return s.max
}

func (s *Summary) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// Reset discards all observations.
func (s *Summary) Reset() {
	s.count = 0
	s.sum = 0
	s.max = -math.MaxFloat64
	for i, e := range s.estimators {
		s.estimators[i] = New(e.p)
	}
}
