// Package stats provides the streaming-statistics toolkit used by the
// estimation code: Welford accumulators for running means and variances,
// and standard-normal quantiles for confidence intervals.
package stats

import "math"

const (
	Epsilon = 1e-6
)

func FuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Statistic accumulates a running mean and variance with Welford's
// algorithm. The zero value is ready to use. Accumulators filled on
// separate goroutines can be combined afterwards with Merge.
type Statistic struct {
	n    int
	last float64
	mean float64
	// sum of squared deviations from the running mean
	ssq float64
}

func (s *Statistic) Push(val float64) {
	s.last = val
	s.n++
	if s.n == 1 {
		s.mean = val
		return
	}
	delta := val - s.mean
	s.mean += delta / float64(s.n)
	s.ssq += delta * (val - s.mean)
}

// Merge folds other into s, as if every value pushed into other had been
// pushed into s. Uses the pairwise combination of Welford partials, so the
// result does not depend on how the stream was split.
func (s *Statistic) Merge(other *Statistic) {
	if other.n == 0 {
		return
	}
	if s.n == 0 {
		*s = *other
		return
	}
	n1 := float64(s.n)
	n2 := float64(other.n)
	tot := n1 + n2
	delta := other.mean - s.mean
	s.mean += delta * n2 / tot
	s.ssq += other.ssq + delta*delta*n1*n2/tot
	s.n += other.n
	s.last = other.last
}

func (s *Statistic) Mean() float64 {
	if s.n > 0 {
		return s.mean
	}
	return 0.0
}

// Variance returns the sample variance (n−1 denominator).
func (s *Statistic) Variance() float64 {
	if s.n <= 1 {
		return 0.0
	}
	return s.ssq / float64(s.n-1)
}

func (s *Statistic) Stdev() float64 {
	return math.Sqrt(s.Variance())
}

func (s *Statistic) Last() float64 {
	return s.last
}

// StandardError returns the standard error of the mean.
func (s *Statistic) StandardError() float64 {
	if s.n == 0 {
		return 0.0
	}
	return math.Sqrt(s.Variance() / float64(s.n))
}

func (s *Statistic) Count() int {
	return s.n
}
