package stats

import "gonum.org/v1/gonum/stat/distuv"

// ZVal returns the two-tailed Z-value associated with a specific confidence
// level. The level is a number from 0 to 100 percent.
func ZVal(confidence float64) float64 {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: 1,
	}
	area := (1 + (confidence / 100)) / 2
	return dist.Quantile(area)
}

// Commonly used levels, precomputed.
var (
	Z95 = ZVal(95)
	Z98 = ZVal(98)
	Z99 = ZVal(99)
)
