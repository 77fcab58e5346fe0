package dirmult

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Shrink blends one entity's raw counts with the fitted prior:
//
//	estimate_j = (x_j + α_j) / (n + Σα)
//
// The result is strictly inside (0,1) and sums to one. An all-zero row
// reduces to the prior mean α/Σα with no special casing; as n grows the
// estimate approaches the raw proportions.
func Shrink(counts []int, model *FittedModel) ([]float64, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	k := len(model.alpha)
	if len(counts) != k {
		return nil, fmt.Errorf("%w: have %d counts for %d categories", ErrRaggedRow, len(counts), k)
	}
	var n float64
	for j, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: category %q", ErrNegativeCount, model.categories[j])
		}
		n += float64(c)
	}
	out := make([]float64, k)
	denom := n + model.alpha.Sum()
	for j, c := range counts {
		out[j] = (float64(c) + model.alpha[j]) / denom
	}
	return out, nil
}

// ShrinkAll computes the shrunken estimate for every row of cm, in row
// order. Rows are independent, so they are chunked across workers.
func ShrinkAll(ctx context.Context, cm *CountMatrix, model *FittedModel) ([][]float64, error) {
	if model == nil {
		return nil, errors.New("nil model")
	}
	k := len(model.alpha)
	if cm.NumCategories() != k {
		return nil, fmt.Errorf("%w: matrix has %d categories, model has %d", ErrRaggedRow, cm.NumCategories(), k)
	}
	rows := cm.Rows()
	out := make([][]float64, rows)
	if rows == 0 {
		return out, nil
	}
	sumAlpha := model.alpha.Sum()
	threads := min(max(1, runtime.NumCPU()), rows)
	chunk := (rows + threads - 1) / threads

	g, ctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		start := t * chunk
		end := min(start+chunk, rows)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				est := make([]float64, k)
				denom := cm.totals[i] + sumAlpha
				for j, x := range cm.counts[i] {
					est[j] = (x + model.alpha[j]) / denom
				}
				out[i] = est
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WeightedScore collapses a shrunken estimate to a scalar with per-category
// weights, e.g. total-base weights (1,2,3,4,0) over hit categories give a
// slugging-style number.
func WeightedScore(estimate, weights []float64) (float64, error) {
	if len(weights) != len(estimate) {
		return 0, fmt.Errorf("%w: have %d weights for %d categories", ErrWeightLength, len(weights), len(estimate))
	}
	var sum float64
	for j, w := range weights {
		sum += w * estimate[j]
	}
	return sum, nil
}
