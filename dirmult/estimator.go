// Package dirmult fits Dirichlet-multinomial models to tables of category
// counts and applies the fitted model as an empirical-Bayes prior, shrinking
// noisy per-entity proportions toward the population mean.
//
// The fit is Minka's fixed-point iteration for the maximum-likelihood
// concentration vector:
// https://tminka.github.io/papers/dirichlet/minka-dirichlet.pdf
package dirmult

import (
	"context"
	"errors"
	"io"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/domino14/dirimult/specfun"
	"github.com/domino14/dirimult/stats"
)

const (
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 1000
	// AlphaFloor is the smallest concentration an update may produce. Updates
	// that would drive a concentration below it (or non-finite) are clamped
	// and counted in the diagnostics.
	AlphaFloor = 1e-6
)

// LogIteration is a struct meant for serializing the per-iteration fit trace
// to a log stream, for debugging or convergence analysis.
type LogIteration struct {
	Iteration     int     `json:"iteration" yaml:"iteration"`
	LogLikelihood float64 `json:"log_likelihood" yaml:"log_likelihood"`
	SumAlpha      float64 `json:"sum_alpha" yaml:"sum_alpha"`
	MaxRelChange  float64 `json:"max_rel_change" yaml:"max_rel_change"`
	Clamped       int     `json:"clamped,omitempty" yaml:"clamped,omitempty"`
}

// Estimator fits a concentration vector to a CountMatrix. An Estimator is
// reusable but not concurrently: one Fit at a time.
type Estimator struct {
	tolerance     float64
	maxIterations int
	threads       int
	logStream     io.Writer

	fitting        atomic.Bool
	iterationCount atomic.Uint64
}

func NewEstimator() *Estimator {
	return &Estimator{
		tolerance:     DefaultTolerance,
		maxIterations: DefaultMaxIterations,
		threads:       max(1, runtime.NumCPU()),
	}
}

// SetTolerance sets the relative-change threshold, applied to both the
// log-likelihood and the concentration vector, below which the fit is
// considered converged.
func (e *Estimator) SetTolerance(tol float64) {
	if tol > 0 {
		e.tolerance = tol
	}
}

func (e *Estimator) SetMaxIterations(n int) {
	if n > 0 {
		e.maxIterations = n
	}
}

func (e *Estimator) SetThreads(threads int) {
	if threads > 0 {
		e.threads = threads
	}
}

// SetLogStream sets a writer that receives one YAML list element per
// iteration; the accumulated stream is a single YAML list.
func (e *Estimator) SetLogStream(l io.Writer) {
	e.logStream = l
}

// Iterations returns the iteration count of the last (or current) fit.
func (e *Estimator) Iterations() int {
	return int(e.iterationCount.Load())
}

// IsFitting returns whether a fit is currently running.
func (e *Estimator) IsFitting() bool {
	return e.fitting.Load()
}

// Fit estimates the maximum-likelihood concentration vector for cm. It
// always returns a usable model unless the input is structurally invalid:
// cancellation, clamp degeneracy, and hitting the iteration cap all return
// the best vector seen so far with Converged reporting false.
func (e *Estimator) Fit(ctx context.Context, cm *CountMatrix) (*FittedModel, error) {
	logger := zerolog.Ctx(ctx)

	if cm == nil || cm.UsableRows() == 0 {
		return nil, ErrNoUsableRows
	}
	if !e.fitting.CompareAndSwap(false, true) {
		return nil, errors.New("a fit is already in progress on this estimator")
	}
	defer e.fitting.Store(false)
	e.iterationCount.Store(0)

	k := cm.NumCategories()
	rows := cm.Rows()
	threads := min(e.threads, rows)

	alpha := momentInit(cm)
	diag := FitDiagnostics{
		SkippedRows:    rows - cm.UsableRows(),
		StandardErrors: make([]float64, k),
	}
	defer func() {
		logger.Info().
			Int("iterations", diag.Iterations).
			Bool("converged", diag.Converged).
			Int("clamped", diag.ClampCount).
			Msg("fit-ended")
	}()

	prevLL := math.Inf(-1)
	bestLL := math.Inf(-1)
	bestAlpha := alpha.Clone()
	converged := false

	for it := 1; it <= e.maxIterations; it++ {
		if ctx.Err() != nil {
			diag.StopReason = ctx.Err().Error()
			logger.Debug().Int("iteration", it).Msg("fit-cancelled")
			break
		}
		sc, err := newIterScratch(alpha)
		if err != nil {
			return nil, err
		}
		res, err := parallelSweep(cm, sc, threads)
		if err != nil {
			return nil, err
		}
		e.iterationCount.Add(1)
		diag.Iterations = it

		if res.logL > bestLL {
			bestLL = res.logL
			copy(bestAlpha, alpha)
		}

		clamped := 0
		maxRel := 0.0
		for j := range alpha {
			next := alpha[j] * res.numer[j] / res.denom
			if math.IsNaN(next) || math.IsInf(next, 0) || next < AlphaFloor {
				next = AlphaFloor
				clamped++
			}
			rel := math.Abs(next-alpha[j]) / alpha[j]
			if rel > maxRel {
				maxRel = rel
			}
			alpha[j] = next
		}
		diag.ClampCount += clamped
		if clamped > 0 {
			logger.Debug().Int("iteration", it).Int("clamped", clamped).Msg("clamped-concentrations")
		}

		if e.logStream != nil {
			out, merr := yaml.Marshal([]LogIteration{{
				Iteration:     it,
				LogLikelihood: res.logL,
				SumAlpha:      sc.sumAlpha,
				MaxRelChange:  maxRel,
				Clamped:       clamped,
			}})
			if merr == nil {
				e.logStream.Write(out)
			}
		}

		if clamped == k {
			diag.StopReason = "every category clamped"
			logger.Warn().Int("iteration", it).Msg("degenerate-update")
			break
		}

		relLL := math.Abs(res.logL-prevLL) / math.Max(math.Abs(prevLL), 1)
		if maxRel < e.tolerance || (it > 1 && relLL < e.tolerance) {
			converged = true
			break
		}
		prevLL = res.logL
	}

	if !converged && diag.StopReason == "" {
		diag.StopReason = "max iterations reached"
	}

	// One more pass for the likelihood at the final vector. The fixed point
	// never decreases the likelihood, but a clamped or interrupted update is
	// not a fixed-point step, so keep whichever vector scored best.
	sc, err := newIterScratch(alpha)
	if err != nil {
		return nil, err
	}
	res, err := parallelSweep(cm, sc, threads)
	if err != nil {
		return nil, err
	}
	finalLL := res.logL
	if finalLL < bestLL {
		copy(alpha, bestAlpha)
		finalLL = bestLL
	}
	diag.LogLikelihood = finalLL
	diag.Converged = converged

	se, err := standardErrors(cm, alpha, threads)
	if err != nil {
		return nil, err
	}
	diag.StandardErrors = se

	return &FittedModel{
		categories: cm.Categories(),
		alpha:      alpha,
		diag:       diag,
	}, nil
}

// momentInit seeds the iteration by matching Dirichlet moments to the
// observed column proportions: for each category with spread,
// m(1−m)/v − 1 estimates the total concentration. Falls back to all ones
// when fewer than two usable rows exist or no category has usable spread.
func momentInit(cm *CountMatrix) AlphaVector {
	k := cm.NumCategories()
	alpha := make(AlphaVector, k)
	ones := func() AlphaVector {
		for j := range alpha {
			alpha[j] = 1
		}
		return alpha
	}
	if cm.UsableRows() < 2 {
		return ones()
	}
	cols := make([]stats.Statistic, k)
	for i := 0; i < cm.Rows(); i++ {
		if cm.totals[i] == 0 {
			continue
		}
		for j, c := range cm.counts[i] {
			cols[j].Push(c / cm.totals[i])
		}
	}
	var prec stats.Statistic
	for j := range cols {
		m, v := cols[j].Mean(), cols[j].Variance()
		if v > 1e-12 && m > 0 && m < 1 {
			s := m*(1-m)/v - 1
			if s > 0 && !math.IsInf(s, 1) {
				prec.Push(s)
			}
		}
	}
	scale := prec.Mean()
	if prec.Count() == 0 || scale <= 0 {
		return ones()
	}
	for j := range cols {
		alpha[j] = math.Max(cols[j].Mean()*scale, AlphaFloor)
	}
	return alpha
}

// iterScratch holds the per-iteration values that depend only on the
// current concentration vector, hoisted out of the row sweep.
type iterScratch struct {
	alpha    AlphaVector
	sumAlpha float64
	dgSum    float64
	lgSum    float64
	dgAlpha  []float64
	lgAlpha  []float64
}

func newIterScratch(alpha AlphaVector) (*iterScratch, error) {
	sc := &iterScratch{
		alpha:    alpha,
		sumAlpha: alpha.Sum(),
		dgAlpha:  make([]float64, len(alpha)),
		lgAlpha:  make([]float64, len(alpha)),
	}
	var err error
	if sc.dgSum, err = specfun.Digamma(sc.sumAlpha); err != nil {
		return nil, err
	}
	if sc.lgSum, err = specfun.LogGamma(sc.sumAlpha); err != nil {
		return nil, err
	}
	for j, a := range alpha {
		if sc.dgAlpha[j], err = specfun.Digamma(a); err != nil {
			return nil, err
		}
		if sc.lgAlpha[j], err = specfun.LogGamma(a); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// sweepResult accumulates, over usable rows, the Minka update denominator
// Σ_i [ψ(n_i+Σα) − ψ(Σα)], the per-category numerators
// Σ_i [ψ(x_ij+α_j) − ψ(α_j)], and the log-likelihood at the current vector.
// Terms with x_ij = 0 cancel exactly and are skipped.
type sweepResult struct {
	denom float64
	numer []float64
	logL  float64
}

func sweepRows(cm *CountMatrix, sc *iterScratch, start, end int, out *sweepResult) error {
	for i := start; i < end; i++ {
		total := cm.totals[i]
		if total == 0 {
			continue
		}
		dgTot, err := specfun.Digamma(total + sc.sumAlpha)
		if err != nil {
			return err
		}
		lgTot, err := specfun.LogGamma(total + sc.sumAlpha)
		if err != nil {
			return err
		}
		out.denom += dgTot - sc.dgSum
		out.logL += sc.lgSum - lgTot
		for j, x := range cm.counts[i] {
			if x == 0 {
				continue
			}
			dg, err := specfun.Digamma(x + sc.alpha[j])
			if err != nil {
				return err
			}
			lg, err := specfun.LogGamma(x + sc.alpha[j])
			if err != nil {
				return err
			}
			out.numer[j] += dg - sc.dgAlpha[j]
			out.logL += lg - sc.lgAlpha[j]
		}
	}
	return nil
}

// parallelSweep partitions the rows across threads workers and combines the
// partial sums in worker order, so a given thread count always produces the
// same floating-point result.
func parallelSweep(cm *CountMatrix, sc *iterScratch, threads int) (*sweepResult, error) {
	k := len(sc.alpha)
	rows := cm.Rows()
	chunk := (rows + threads - 1) / threads
	partials := make([]sweepResult, threads)

	g := errgroup.Group{}
	for t := 0; t < threads; t++ {
		start := t * chunk
		end := min(start+chunk, rows)
		part := &partials[t]
		part.numer = make([]float64, k)
		g.Go(func() error {
			return sweepRows(cm, sc, start, end, part)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &sweepResult{numer: make([]float64, k)}
	for t := range partials {
		res.denom += partials[t].denom
		res.logL += partials[t].logL
		for j := range res.numer {
			res.numer[j] += partials[t].numer[j]
		}
	}
	return res, nil
}

// standardErrors computes asymptotic standard errors from the inverse
// negative Hessian of the log-likelihood at alpha. The Hessian is a diagonal
// plus a rank-one term, so the inverse diagonal has a closed form
// (Sherman–Morrison); when the rank-one correction is degenerate the
// diagonal approximation is used instead. Directions with no curvature
// report a zero standard error.
func standardErrors(cm *CountMatrix, alpha AlphaVector, threads int) ([]float64, error) {
	k := len(alpha)
	rows := cm.Rows()
	chunk := (rows + threads - 1) / threads

	sumAlpha := alpha.Sum()
	tgSum, err := specfun.Trigamma(sumAlpha)
	if err != nil {
		return nil, err
	}
	tgAlpha := make([]float64, k)
	for j, a := range alpha {
		if tgAlpha[j], err = specfun.Trigamma(a); err != nil {
			return nil, err
		}
	}

	type partial struct {
		c float64
		d []float64
	}
	partials := make([]partial, threads)
	g := errgroup.Group{}
	for t := 0; t < threads; t++ {
		start := t * chunk
		end := min(start+chunk, rows)
		part := &partials[t]
		part.d = make([]float64, k)
		g.Go(func() error {
			for i := start; i < end; i++ {
				total := cm.totals[i]
				if total == 0 {
					continue
				}
				tgTot, err := specfun.Trigamma(total + sumAlpha)
				if err != nil {
					return err
				}
				part.c += tgSum - tgTot
				for j, x := range cm.counts[i] {
					if x == 0 {
						continue
					}
					tg, err := specfun.Trigamma(x + alpha[j])
					if err != nil {
						return err
					}
					part.d[j] += tgAlpha[j] - tg
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var c float64
	d := make([]float64, k)
	for t := range partials {
		c += partials[t].c
		for j := range d {
			d[j] += partials[t].d[j]
		}
	}

	var invSum float64
	for j := range d {
		if d[j] > 0 {
			invSum += 1 / d[j]
		}
	}
	rankOneOK := 1-c*invSum > 0

	se := make([]float64, k)
	for j := range d {
		if d[j] <= 0 {
			continue
		}
		variance := 1 / d[j]
		if rankOneOK {
			variance += c / (d[j] * d[j] * (1 - c*invSum))
		}
		if variance > 0 && !math.IsInf(variance, 1) {
			se[j] = math.Sqrt(variance)
		}
	}
	return se, nil
}
