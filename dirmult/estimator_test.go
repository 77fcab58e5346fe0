package dirmult

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mathext"
	"gopkg.in/yaml.v3"
)

func TestFitRecoversKnownAlpha(t *testing.T) {
	truth := []float64{2, 3, 5}
	for _, rows := range []int{10, 100, 10000} {
		sampler, err := NewSeededSampler(truth, 200, 42)
		require.NoError(t, err)
		m, err := sampler.Matrix(rows)
		require.NoError(t, err)

		model, err := NewEstimator().Fit(context.Background(), m)
		require.NoError(t, err)
		assert.True(t, model.Converged(), "rows=%d", rows)

		if rows == 10000 {
			alpha := model.Alpha()
			for j, want := range truth {
				assert.InEpsilon(t, want, alpha[j], 0.05, "alpha[%d] at rows=%d", j, rows)
			}
		}
	}
}

func TestFitNormalizedProportions(t *testing.T) {
	// Rows share the exact same proportions at very different totals. The
	// scale of alpha is unbounded for such data, but its direction must
	// match the shared proportions.
	m, err := NewCountMatrix(
		[]string{"a", "b", "c"},
		nil,
		[][]int{{50, 30, 20}, {5, 3, 2}, {500, 300, 200}},
	)
	require.NoError(t, err)

	model, err := NewEstimator().Fit(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, model.Converged())

	norm := model.PriorMean()
	for j, want := range []float64{0.5, 0.3, 0.2} {
		assert.InEpsilon(t, want, norm[j], 0.02, "category %d", j)
	}
}

func TestFitZeroCountCategory(t *testing.T) {
	m, err := NewCountMatrix(
		[]string{"hit", "out", "never"},
		nil,
		[][]int{{5, 5, 0}, {7, 3, 0}, {9, 1, 0}, {4, 6, 0}},
	)
	require.NoError(t, err)

	model, err := NewEstimator().Fit(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, model.Converged())

	alpha := model.Alpha()
	assert.Greater(t, alpha[2], 0.0)
	assert.LessOrEqual(t, alpha[2], 1e-3)

	diag := model.Diagnostics()
	assert.Greater(t, diag.ClampCount, 0)
	// no curvature in the never-observed direction
	assert.Equal(t, 0.0, diag.StandardErrors[2])
	assert.Greater(t, diag.StandardErrors[0], 0.0)
}

// betaBinomFit is an independent two-category fixed point, written directly
// against gonum's digamma, used to cross-check the general estimator.
func betaBinomFit(xs, ns []float64) (float64, float64) {
	a, b := 1.0, 1.0
	for it := 0; it < 50000; it++ {
		var numA, numB, den float64
		for i := range xs {
			numA += mathext.Digamma(xs[i]+a) - mathext.Digamma(a)
			numB += mathext.Digamma(ns[i]-xs[i]+b) - mathext.Digamma(b)
			den += mathext.Digamma(ns[i]+a+b) - mathext.Digamma(a+b)
		}
		na := a * numA / den
		nb := b * numB / den
		relA := math.Abs(na-a) / a
		relB := math.Abs(nb-b) / b
		a, b = na, nb
		if relA < 1e-12 && relB < 1e-12 {
			break
		}
	}
	return a, b
}

func TestFitMatchesBetaBinomial(t *testing.T) {
	sampler, err := NewSeededSampler([]float64{2, 5}, 60, 7)
	require.NoError(t, err)
	m, err := sampler.Matrix(400)
	require.NoError(t, err)

	xs := make([]float64, m.Rows())
	ns := make([]float64, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		row := m.Row(i)
		xs[i] = float64(row[0])
		ns[i] = float64(m.RowTotal(i))
	}
	a, b := betaBinomFit(xs, ns)

	e := NewEstimator()
	e.SetTolerance(1e-9)
	e.SetMaxIterations(20000)
	model, err := e.Fit(context.Background(), m)
	require.NoError(t, err)
	require.True(t, model.Converged())

	alpha := model.Alpha()
	assert.InEpsilon(t, a, alpha[0], 1e-3)
	assert.InEpsilon(t, b, alpha[1], 1e-3)
}

func TestFitLikelihoodMonotone(t *testing.T) {
	sampler, err := NewSeededSampler([]float64{1, 2, 3}, 30, 99)
	require.NoError(t, err)
	m, err := sampler.Matrix(50)
	require.NoError(t, err)

	var buf bytes.Buffer
	e := NewEstimator()
	e.SetLogStream(&buf)
	model, err := e.Fit(context.Background(), m)
	require.NoError(t, err)

	var trace []LogIteration
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &trace))
	require.Equal(t, model.Diagnostics().Iterations, len(trace))

	for i := 1; i < len(trace); i++ {
		slack := 1e-9 * math.Abs(trace[i-1].LogLikelihood)
		assert.GreaterOrEqual(t, trace[i].LogLikelihood, trace[i-1].LogLikelihood-slack,
			"iteration %d", trace[i].Iteration)
	}
	// the reported optimum is at least as good as any traced iterate
	final := model.Diagnostics().LogLikelihood
	for _, rec := range trace {
		assert.GreaterOrEqual(t, final, rec.LogLikelihood-1e-9*math.Abs(final))
	}
}

func TestFitCancellation(t *testing.T) {
	sampler, err := NewSeededSampler([]float64{2, 3, 5}, 50, 11)
	require.NoError(t, err)
	m, err := sampler.Matrix(200)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model, err := NewEstimator().Fit(ctx, m)
	require.NoError(t, err)
	assert.False(t, model.Converged())

	diag := model.Diagnostics()
	assert.Equal(t, 0, diag.Iterations)
	assert.Equal(t, context.Canceled.Error(), diag.StopReason)
	assert.Len(t, model.Alpha(), 3)
}

func TestFitStructuralErrors(t *testing.T) {
	var nilMatrix *CountMatrix
	_, err := NewEstimator().Fit(context.Background(), nilMatrix)
	assert.ErrorIs(t, err, ErrNoUsableRows)

	allZero, err := NewCountMatrix([]string{"a", "b"}, nil, [][]int{{0, 0}, {0, 0}})
	require.NoError(t, err)
	_, err = NewEstimator().Fit(context.Background(), allZero)
	assert.ErrorIs(t, err, ErrNoUsableRows)
}

func TestFitDeterministicAcrossRuns(t *testing.T) {
	sampler, err := NewSeededSampler([]float64{1, 4}, 40, 5)
	require.NoError(t, err)
	m, err := sampler.Matrix(123)
	require.NoError(t, err)

	fit := func() AlphaVector {
		e := NewEstimator()
		e.SetThreads(3)
		model, err := e.Fit(context.Background(), m)
		require.NoError(t, err)
		return model.Alpha()
	}
	first := fit()
	second := fit()
	assert.Equal(t, first, second)
}

func TestFitSkipsDegenerateRows(t *testing.T) {
	counts := [][]int{{12, 8}, {0, 0}, {3, 17}, {0, 0}, {9, 11}}
	withZeros, err := NewCountMatrix([]string{"a", "b"}, nil, counts)
	require.NoError(t, err)
	dense, err := NewCountMatrix([]string{"a", "b"}, nil, [][]int{{12, 8}, {3, 17}, {9, 11}})
	require.NoError(t, err)

	e1 := NewEstimator()
	e1.SetThreads(1)
	m1, err := e1.Fit(context.Background(), withZeros)
	require.NoError(t, err)

	e2 := NewEstimator()
	e2.SetThreads(1)
	m2, err := e2.Fit(context.Background(), dense)
	require.NoError(t, err)

	assert.Equal(t, 2, m1.Diagnostics().SkippedRows)
	assert.Equal(t, 0, m2.Diagnostics().SkippedRows)
	assert.Equal(t, m2.Alpha(), m1.Alpha())
}

func TestFitRejectsConcurrentUse(t *testing.T) {
	sampler, err := NewSeededSampler([]float64{2, 2}, 30, 3)
	require.NoError(t, err)
	m, err := sampler.Matrix(40)
	require.NoError(t, err)

	e := NewEstimator()
	e.fitting.Store(true)
	_, err = e.Fit(context.Background(), m)
	assert.Error(t, err)
	e.fitting.Store(false)
	_, err = e.Fit(context.Background(), m)
	assert.NoError(t, err)
}

var benchModel *FittedModel

func BenchmarkFit(b *testing.B) {
	sampler, err := NewSeededSampler([]float64{2, 3, 5, 1, 0.5}, 100, 13)
	if err != nil {
		b.Fatal(err)
	}
	m, err := sampler.Matrix(1000)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		model, err := NewEstimator().Fit(context.Background(), m)
		if err != nil {
			b.Fatal(err)
		}
		benchModel = model
	}
}

func TestAlphaVectorValidate(t *testing.T) {
	cases := []struct {
		alpha AlphaVector
		ok    bool
	}{
		{AlphaVector{1, 2}, true},
		{AlphaVector{0.001, 1e5}, true},
		{AlphaVector{1}, false},
		{AlphaVector{1, 0}, false},
		{AlphaVector{1, -2}, false},
		{AlphaVector{1, math.NaN()}, false},
		{AlphaVector{1, math.Inf(1)}, false},
	}
	for _, c := range cases {
		err := c.alpha.validate()
		if c.ok {
			assert.NoError(t, err, "%v", c.alpha)
		} else {
			assert.Error(t, err, "%v", c.alpha)
			if len(c.alpha) >= 2 {
				assert.True(t, errors.Is(err, ErrBadConcentration))
			}
		}
	}
}
