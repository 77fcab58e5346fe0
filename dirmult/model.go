package dirmult

import (
	"fmt"
	"math"

	"github.com/domino14/dirimult/stats"
)

// AlphaVector holds Dirichlet concentration parameters, one per category,
// indexed like the columns of the CountMatrix it was fitted to.
type AlphaVector []float64

func (a AlphaVector) Sum() float64 {
	var s float64
	for _, v := range a {
		s += v
	}
	return s
}

func (a AlphaVector) Clone() AlphaVector {
	return append(AlphaVector(nil), a...)
}

// Mean returns the prior mean α_j / Σα.
func (a AlphaVector) Mean() []float64 {
	s := a.Sum()
	out := make([]float64, len(a))
	for j, v := range a {
		out[j] = v / s
	}
	return out
}

func (a AlphaVector) validate() error {
	if len(a) < 2 {
		return fmt.Errorf("%w: have %d", ErrTooFewCategories, len(a))
	}
	for j, v := range a {
		if !(v > 0) || math.IsInf(v, 1) {
			return fmt.Errorf("%w: index %d is %v", ErrBadConcentration, j, v)
		}
	}
	return nil
}

// FitDiagnostics carries convergence and quality metadata for a fit. A
// standard error of zero means the information matrix had no curvature in
// that direction (typically a category that was never observed).
type FitDiagnostics struct {
	LogLikelihood  float64   `json:"log_likelihood" yaml:"log_likelihood"`
	Iterations     int       `json:"iterations" yaml:"iterations"`
	Converged      bool      `json:"converged" yaml:"converged"`
	StandardErrors []float64 `json:"standard_errors,omitempty" yaml:"standard_errors,omitempty"`
	SkippedRows    int       `json:"skipped_rows" yaml:"skipped_rows"`
	ClampCount     int       `json:"clamp_count" yaml:"clamp_count"`
	StopReason     string    `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
}

// FittedModel is the immutable result of a fit: the concentration vector,
// the category names it is indexed by, and the fit diagnostics. It is safe
// for concurrent use.
type FittedModel struct {
	categories []string
	alpha      AlphaVector
	diag       FitDiagnostics
}

// NewModel builds a model directly from a known concentration vector, for
// callers that persist alphas and only need shrinkage. Its diagnostics are
// empty apart from the converged flag.
func NewModel(categories []string, alpha []float64) (*FittedModel, error) {
	av := AlphaVector(alpha).Clone()
	if err := av.validate(); err != nil {
		return nil, err
	}
	if len(categories) != len(av) {
		return nil, fmt.Errorf("%w: %d names for %d concentrations", ErrRaggedRow, len(categories), len(av))
	}
	return &FittedModel{
		categories: append([]string(nil), categories...),
		alpha:      av,
		diag: FitDiagnostics{
			Converged:      true,
			StandardErrors: make([]float64, len(av)),
		},
	}, nil
}

func (m *FittedModel) Alpha() AlphaVector {
	return m.alpha.Clone()
}

func (m *FittedModel) Categories() []string {
	return append([]string(nil), m.categories...)
}

// PriorMean returns the model's prior mean proportions α/Σα, which is also
// what an all-zero row shrinks to.
func (m *FittedModel) PriorMean() []float64 {
	return m.alpha.Mean()
}

func (m *FittedModel) Diagnostics() FitDiagnostics {
	d := m.diag
	d.StandardErrors = append([]float64(nil), m.diag.StandardErrors...)
	return d
}

func (m *FittedModel) Converged() bool {
	return m.diag.Converged
}

// ParameterRow is one line of a fitted-parameter summary.
type ParameterRow struct {
	Category string  `json:"category" yaml:"category"`
	Estimate float64 `json:"estimate" yaml:"estimate"`
	Stderr   float64 `json:"stderr" yaml:"stderr"`
	Low      float64 `json:"low" yaml:"low"`
	High     float64 `json:"high" yaml:"high"`
}

// ParameterTable returns the per-category estimates with two-sided
// confidence bounds at the given level (0–100 percent). The lower bound is
// truncated at zero since concentrations are positive.
func (m *FittedModel) ParameterTable(confidence float64) []ParameterRow {
	z := stats.ZVal(confidence)
	rows := make([]ParameterRow, len(m.alpha))
	for j, a := range m.alpha {
		var se float64
		if j < len(m.diag.StandardErrors) {
			se = m.diag.StandardErrors[j]
		}
		rows[j] = ParameterRow{
			Category: m.categories[j],
			Estimate: a,
			Stderr:   se,
			Low:      math.Max(a-z*se, 0),
			High:     a + z*se,
		}
	}
	return rows
}
