// Package report renders a fitted model and its per-entity estimates as
// fixed-width text tables and as CSV/JSON for downstream tooling.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/domino14/dirimult/dirmult"
)

const DefaultConfidence = 95.0

// Report bundles the inputs of one fit with its result. Weights and the
// confidence level are optional knobs; everything else is immutable.
type Report struct {
	matrix     *dirmult.CountMatrix
	model      *dirmult.FittedModel
	weights    []float64
	confidence float64
}

func New(matrix *dirmult.CountMatrix, model *dirmult.FittedModel) *Report {
	return &Report{
		matrix:     matrix,
		model:      model,
		confidence: DefaultConfidence,
	}
}

// SetWeights attaches per-category weights; estimate tables then carry a
// weighted score column.
func (r *Report) SetWeights(weights []float64) error {
	if len(weights) != len(r.model.Alpha()) {
		return fmt.Errorf("%w: have %d weights for %d categories",
			dirmult.ErrWeightLength, len(weights), len(r.model.Alpha()))
	}
	r.weights = append([]float64(nil), weights...)
	return nil
}

// SetConfidence sets the two-sided confidence level in percent. Out-of-range
// values are ignored.
func (r *Report) SetConfidence(level float64) {
	if level > 0 && level < 100 {
		r.confidence = level
	}
}

// ParameterTable renders the fitted concentrations with confidence bounds.
func (r *Report) ParameterTable() string {
	var ss strings.Builder
	rows := r.model.ParameterTable(r.confidence)
	diag := r.model.Diagnostics()

	fmt.Fprintf(&ss, "%-16s%-12s%-12s%-24s\n", "Category", "Alpha", "Stderr",
		fmt.Sprintf("CI (%g%%)", r.confidence))
	for _, row := range rows {
		ci := fmt.Sprintf("[%.4f, %.4f]", row.Low, row.High)
		fmt.Fprintf(&ss, "%-16s%-12.4f%-12.4f%-24s\n", row.Category, row.Estimate, row.Stderr, ci)
	}
	fmt.Fprintf(&ss, "Prior strength (sum of alphas): %.4f\n", r.model.Alpha().Sum())
	fmt.Fprintf(&ss, "Iterations: %d (converged: %v, log-likelihood: %.4f)\n",
		diag.Iterations, diag.Converged, diag.LogLikelihood)
	if diag.SkippedRows > 0 || diag.ClampCount > 0 {
		fmt.Fprintf(&ss, "Skipped rows: %d, clamped updates: %d\n", diag.SkippedRows, diag.ClampCount)
	}
	return ss.String()
}

// EstimateTable renders each entity's shrunken proportions, plus the
// weighted score when weights are set.
func (r *Report) EstimateTable(ctx context.Context) (string, error) {
	ests, err := dirmult.ShrinkAll(ctx, r.matrix, r.model)
	if err != nil {
		return "", err
	}
	categories := r.model.Categories()

	var ss strings.Builder
	fmt.Fprintf(&ss, "%-20s%-8s", "Entity", "Total")
	for _, cat := range categories {
		fmt.Fprintf(&ss, "%-12s", cat)
	}
	if r.weights != nil {
		fmt.Fprintf(&ss, "%-10s", "Score")
	}
	ss.WriteString("\n")

	for i, est := range ests {
		fmt.Fprintf(&ss, "%-20s%-8d", r.matrix.Entity(i), r.matrix.RowTotal(i))
		for _, v := range est {
			fmt.Fprintf(&ss, "%-12.4f", v)
		}
		if r.weights != nil {
			score, err := dirmult.WeightedScore(est, r.weights)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&ss, "%-10.4f", score)
		}
		ss.WriteString("\n")
	}
	fmt.Fprintf(&ss, "Entities: %d (estimates shrunk toward the prior mean)\n", len(ests))
	return ss.String(), nil
}

// estimateRow is the machine rendering of one entity's estimates.
type estimateRow struct {
	Entity    string    `json:"entity"`
	Total     int       `json:"total"`
	Raw       []float64 `json:"raw"`
	Estimates []float64 `json:"estimates"`
	Score     *float64  `json:"score,omitempty"`
}

func (r *Report) estimateRows(ctx context.Context) ([]estimateRow, error) {
	ests, err := dirmult.ShrinkAll(ctx, r.matrix, r.model)
	if err != nil {
		return nil, err
	}
	rows := lo.Map(ests, func(est []float64, i int) estimateRow {
		row := estimateRow{
			Entity:    r.matrix.Entity(i),
			Total:     r.matrix.RowTotal(i),
			Raw:       r.matrix.Proportions(i),
			Estimates: est,
		}
		if r.weights != nil {
			score, _ := dirmult.WeightedScore(est, r.weights)
			row.Score = &score
		}
		return row
	})
	return rows, nil
}

// WriteCSV writes the per-entity estimate table: entity, total, one shrunken
// column per category, one raw column per category, and the score when
// weights are set.
func (r *Report) WriteCSV(ctx context.Context, w io.Writer) error {
	rows, err := r.estimateRows(ctx)
	if err != nil {
		return err
	}
	categories := r.model.Categories()

	cw := csv.NewWriter(w)
	header := []string{"entity", "total"}
	header = append(header, categories...)
	for _, cat := range categories {
		header = append(header, "raw_"+cat)
	}
	if r.weights != nil {
		header = append(header, "score")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	fmtF := func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	for _, row := range rows {
		rec := []string{row.Entity, strconv.Itoa(row.Total)}
		rec = append(rec, lo.Map(row.Estimates, func(v float64, _ int) string { return fmtF(v) })...)
		rec = append(rec, lo.Map(row.Raw, func(v float64, _ int) string { return fmtF(v) })...)
		if row.Score != nil {
			rec = append(rec, fmtF(*row.Score))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes one document with the parameter table, diagnostics, and
// every entity's estimates.
func (r *Report) WriteJSON(ctx context.Context, w io.Writer) error {
	rows, err := r.estimateRows(ctx)
	if err != nil {
		return err
	}
	payload := struct {
		Alpha       []float64              `json:"alpha"`
		Categories  []string               `json:"categories"`
		Confidence  float64                `json:"confidence"`
		Diagnostics dirmult.FitDiagnostics `json:"diagnostics"`
		Parameters  []dirmult.ParameterRow `json:"parameters"`
		Estimates   []estimateRow          `json:"estimates"`
	}{
		Alpha:       r.model.Alpha(),
		Categories:  r.model.Categories(),
		Confidence:  r.confidence,
		Diagnostics: r.model.Diagnostics(),
		Parameters:  r.model.ParameterTable(r.confidence),
		Estimates:   rows,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
