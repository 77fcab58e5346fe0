package dirmult

import (
	"fmt"
)

// CountMatrix is an immutable table of non-negative event counts. Rows are
// entities (players, documents, ...), columns are the k ≥ 2 outcome
// categories. Row totals are computed once at construction; rows whose total
// is zero carry no likelihood information and are skipped by the estimator.
type CountMatrix struct {
	categories []string
	entities   []string
	counts     [][]float64
	totals     []float64
	usable     int
}

// NewCountMatrix validates and copies its arguments. entities may be nil,
// in which case rows are named by their one-based position.
func NewCountMatrix(categories, entities []string, counts [][]int) (*CountMatrix, error) {
	k := len(categories)
	if k < 2 {
		return nil, fmt.Errorf("%w: have %d", ErrTooFewCategories, k)
	}
	if entities != nil && len(entities) != len(counts) {
		return nil, fmt.Errorf("have %d entity names for %d rows", len(entities), len(counts))
	}
	m := &CountMatrix{
		categories: append([]string(nil), categories...),
		counts:     make([][]float64, len(counts)),
		totals:     make([]float64, len(counts)),
	}
	if entities != nil {
		m.entities = append([]string(nil), entities...)
	}
	for i, row := range counts {
		if len(row) != k {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrRaggedRow, i, len(row), k)
		}
		vals := make([]float64, k)
		var total float64
		for j, c := range row {
			if c < 0 {
				return nil, fmt.Errorf("%w: row %d, category %q", ErrNegativeCount, i, categories[j])
			}
			vals[j] = float64(c)
			total += float64(c)
		}
		m.counts[i] = vals
		m.totals[i] = total
		if total > 0 {
			m.usable++
		}
	}
	return m, nil
}

func (m *CountMatrix) Rows() int {
	return len(m.counts)
}

func (m *CountMatrix) NumCategories() int {
	return len(m.categories)
}

// UsableRows returns the number of rows with a positive total.
func (m *CountMatrix) UsableRows() int {
	return m.usable
}

func (m *CountMatrix) Categories() []string {
	return append([]string(nil), m.categories...)
}

func (m *CountMatrix) Entities() []string {
	out := make([]string, len(m.counts))
	for i := range out {
		out[i] = m.Entity(i)
	}
	return out
}

func (m *CountMatrix) Entity(i int) string {
	if m.entities != nil {
		return m.entities[i]
	}
	return fmt.Sprintf("row-%d", i+1)
}

// Row returns a copy of row i's counts.
func (m *CountMatrix) Row(i int) []int {
	out := make([]int, len(m.counts[i]))
	for j, v := range m.counts[i] {
		out[j] = int(v)
	}
	return out
}

func (m *CountMatrix) RowTotal(i int) int {
	return int(m.totals[i])
}

// Proportions returns row i's counts divided by its total. A degenerate row
// yields all zeros.
func (m *CountMatrix) Proportions(i int) []float64 {
	out := make([]float64, len(m.counts[i]))
	if m.totals[i] == 0 {
		return out
	}
	for j, v := range m.counts[i] {
		out[j] = v / m.totals[i]
	}
	return out
}
