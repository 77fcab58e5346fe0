package dirmult

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/dirimult/stats"
)

func TestNewCountMatrix(t *testing.T) {
	is := is.New(t)
	m, err := NewCountMatrix(
		[]string{"single", "double", "hr"},
		[]string{"ruth", "gehrig"},
		[][]int{{10, 5, 3}, {0, 0, 0}},
	)
	is.NoErr(err)
	is.Equal(m.Rows(), 2)
	is.Equal(m.NumCategories(), 3)
	is.Equal(m.UsableRows(), 1)
	is.Equal(m.RowTotal(0), 18)
	is.Equal(m.RowTotal(1), 0)
	is.Equal(m.Entity(0), "ruth")
	is.Equal(m.Categories(), []string{"single", "double", "hr"})

	p := m.Proportions(0)
	is.True(stats.FuzzyEqual(p[0], 10.0/18))
	is.True(stats.FuzzyEqual(p[1], 5.0/18))
	is.True(stats.FuzzyEqual(p[2], 3.0/18))

	// degenerate rows yield zero proportions
	is.Equal(m.Proportions(1), []float64{0, 0, 0})
}

func TestCountMatrixCopies(t *testing.T) {
	is := is.New(t)
	counts := [][]int{{1, 2}, {3, 4}}
	m, err := NewCountMatrix([]string{"a", "b"}, nil, counts)
	is.NoErr(err)

	// mutating the source after construction changes nothing
	counts[0][0] = 99
	is.Equal(m.Row(0), []int{1, 2})

	// mutating a returned row changes nothing
	row := m.Row(1)
	row[0] = -5
	is.Equal(m.Row(1), []int{3, 4})
}

func TestCountMatrixEntityFallback(t *testing.T) {
	is := is.New(t)
	m, err := NewCountMatrix([]string{"a", "b"}, nil, [][]int{{1, 0}, {0, 2}})
	is.NoErr(err)
	is.Equal(m.Entity(0), "row-1")
	is.Equal(m.Entities(), []string{"row-1", "row-2"})
}

func TestNewCountMatrixErrors(t *testing.T) {
	is := is.New(t)
	type tc struct {
		categories []string
		entities   []string
		counts     [][]int
		want       error
	}
	cases := []tc{
		{[]string{"only"}, nil, [][]int{{1}}, ErrTooFewCategories},
		{[]string{}, nil, nil, ErrTooFewCategories},
		{[]string{"a", "b"}, nil, [][]int{{1, 2, 3}}, ErrRaggedRow},
		{[]string{"a", "b"}, nil, [][]int{{1}}, ErrRaggedRow},
		{[]string{"a", "b"}, nil, [][]int{{1, -2}}, ErrNegativeCount},
	}
	for _, c := range cases {
		_, err := NewCountMatrix(c.categories, c.entities, c.counts)
		is.True(errors.Is(err, c.want))
	}

	// entity name count must match the row count
	_, err := NewCountMatrix([]string{"a", "b"}, []string{"one"}, [][]int{{1, 2}, {3, 4}})
	is.True(err != nil)
}
