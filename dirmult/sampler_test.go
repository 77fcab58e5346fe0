package dirmult

import (
	"errors"
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestSeededSamplerDeterministic(t *testing.T) {
	is := is.New(t)
	a, err := NewSeededSampler([]float64{2, 3, 5}, 25, 1234)
	is.NoErr(err)
	b, err := NewSeededSampler([]float64{2, 3, 5}, 25, 1234)
	is.NoErr(err)

	ma, err := a.Matrix(20)
	is.NoErr(err)
	mb, err := b.Matrix(20)
	is.NoErr(err)

	for i := 0; i < ma.Rows(); i++ {
		is.Equal(ma.Row(i), mb.Row(i))
	}
	is.Equal(a.Seed(), b.Seed())
}

func TestSamplerRowShape(t *testing.T) {
	is := is.New(t)
	s, err := NewSeededSampler([]float64{1, 1, 1, 1}, 60, 77)
	is.NoErr(err)

	m, err := s.Matrix(50)
	is.NoErr(err)
	is.Equal(m.Rows(), 50)
	is.Equal(m.NumCategories(), 4)
	is.Equal(m.UsableRows(), 50)
	is.Equal(m.Entity(0), "synth-1")
	is.Equal(m.Categories(), []string{"cat-1", "cat-2", "cat-3", "cat-4"})

	for i := 0; i < m.Rows(); i++ {
		is.Equal(m.RowTotal(i), 60)
		for _, c := range m.Row(i) {
			is.True(c >= 0)
		}
	}
}

func TestSamplerPooledProportions(t *testing.T) {
	is := is.New(t)
	s, err := NewSeededSampler([]float64{2, 3, 5}, 100, 31)
	is.NoErr(err)
	m, err := s.Matrix(2000)
	is.NoErr(err)

	// pooled proportions approach the prior mean alpha/sum(alpha)
	want := []float64{0.2, 0.3, 0.5}
	pooled := make([]float64, 3)
	var total float64
	for i := 0; i < m.Rows(); i++ {
		row := m.Row(i)
		for j, c := range row {
			pooled[j] += float64(c)
		}
		total += float64(m.RowTotal(i))
	}
	for j := range pooled {
		is.True(math.Abs(pooled[j]/total-want[j]) < 0.02)
	}
}

func TestSamplerCategories(t *testing.T) {
	is := is.New(t)
	s, err := NewSeededSampler([]float64{1, 2}, 10, 5)
	is.NoErr(err)

	is.NoErr(s.SetCategories([]string{"hit", "miss"}))
	m, err := s.Matrix(3)
	is.NoErr(err)
	is.Equal(m.Categories(), []string{"hit", "miss"})

	err = s.SetCategories([]string{"too", "many", "names"})
	is.True(errors.Is(err, ErrRaggedRow))
}

func TestSamplerValidation(t *testing.T) {
	is := is.New(t)

	_, err := NewSeededSampler([]float64{1, -1}, 10, 1)
	is.True(errors.Is(err, ErrBadConcentration))

	_, err = NewSeededSampler([]float64{1}, 10, 1)
	is.True(errors.Is(err, ErrTooFewCategories))

	_, err = NewSeededSampler([]float64{1, 1}, 0, 1)
	is.True(err != nil)

	// unseeded construction works and produces a usable matrix
	s, err := NewSampler([]float64{1, 1}, 5)
	is.NoErr(err)
	m, err := s.Matrix(2)
	is.NoErr(err)
	is.Equal(m.Rows(), 2)
}
