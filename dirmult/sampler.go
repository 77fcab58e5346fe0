package dirmult

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distmv"
	"lukechampine.com/frand"
)

const bignum = 1<<63 - 2

// SyntheticSampler draws count matrices from a known Dirichlet-multinomial:
// each row is a fresh p ~ Dirichlet(α) followed by a fixed number of
// categorical trials. Used to exercise the estimator against a known truth
// and to generate demo data.
type SyntheticSampler struct {
	alpha      AlphaVector
	categories []string
	trials     int
	seed       uint64
	dir        *distmv.Dirichlet
	rnd        *rand.Rand
}

// NewSampler seeds itself randomly.
func NewSampler(alpha []float64, trials int) (*SyntheticSampler, error) {
	return NewSeededSampler(alpha, trials, frand.Uint64n(bignum)+1)
}

// NewSeededSampler is deterministic given its seed.
func NewSeededSampler(alpha []float64, trials int, seed uint64) (*SyntheticSampler, error) {
	av := AlphaVector(alpha).Clone()
	if err := av.validate(); err != nil {
		return nil, err
	}
	if trials <= 0 {
		return nil, fmt.Errorf("trials per row must be positive, have %d", trials)
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	categories := make([]string, len(av))
	for j := range categories {
		categories[j] = fmt.Sprintf("cat-%d", j+1)
	}
	log.Debug().Uint64("seed", seed).Int("trials", trials).Msg("new-sampler")
	return &SyntheticSampler{
		alpha:      av,
		categories: categories,
		trials:     trials,
		seed:       seed,
		dir:        distmv.NewDirichlet(av, src),
		rnd:        rand.New(src),
	}, nil
}

// SetCategories overrides the generated category names.
func (s *SyntheticSampler) SetCategories(names []string) error {
	if len(names) != len(s.alpha) {
		return fmt.Errorf("%w: %d names for %d concentrations", ErrRaggedRow, len(names), len(s.alpha))
	}
	s.categories = append([]string(nil), names...)
	return nil
}

func (s *SyntheticSampler) Seed() uint64 {
	return s.seed
}

// Row draws p ~ Dirichlet(α), then s.trials categorical events by cumulative
// inverse sampling.
func (s *SyntheticSampler) Row() []int {
	p := s.dir.Rand(nil)
	counts := make([]int, len(p))
	for t := 0; t < s.trials; t++ {
		r := s.rnd.Float64()
		idx := len(p) - 1
		var cum float64
		for j, pj := range p {
			cum += pj
			if r < cum {
				idx = j
				break
			}
		}
		counts[idx]++
	}
	return counts
}

// Matrix draws rows independent rows into a CountMatrix with entities named
// synth-1, synth-2, ...
func (s *SyntheticSampler) Matrix(rows int) (*CountMatrix, error) {
	if rows <= 0 {
		return nil, fmt.Errorf("row count must be positive, have %d", rows)
	}
	counts := make([][]int, rows)
	entities := make([]string, rows)
	for i := range counts {
		counts[i] = s.Row()
		entities[i] = fmt.Sprintf("synth-%d", i+1)
	}
	return NewCountMatrix(s.categories, entities, counts)
}
