// dmsynth generates synthetic count tables from a known
// Dirichlet-multinomial, for demos and for exercising the estimator
// against a known truth.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/domino14/dirimult/dirmult"
)

func main() {
	alphasArg := flag.String("alphas", "2,3,5", "comma-separated concentration parameters")
	rows := flag.Int("rows", 100, "number of entities to generate")
	trials := flag.Int("trials", 50, "events per entity")
	seed := flag.Uint64("seed", 0, "random seed; 0 picks one at random")
	categories := flag.String("categories", "", "comma-separated category names; generated when empty")
	outPath := flag.String("out", "", "output csv file; stdout when empty")

	flag.Parse()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	alpha, err := parseAlphas(*alphasArg)
	if err != nil {
		fatal(err)
	}

	var sampler *dirmult.SyntheticSampler
	if *seed == 0 {
		sampler, err = dirmult.NewSampler(alpha, *trials)
	} else {
		sampler, err = dirmult.NewSeededSampler(alpha, *trials, *seed)
	}
	if err != nil {
		fatal(err)
	}
	if *categories != "" {
		if err := sampler.SetCategories(strings.Split(*categories, ",")); err != nil {
			fatal(err)
		}
	}

	matrix, err := sampler.Matrix(*rows)
	if err != nil {
		fatal(err)
	}

	out := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		out = f
	}
	if err := writeCSV(out, matrix); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "generated %d rows × %d categories (seed %d)\n",
		matrix.Rows(), matrix.NumCategories(), sampler.Seed())
}

func parseAlphas(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	alpha := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		alpha[i] = v
	}
	return alpha, nil
}

func writeCSV(w io.Writer, matrix *dirmult.CountMatrix) error {
	cw := csv.NewWriter(w)
	header := append([]string{"entity"}, matrix.Categories()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < matrix.Rows(); i++ {
		rec := []string{matrix.Entity(i)}
		for _, c := range matrix.Row(i) {
			rec = append(rec, strconv.Itoa(c))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dmsynth:", err)
	os.Exit(1)
}
