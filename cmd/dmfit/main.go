// dmfit is the one-shot fitting tool: read a count table from a CSV file
// or a SQLite query, fit the Dirichlet-multinomial prior, and print or
// export the fitted parameters and shrunken estimates.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/domino14/dirimult/countio"
	"github.com/domino14/dirimult/dirmult"
	"github.com/domino14/dirimult/report"
)

func main() {
	csvPath := flag.String("csv", "", "path to a csv count table, or - for stdin")
	latin1 := flag.Bool("latin1", false, "the csv input is ISO 8859-1 encoded")
	dbPath := flag.String("db", "", "path to a sqlite database")
	query := flag.String("query", "", "query returning entity plus count columns (with -db)")
	tolerance := flag.Float64("tolerance", dirmult.DefaultTolerance, "relative convergence tolerance")
	maxIters := flag.Int("maxiters", dirmult.DefaultMaxIterations, "iteration budget")
	threads := flag.Int("threads", 0, "worker goroutines per fit; 0 uses all CPUs")
	confidence := flag.Float64("confidence", report.DefaultConfidence, "confidence level in percent")
	weightsArg := flag.String("weights", "", "comma-separated per-category weights for a scalar score")
	format := flag.String("format", "text", "output format: text, csv or json")
	outPath := flag.String("out", "", "output file; stdout when empty")
	fitLog := flag.String("fitlog", "", "file to stream per-iteration fit records to (yaml)")
	debug := flag.Bool("debug", false, "debug logging")

	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	matrix, err := loadMatrix(*csvPath, *latin1, *dbPath, *query)
	if err != nil {
		fatal(err)
	}

	est := dirmult.NewEstimator()
	est.SetTolerance(*tolerance)
	est.SetMaxIterations(*maxIters)
	if *threads > 0 {
		est.SetThreads(*threads)
	}
	if *fitLog != "" {
		f, err := os.Create(*fitLog)
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		est.SetLogStream(f)
	}

	ctx := context.Background()
	model, err := est.Fit(ctx, matrix)
	if err != nil {
		fatal(err)
	}
	if !model.Converged() {
		fmt.Fprintf(os.Stderr, "warning: fit did not converge (%s)\n",
			model.Diagnostics().StopReason)
	}

	rep := report.New(matrix, model)
	rep.SetConfidence(*confidence)
	if *weightsArg != "" {
		weights, err := parseWeights(*weightsArg)
		if err != nil {
			fatal(err)
		}
		if err := rep.SetWeights(weights); err != nil {
			fatal(err)
		}
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

	switch *format {
	case "text":
		fmt.Fprint(out, rep.ParameterTable())
		fmt.Fprintln(out)
		table, err := rep.EstimateTable(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprint(out, table)
	case "csv":
		err = rep.WriteCSV(ctx, out)
	case "json":
		err = rep.WriteJSON(ctx, out)
	default:
		fatal(fmt.Errorf("unknown format %q; want text, csv or json", *format))
	}
	if err != nil {
		fatal(err)
	}
}

func loadMatrix(csvPath string, latin1 bool, dbPath, query string) (*dirmult.CountMatrix, error) {
	switch {
	case csvPath != "" && dbPath != "":
		return nil, fmt.Errorf("pass either -csv or -db, not both")
	case csvPath == "-":
		return readCSV(os.Stdin, latin1)
	case csvPath != "":
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readCSV(f, latin1)
	case dbPath != "":
		if query == "" {
			return nil, fmt.Errorf("-db needs a -query")
		}
		return countio.ReadSQLite(context.Background(), dbPath, query)
	default:
		return nil, fmt.Errorf("pass -csv or -db to supply a count table")
	}
}

func readCSV(r io.Reader, latin1 bool) (*dirmult.CountMatrix, error) {
	var opts []countio.Option
	if latin1 {
		opts = append(opts, countio.Latin1())
	}
	return countio.ReadCSV(r, opts...)
}

func parseWeights(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	weights := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		weights[i] = v
	}
	return weights, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dmfit:", err)
	os.Exit(1)
}
