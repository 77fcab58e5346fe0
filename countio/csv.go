// Package countio loads count tables from the formats the tooling meets in
// practice: CSV files (UTF-8 or Latin-1) and SQLite databases. Loaders
// either return a fully validated CountMatrix or an error, never a partial
// table.
package countio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/domino14/dirimult/dirmult"
)

// Option adjusts how a loader interprets its input.
type Option func(*options)

type options struct {
	latin1 bool
}

// Latin1 declares the input to be ISO 8859-1 encoded, as older spreadsheet
// exports tend to be; it is transformed to UTF-8 while reading.
func Latin1() Option {
	return func(o *options) {
		o.latin1 = true
	}
}

// ReadCSV parses a table whose header row is an entity-name column followed
// by k ≥ 2 category columns, and whose remaining cells are non-negative
// integer counts.
func ReadCSV(reader io.Reader, opts ...Option) (*dirmult.CountMatrix, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.latin1 {
		reader = transform.NewReader(reader, charmap.ISO8859_1.NewDecoder())
	}
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("empty input")
	}
	if err != nil {
		return nil, err
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: header has %d count columns", dirmult.ErrTooFewCategories, len(header)-1)
	}
	categories := make([]string, len(header)-1)
	for j, name := range header[1:] {
		categories[j] = strings.TrimSpace(name)
	}

	var entities []string
	var counts [][]int
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		entities = append(entities, strings.TrimSpace(record[0]))
		row := make([]int, len(record)-1)
		for i := 1; i < len(record); i++ {
			v, err := strconv.Atoi(strings.TrimSpace(record[i]))
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, categories[i-1], err)
			}
			row[i-1] = v
		}
		counts = append(counts, row)
	}
	log.Debug().Int("rows", len(counts)).Int("categories", len(categories)).Msg("loaded-csv")
	return dirmult.NewCountMatrix(categories, entities, counts)
}
