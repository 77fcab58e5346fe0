package countio

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/domino14/dirimult/dirmult"
)

// ReadSQLite runs query against the SQLite database at path. The first
// selected column is the entity name; every remaining column is an integer
// category count, with the result set's column names as category names.
func ReadSQLite(ctx context.Context, path, query string) (*dirmult.CountMatrix, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) < 3 {
		return nil, fmt.Errorf("%w: query selected %d count columns", dirmult.ErrTooFewCategories, len(cols)-1)
	}
	categories := cols[1:]

	var entities []string
	var counts [][]int
	for rows.Next() {
		var entity string
		row := make([]int, len(categories))
		dest := make([]any, 0, len(cols))
		dest = append(dest, &entity)
		for j := range row {
			dest = append(dest, &row[j])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Int("rows", len(counts)).Msg("loaded-sqlite")
	return dirmult.NewCountMatrix(categories, entities, counts)
}
