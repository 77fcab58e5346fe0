package countio

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domino14/dirimult/dirmult"
)

func makeTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counts.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE outcomes (
		player TEXT,
		single INTEGER,
		double INTEGER,
		hr INTEGER
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO outcomes VALUES
		('ruth', 100, 40, 54),
		('gehrig', 120, 52, 47),
		('bench', 0, 0, 0)`)
	require.NoError(t, err)
	return path
}

func TestReadSQLite(t *testing.T) {
	path := makeTestDB(t)

	m, err := ReadSQLite(context.Background(),
		path, "SELECT player, single, double, hr FROM outcomes ORDER BY player")
	require.NoError(t, err)

	want, err := dirmult.NewCountMatrix(
		[]string{"single", "double", "hr"},
		[]string{"bench", "gehrig", "ruth"},
		[][]int{{0, 0, 0}, {120, 52, 47}, {100, 40, 54}},
	)
	require.NoError(t, err)

	assert.Equal(t, want.Rows(), m.Rows())
	assert.Equal(t, want.Categories(), m.Categories())
	assert.Equal(t, want.Entities(), m.Entities())
	for i := 0; i < want.Rows(); i++ {
		assert.Equal(t, want.Row(i), m.Row(i))
	}
}

func TestReadSQLiteErrors(t *testing.T) {
	path := makeTestDB(t)
	ctx := context.Background()

	_, err := ReadSQLite(ctx, path, "SELECT player, single FROM outcomes")
	assert.ErrorIs(t, err, dirmult.ErrTooFewCategories)

	_, err = ReadSQLite(ctx, path, "SELECT * FROM no_such_table")
	assert.Error(t, err)

	// negative counts are rejected by matrix validation
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO outcomes VALUES ('bad', -1, 2, 3)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = ReadSQLite(ctx, path, "SELECT player, single, double, hr FROM outcomes")
	assert.ErrorIs(t, err, dirmult.ErrNegativeCount)
}
