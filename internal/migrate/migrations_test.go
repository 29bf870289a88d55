package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/db"
)

func TestApplyIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{File: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, v)

	applied, err := Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, applied)

	applied, err = Apply(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, applied)

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, table := range []string{"events", "api_keys", "sheets", "worksheets", "sheet_cells"} {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
