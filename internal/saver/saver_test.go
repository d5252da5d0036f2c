package saver

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/solarfetch/internal/db"
)

func TestSaveTablesToParquet(t *testing.T) {
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.InitializeSchema(conn))

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := db.NewLedger(conn, logger)
	runID, err := ledger.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordUnits(ctx, runID, []db.UnitEvent{
		{Tag: "smarp_headers", ID: 4, Code: 0, Outcome: "written"},
		{Tag: "smarp_headers", ID: 5, Code: 3, Outcome: "not_aligned"},
	}))
	require.NoError(t, ledger.FinishRun(ctx, runID, nil))

	outDir := filepath.Join(t.TempDir(), "ledger")
	paths, err := SaveTablesToParquet(ctx, conn, outDir, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(outDir, "runs.parquet"),
		filepath.Join(outDir, "unit_event_log.parquet"),
	}, paths)

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s')`, filepath.ToSlash(paths[1]))
	require.NoError(t, conn.QueryRowContext(ctx, query).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSaveTablesToParquet_EmptyDatabase(t *testing.T) {
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer conn.Close()

	paths, err := SaveTablesToParquet(context.Background(), conn, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Empty(t, paths)
}
