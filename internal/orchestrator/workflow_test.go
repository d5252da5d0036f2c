package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/solarfetch/internal/codec"
	"github.com/brensch/solarfetch/internal/config"
	"github.com/brensch/solarfetch/internal/db"
	"github.com/brensch/solarfetch/internal/fetcher"
	"github.com/brensch/solarfetch/internal/hek"
	"github.com/brensch/solarfetch/internal/table"
)

// archive serves region 1 with two aligned records, has nothing for region 0
// and fails every query for region 2.
type archive struct{}

func selectorParts(selector string) (series string, id int) {
	open := strings.Index(selector, "[")
	end := strings.Index(selector, "]")
	id, _ = strconv.Atoi(selector[open+1 : end])
	return selector[:open], id
}

func (archive) Query(_ context.Context, selector string, _ []string) (*table.Table, error) {
	_, id := selectorParts(selector)
	switch id {
	case 1:
		t := table.New("T_REC", "QUALITY")
		t.Append("2010.05.01_00:00:00_TAI", "0")
		t.Append("2010.05.01_01:36:00_TAI", "0")
		return t, nil
	case 2:
		return nil, errors.New("jsoc unavailable")
	}
	return table.New(), nil
}

func (archive) Export(_ context.Context, selector string) (*table.Table, error) {
	series, id := selectorParts(selector)
	t := table.New(fetcher.ColRecord, "filename")
	for _, trec := range []string{"2010.05.01_00:00:00_TAI", "2010.05.01_01:36:00_TAI"} {
		t.Append(fmt.Sprintf("%s[%d][%s]{magnetogram}", series, id, trec), "/staged")
	}
	return t, nil
}

func (archive) Download(_ context.Context, rows *table.Table, dir string) (*table.Table, error) {
	records, err := rows.Column(fetcher.ColRecord)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		name, err := codec.Filename(r)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(r), 0o644); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (archive) Close() {}

type flareCatalog struct{}

func (flareCatalog) Search(_ context.Context, q hek.Query) (*table.Table, error) {
	t := table.New("ar_noaanum", "event_endtime", "event_peaktime", "event_starttime", "fl_goescls")
	if q.Start.Year() == 2011 {
		t.Append("11158", "2011-02-15T02:06:00", "2011-02-15T01:56:00", "2011-02-15T01:44:00", "X2.2")
	}
	return t, nil
}

func newTestWorkflow(t *testing.T) (*Workflow, *sql.DB) {
	t.Helper()
	root := t.TempDir()
	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitializeSchema(conn))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := *config.Default()
	cfg.RawDataDir = filepath.Join(root, "data")
	cfg.LogDir = filepath.Join(root, "logs")
	cfg.MetricsFile = filepath.Join(root, "solarfetch.prom")
	cfg.NumWorkers = 2
	cfg.Sharp = config.DatasetConfig{MaxID: 2, BatchSize: 2}
	cfg.Smarp = config.DatasetConfig{MaxID: 2, BatchSize: 2}
	cfg.GOES = config.GOESConfig{FirstYear: 2010, LastYear: 2011, NumWorkers: 2}

	return &Workflow{
		Config:   cfg,
		Sessions: func() fetcher.Session { return archive{} },
		Searcher: flareCatalog{},
		Ledger:   db.NewLedger(conn, logger),
		Logger:   logger,
	}, conn
}

func TestWorkflow_Run(t *testing.T) {
	w, conn := newTestWorkflow(t)
	ctx := context.Background()
	cfg := w.Config

	err := w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitsFailed)
	assert.Contains(t, err.Error(), "sharp_headers: 1 of 3 units failed")
	assert.Contains(t, err.Error(), "smarp_headers: 1 of 3 units failed")

	assert.FileExists(t, filepath.Join(cfg.GOESDir(), "goes.csv"))
	assert.FileExists(t, filepath.Join(cfg.GOESDir(), "goes.parquet"))
	assert.FileExists(t, filepath.Join(cfg.SharpHeaderDir(), "HARP000001_ATTRS.csv"))
	assert.FileExists(t, filepath.Join(cfg.SmarpHeaderDir(), "TARP000001_ATTRS.csv"))
	assert.NoFileExists(t, filepath.Join(cfg.SharpHeaderDir(), "HARP000000_ATTRS.csv"))
	assert.FileExists(t, filepath.Join(cfg.SharpImageDir(), "000001", "hmi.sharp_cea_720s.1.20100501_013600_TAI.magnetogram.fits"))
	assert.FileExists(t, filepath.Join(cfg.SmarpImageDir(), "000001", "mdi.smarp_cea_96m.1.20100501_000000_TAI.magnetogram.fits"))
	for _, tag := range []string{TagSharpHeaders, TagSmarpHeaders, TagSharpImages, TagSmarpImages} {
		assert.FileExists(t, filepath.Join(cfg.LogDir, "log_download_"+tag+".csv"))
	}
	assert.FileExists(t, filepath.Join(cfg.LogDir, "log_add_"+TagSharpImages+".csv"))
	assert.FileExists(t, cfg.MetricsFile)

	var runID, status string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT run_id, status FROM runs`).Scan(&runID, &status))
	assert.Equal(t, db.RunFailed, status)

	counts, err := w.Ledger.OutcomeCounts(ctx, runID, TagSharpHeaders)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{-1: 1, 0: 1, 2: 1}, counts)
	counts, err = w.Ledger.OutcomeCounts(ctx, runID, TagSharpImages)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 2}, counts)
}

func TestWorkflow_RerunIsIdempotent(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	_ = w.Run(ctx)
	header := filepath.Join(w.Config.SharpHeaderDir(), "HARP000001_ATTRS.csv")
	before, err := os.ReadFile(header)
	require.NoError(t, err)

	_ = w.Run(ctx)
	after, err := os.ReadFile(header)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	code, outcome, found, err := w.Ledger.LatestOutcome(ctx, TagSharpHeaders, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int(fetcher.HeaderExists), code)
	assert.Equal(t, "exists", outcome)

	code, _, found, err = w.Ledger.LatestOutcome(ctx, TagSmarpImages, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int(fetcher.ImagesAllPresent), code)
}

type cancellingCatalog struct{ cancel context.CancelFunc }

func (c cancellingCatalog) Search(_ context.Context, _ hek.Query) (*table.Table, error) {
	c.cancel()
	return table.New(), nil
}

func TestWorkflow_CancelledStillFinishesRun(t *testing.T) {
	w, conn := newTestWorkflow(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Searcher = cancellingCatalog{cancel: cancel}

	err := w.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var status string
	require.NoError(t, conn.QueryRow(`SELECT status FROM runs`).Scan(&status))
	assert.Equal(t, db.RunFailed, status)
	assert.NoFileExists(t, filepath.Join(w.Config.SharpHeaderDir(), "HARP000001_ATTRS.csv"))
}
