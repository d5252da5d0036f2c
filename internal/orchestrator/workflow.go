// Package orchestrator drives a full fetch: the GOES flare catalog first, then
// the header and image batch runs of both magnetogram series.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/brensch/solarfetch/internal/analyser"
	"github.com/brensch/solarfetch/internal/batch"
	"github.com/brensch/solarfetch/internal/catalog"
	"github.com/brensch/solarfetch/internal/config"
	"github.com/brensch/solarfetch/internal/db"
	"github.com/brensch/solarfetch/internal/drms"
	"github.com/brensch/solarfetch/internal/fetcher"
	"github.com/brensch/solarfetch/internal/hek"
	"github.com/brensch/solarfetch/internal/metrics"
	"github.com/brensch/solarfetch/internal/progress"
)

// Run tags, in workflow order.
const (
	TagGOES         = "goes"
	TagSharpHeaders = "sharp_headers"
	TagSmarpHeaders = "smarp_headers"
	TagSharpImages  = "sharp_images"
	TagSmarpImages  = "smarp_images"
)

// ErrUnitsFailed is returned when at least one unit of a batch run failed.
var ErrUnitsFailed = errors.New("units failed")

// Workflow holds everything a fetch needs. Sessions and Searcher are the
// remote archives; New wires the real JSOC and HEK clients.
type Workflow struct {
	Config   config.Config
	Sessions fetcher.SessionFactory
	Searcher catalog.Searcher
	Ledger   *db.Ledger
	Reporter progress.Reporter
	Logger   *slog.Logger
}

// New builds a Workflow talking to the configured JSOC and HEK endpoints.
func New(cfg config.Config, conn *sql.DB, reporter progress.Reporter, logger *slog.Logger) *Workflow {
	dialer := drms.NewDialer(drms.Options{
		BaseURL:           cfg.JSOC.BaseURL,
		Email:             cfg.Email,
		RequestsPerSecond: cfg.JSOC.RequestsPerSecond,
		Timeout:           cfg.JSOC.Timeout,
		PollInterval:      cfg.JSOC.ExportPollInterval,
		ExportTimeout:     cfg.JSOC.ExportTimeout,
	}, logger)
	searcher := hek.NewClient(hek.Options{
		BaseURL:           cfg.HEK.BaseURL,
		RequestsPerSecond: cfg.HEK.RequestsPerSecond,
		Timeout:           cfg.HEK.Timeout,
		PageSize:          cfg.HEK.PageSize,
	}, logger)
	return &Workflow{
		Config:   cfg,
		Sessions: func() fetcher.Session { return dialer.NewClient() },
		Searcher: searcher,
		Ledger:   db.NewLedger(conn, logger),
		Reporter: reporter,
		Logger:   logger,
	}
}

// Run executes the workflow. A failing step does not stop the ones after it;
// all errors, including failed units, are joined into the returned error.
func (w *Workflow) Run(ctx context.Context) error {
	logger := w.Logger.With(slog.String("component", "orchestrator"))
	if w.Reporter == nil {
		w.Reporter = progress.Nop{}
	}
	cfg := w.Config

	for _, dir := range append(cfg.DataDirs(), cfg.LogDir) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	runID, err := w.Ledger.StartRun(ctx)
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("run_id", runID))
	logger.Info("Starting workflow.")

	an := analyser.New(cfg.LogDir, w.Logger)
	sharp := fetcher.Sharp(cfg.SharpHeaderDir(), cfg.SharpImageDir())
	smarp := fetcher.Smarp(cfg.SmarpHeaderDir(), cfg.SmarpImageDir())

	var runErr error
	runErr = errors.Join(runErr, w.fetchCatalog(ctx, logger))
	runErr = errors.Join(runErr, w.headers(ctx, an, runID, TagSharpHeaders, sharp, cfg.Sharp))
	runErr = errors.Join(runErr, w.headers(ctx, an, runID, TagSmarpHeaders, smarp, cfg.Smarp))
	runErr = errors.Join(runErr, w.images(ctx, an, runID, TagSharpImages, sharp, cfg.Sharp))
	runErr = errors.Join(runErr, w.images(ctx, an, runID, TagSmarpImages, smarp, cfg.Smarp))

	// The ledger and metrics are written even when ctx was cancelled.
	final := context.WithoutCancel(ctx)
	if err := w.Ledger.FinishRun(final, runID, runErr); err != nil {
		logger.Error("Failed to finish run in ledger.", "error", err)
		runErr = errors.Join(runErr, err)
	}
	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Warn("Failed to write metrics.", "error", err)
	}

	if runErr != nil {
		logger.Error("Workflow finished with errors.", "error", runErr)
		return runErr
	}
	logger.Info("Workflow finished successfully.")
	return nil
}

func (w *Workflow) fetchCatalog(ctx context.Context, logger *slog.Logger) error {
	cfg := w.Config
	years := cfg.GOES.LastYear - cfg.GOES.FirstYear + 1
	w.Reporter.RunStarted(TagGOES, years)
	w.Reporter.BatchStarted(TagGOES, 0, years, years)

	f := catalog.New(w.Searcher, catalog.Options{
		Dir:       cfg.GOESDir(),
		FirstYear: cfg.GOES.FirstYear,
		LastYear:  cfg.GOES.LastYear,
		Workers:   cfg.GOES.NumWorkers,
	}, w.Logger)
	_, err := f.Run(ctx)
	if errors.Is(err, catalog.ErrNoEvents) {
		logger.Warn("No GOES flare events found, catalog not written.", slog.Int("first_year", cfg.GOES.FirstYear), slog.Int("last_year", cfg.GOES.LastYear))
		err = nil
	}
	failed := 0
	if err != nil {
		failed = years
		err = fmt.Errorf("%s: %w", TagGOES, err)
	}
	w.Reporter.BatchFinished(TagGOES, 0, years, years, failed)
	w.Reporter.RunFinished(TagGOES, err)
	return err
}

func (w *Workflow) headers(ctx context.Context, an *analyser.Analyser, runID, tag string, ds fetcher.Dataset, dc config.DatasetConfig) error {
	f := fetcher.New(ds, w.Sessions, w.Logger)
	results, err := batch.Run(ctx, w.batchOptions(runID, tag, dc), f.FetchHeaders)
	summary, aErr := an.Analyze(tag, results)
	return errors.Join(err, aErr, unitFailures(summary))
}

func (w *Workflow) images(ctx context.Context, an *analyser.Analyser, runID, tag string, ds fetcher.Dataset, dc config.DatasetConfig) error {
	f := fetcher.New(ds, w.Sessions, w.Logger)
	results, err := batch.Run(ctx, w.batchOptions(runID, tag, dc), f.FetchImages)
	summary, aErr := an.AnalyzeImages(tag, results)
	return errors.Join(err, aErr, unitFailures(summary))
}

func (w *Workflow) batchOptions(runID, tag string, dc config.DatasetConfig) batch.Options {
	return batch.Options{
		Tag:       tag,
		MaxID:     dc.MaxID,
		BatchSize: dc.BatchSize,
		Workers:   w.Config.NumWorkers,
		Logger:    w.Logger,
		Reporter:  w.Reporter,
		OnBatch:   w.recordBatch(runID, tag),
	}
}

// recordBatch appends the outcome of every unit of a batch to the ledger.
func (w *Workflow) recordBatch(runID, tag string) func(context.Context, batch.Range, []batch.Result[any]) error {
	return func(ctx context.Context, _ batch.Range, results []batch.Result[any]) error {
		events := make([]db.UnitEvent, len(results))
		for i, r := range results {
			e := db.UnitEvent{Tag: tag, ID: r.ID, Duration: r.Duration}
			if r.Err != nil {
				e.Code, e.Outcome, e.Message = analyser.FailedCode, "failed", r.Err.Error()
			} else if c, ok := r.Value.(analyser.Coded); ok {
				e.Code, e.Outcome = c.Code(), c.String()
			}
			events[i] = e
		}
		return w.Ledger.RecordUnits(context.WithoutCancel(ctx), runID, events)
	}
}

func unitFailures(s analyser.Summary) error {
	if s.Failures == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d %w", s.Tag, s.Failures, s.Total, ErrUnitsFailed)
}
