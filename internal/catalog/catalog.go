// Package catalog builds the GOES flare catalog from HEK searches, one search
// per calendar year, and writes it as goes.csv and goes.parquet.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/solarfetch/internal/hek"
	"github.com/brensch/solarfetch/internal/table"
)

// ErrNoEvents is returned when not a single year produced flare events.
var ErrNoEvents = errors.New("no year produced flare events")

// DefaultWorkers is the number of years searched concurrently.
const DefaultWorkers = 4

// Catalog column names.
const (
	ColStartTime = "start_time"
	ColPeakTime  = "peak_time"
	ColEndTime   = "end_time"
	ColClass     = "goes_class"
	ColRegion    = "noaa_active_region"
)

var (
	hekColumns = []string{"event_starttime", "event_peaktime", "event_endtime", "fl_goescls", "ar_noaanum"}
	rename     = map[string]string{
		"event_starttime": ColStartTime,
		"event_peaktime":  ColPeakTime,
		"event_endtime":   ColEndTime,
		"fl_goescls":      ColClass,
		"ar_noaanum":      ColRegion,
	}
)

// Searcher runs HEK event searches.
type Searcher interface {
	Search(ctx context.Context, q hek.Query) (*table.Table, error)
}

// Options configures a Fetcher.
type Options struct {
	Dir       string
	FirstYear int
	LastYear  int
	Workers   int
}

// Fetcher builds the flare catalog.
type Fetcher struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

func New(searcher Searcher, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Fetcher{searcher: searcher, opts: opts, logger: logger.With(slog.String("component", "catalog"))}
}

// CSVPath is the combined catalog file.
func (f *Fetcher) CSVPath() string { return filepath.Join(f.opts.Dir, "goes.csv") }

// ParquetPath is the Parquet copy of the combined catalog.
func (f *Fetcher) ParquetPath() string { return filepath.Join(f.opts.Dir, "goes.parquet") }

// FetchYear returns the GOES flares of year that are assigned to a NOAA active
// region. It returns nil when the year has no such events.
func (f *Fetcher) FetchYear(ctx context.Context, year int) (*table.Table, error) {
	events, err := f.searcher.Search(ctx, hek.Query{
		Start:       time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		EventType:   "FL",
		Observatory: "GOES",
	})
	if err != nil {
		return nil, fmt.Errorf("search %d: %w", year, err)
	}
	if len(events.Columns) == 0 {
		return nil, nil
	}
	projected, err := events.Select(hekColumns, rename)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", year, err)
	}
	region := projected.ColumnIndex(ColRegion)
	assigned := projected.Filter(func(row []string) bool {
		return hasRegion(row[region])
	})
	if assigned.Len() == 0 {
		return nil, nil
	}
	return assigned, nil
}

func hasRegion(v string) bool {
	if v == "" {
		return false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return true
	}
	return n != 0
}

// Run searches every configured year, combines the results and overwrites the
// catalog files. If any year fails the existing catalog is left in place and
// the joined errors are returned.
func (f *Fetcher) Run(ctx context.Context) (*table.Table, error) {
	years := make([]int, 0, f.opts.LastYear-f.opts.FirstYear+1)
	for y := f.opts.FirstYear; y <= f.opts.LastYear; y++ {
		years = append(years, y)
	}
	f.logger.Info("Fetching GOES flare catalog.", slog.Int("first_year", f.opts.FirstYear), slog.Int("last_year", f.opts.LastYear), slog.Int("workers", f.opts.Workers))

	tables := make([]*table.Table, len(years))
	errs := make([]error, len(years))
	var g errgroup.Group
	g.SetLimit(f.opts.Workers)
	for i, year := range years {
		g.Go(func() error {
			tables[i], errs[i] = f.FetchYear(ctx, year)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		f.logger.Error("Catalog not updated, some years failed.", "error", err)
		return nil, err
	}

	var empty []int
	for i, t := range tables {
		if t == nil {
			empty = append(empty, years[i])
		}
	}
	if len(empty) > 0 {
		f.logger.Info("Years without GOES events assigned to a NOAA region.", slog.Any("years", empty))
	}

	goes := table.Concat(tables...)
	if len(goes.Columns) == 0 {
		return nil, ErrNoEvents
	}
	class := goes.ColumnIndex(ColClass)
	goes = goes.Filter(func(row []string) bool { return row[class] != "" })

	if err := table.WriteCSV(f.CSVPath(), goes, false); err != nil {
		return nil, fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := WriteParquet(f.ParquetPath(), goes); err != nil {
		return nil, fmt.Errorf("failed to write catalog parquet: %w", err)
	}
	f.logger.Info("GOES flare catalog written.", slog.String("path", f.CSVPath()), slog.Int("events", goes.Len()))
	return goes, nil
}
