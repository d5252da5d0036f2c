// Package fetcher implements the per-region units of work: fetching the header
// record set of one region and fetching the images that header describes. Both
// are idempotent; repeated calls only ever add files.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/solarfetch/internal/codec"
	"github.com/brensch/solarfetch/internal/table"
	"github.com/brensch/solarfetch/internal/util"
)

var (
	ErrRemoteQuery  = errors.New("remote query failed")
	ErrRemoteExport = errors.New("remote export failed")
	ErrFilesystem   = errors.New("filesystem operation failed")
)

// Columns the fetchers depend on.
const (
	ColTREC   = "T_REC"
	ColRecord = "record"
)

// Session is one connection to the record archive. A Session is used by a
// single unit of work and is never shared. The unit closes it when done.
type Session interface {
	Query(ctx context.Context, selector string, keys []string) (*table.Table, error)
	Export(ctx context.Context, selector string) (*table.Table, error)
	// Download returns the rows whose files were written, even on error.
	Download(ctx context.Context, rows *table.Table, dir string) (*table.Table, error)
	Close()
}

// SessionFactory opens a new Session.
type SessionFactory func() Session

// Fetcher runs the units of work of one Dataset.
type Fetcher struct {
	Dataset  Dataset
	Sessions SessionFactory
	Logger   *slog.Logger
}

// New creates a Fetcher for ds.
func New(ds Dataset, sessions SessionFactory, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		Dataset:  ds,
		Sessions: sessions,
		Logger:   logger.With(slog.String("dataset", ds.Name)),
	}
}

// FetchHeaders writes the Header Record Set of region id unless it already
// exists.
func (f *Fetcher) FetchHeaders(ctx context.Context, id int) (HeaderStatus, error) {
	path := f.Dataset.HeaderPath(id)
	exists, err := fileExists(path)
	if err != nil {
		return 0, err
	}
	if exists {
		return HeaderExists, nil
	}

	session := f.Sessions()
	defer session.Close()
	keys, err := session.Query(ctx, f.Dataset.HeaderSelector(id), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %d: %w", ErrRemoteQuery, f.Dataset.Name, id, err)
	}
	if keys.Len() == 0 {
		return HeaderNoRecords, nil
	}

	if f.Dataset.Align {
		keys, err = alignToCadence(keys)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %d: %w", ErrRemoteQuery, f.Dataset.Name, id, err)
		}
		if keys.Len() == 0 {
			return HeaderNotAligned, nil
		}
	}

	if err := table.WriteCSV(path, keys, false); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	f.Logger.Debug("Header written.", slog.Int("id", id), slog.Int("records", keys.Len()))
	return HeaderWritten, nil
}

// FetchImages downloads every image of region id that the export service
// returns and that is not already in the region's image directory.
func (f *Fetcher) FetchImages(ctx context.Context, id int) (ImageOutcome, error) {
	headerPath := f.Dataset.HeaderPath(id)
	exists, err := fileExists(headerPath)
	if err != nil {
		return ImageOutcome{}, err
	}
	if !exists {
		return ImageOutcome{Status: ImagesNoHeader}, nil
	}

	dir := f.Dataset.ImagePath(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ImageOutcome{}, fmt.Errorf("%w: create image dir %s: %w", ErrFilesystem, dir, err)
	}

	header, err := table.ReadCSV(headerPath)
	if err != nil {
		return ImageOutcome{}, fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	trec, err := header.Column(ColTREC)
	if err != nil {
		return ImageOutcome{}, fmt.Errorf("%w: header %s: %w", ErrFilesystem, headerPath, err)
	}
	if len(trec) == 0 {
		return ImageOutcome{}, fmt.Errorf("%w: header %s has no records", ErrFilesystem, headerPath)
	}

	session := f.Sessions()
	defer session.Close()
	rows, err := session.Export(ctx, f.Dataset.ExportSelector(id, trec[0], trec[len(trec)-1]))
	if err != nil {
		return ImageOutcome{}, fmt.Errorf("%w: %s %d: %w", ErrRemoteExport, f.Dataset.Name, id, err)
	}
	if rows.Len() == 0 {
		return ImageOutcome{Status: ImagesNoRecords}, nil
	}

	present, err := f.presentFiles(dir)
	if err != nil {
		return ImageOutcome{}, err
	}
	missing, err := missingRows(rows, present)
	if err != nil {
		return ImageOutcome{}, fmt.Errorf("%s %d: %w", f.Dataset.Name, id, err)
	}
	if len(missing) == 0 {
		return ImageOutcome{Status: ImagesAllPresent}, nil
	}

	added, err := session.Download(ctx, rows.Subset(missing), dir)
	if err != nil {
		// The files already written stay on disk and in the add log.
		out := ImageOutcome{Status: ImagesAdded, Added: added}
		return out, fmt.Errorf("%w: download %s %d (%d of %d written): %w", ErrRemoteExport, f.Dataset.Name, id, added.Len(), len(missing), err)
	}
	f.Logger.Debug("Images added.", slog.Int("id", id), slog.Int("added", added.Len()), slog.Int("exported", rows.Len()))
	return ImageOutcome{Status: ImagesAdded, Added: added}, nil
}

// presentFiles lists the image artifacts already in dir.
func (f *Fetcher) presentFiles(dir string) (map[string]bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, f.Dataset.ImagePrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrFilesystem, dir, err)
	}
	present := make(map[string]bool, len(matches))
	for _, m := range matches {
		present[filepath.Base(m)] = true
	}
	return present, nil
}

// missingRows returns the indices of export rows whose canonical filename is
// not in present. Each filename is chosen at most once.
func missingRows(rows *table.Table, present map[string]bool) ([]int, error) {
	records, err := rows.Column(ColRecord)
	if err != nil {
		return nil, err
	}
	var missing []int
	chosen := make(map[string]bool)
	for i, record := range records {
		name, err := codec.Filename(record)
		if err != nil {
			return nil, err
		}
		if present[name] || chosen[name] {
			continue
		}
		chosen[name] = true
		missing = append(missing, i)
	}
	return missing, nil
}

// alignToCadence keeps the rows whose T_REC lies on the Cadence grid anchored
// at midnight of the first record's day. Rows without a parseable T_REC are
// dropped.
func alignToCadence(keys *table.Table) (*table.Table, error) {
	col := keys.ColumnIndex(ColTREC)
	if col < 0 {
		return nil, fmt.Errorf("query result has no %s column", ColTREC)
	}

	var anchor time.Time
	anchored := false
	return keys.Filter(func(row []string) bool {
		t, err := util.ParseDRMSTime(row[col])
		if err != nil {
			return false
		}
		if !anchored {
			anchor = util.Midnight(t)
			anchored = true
		}
		rem := t.Sub(anchor) % Cadence
		if rem < 0 {
			rem += Cadence
		}
		return rem < time.Second
	}), nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %w", ErrFilesystem, path, err)
}
