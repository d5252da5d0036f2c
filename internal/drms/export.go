package drms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/brensch/solarfetch/internal/codec"
	"github.com/brensch/solarfetch/internal/metrics"
	"github.com/brensch/solarfetch/internal/table"
	"github.com/brensch/solarfetch/internal/util"
)

// Export status codes reported by jsoc_fetch.
const (
	statusComplete = 0
)

var pendingStatuses = map[int]bool{1: true, 2: true, 6: true}

// Columns of the table returned by Export.
const (
	ColRecord   = "record"
	ColFilename = "filename"
)

type exportStatus struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	RequestID string `json:"requestid"`
	Method    string `json:"method"`
	Dir       string `json:"dir"`
	Count     int    `json:"count"`
	Data      []struct {
		Record   string `json:"record"`
		Filename string `json:"filename"`
	} `json:"data"`
}

// Export submits an as-is export of selector and waits for it to complete. The
// result has one row per exported file with the record descriptor (column
// "record") and its path on the JSOC host (column "filename").
func (c *Client) Export(ctx context.Context, selector string) (*table.Table, error) {
	q := url.Values{}
	q.Set("op", "exp_request")
	q.Set("ds", selector)
	q.Set("method", "url_quick")
	q.Set("protocol", "as-is")
	q.Set("format", "json")
	q.Set("notify", c.d.opts.Email)
	q.Set("requestor", "none")

	st, err := c.exportCall(ctx, "export", q, selector)
	if err != nil {
		return nil, err
	}

	if pendingStatuses[st.Status] {
		st, err = c.waitForExport(ctx, st.RequestID, selector)
		if err != nil {
			return nil, err
		}
	}
	if st.Status != statusComplete {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrExportFailed, selector, st.Status, st.Error)
	}

	out := table.New(ColRecord, ColFilename)
	for _, d := range st.Data {
		filename := d.Filename
		if st.Dir != "" && !strings.HasPrefix(filename, "/") {
			filename = path.Join(st.Dir, filename)
		}
		out.Append(d.Record, filename)
	}
	if out.Len() == 0 && st.Count > 0 && st.Dir != "" {
		// Staged exports occasionally report only their directory.
		return c.listExportDir(ctx, st.Dir, seriesOf(selector))
	}
	return out, nil
}

func (c *Client) exportCall(ctx context.Context, operation string, q url.Values, selector string) (exportStatus, error) {
	var st exportStatus
	body, err := c.get(ctx, operation, fetchPath, q)
	if err != nil {
		return st, err
	}
	if err := decode(body, &st); err != nil {
		return st, fmt.Errorf("failed to decode %s response for %s: %w", operation, selector, err)
	}
	return st, nil
}

// waitForExport polls exp_status until the request leaves the pending states or
// the export timeout passes.
func (c *Client) waitForExport(ctx context.Context, requestID, selector string) (exportStatus, error) {
	if requestID == "" {
		return exportStatus{}, fmt.Errorf("%w: %s: pending export without request id", ErrExportFailed, selector)
	}
	ctx, cancel := context.WithTimeout(ctx, c.d.opts.ExportTimeout)
	defer cancel()

	l := c.d.logger.With(slog.String("request_id", requestID))
	l.Debug("Export pending, polling status.")

	q := url.Values{}
	q.Set("op", "exp_status")
	q.Set("requestid", requestID)

	ticker := time.NewTicker(c.d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return exportStatus{}, fmt.Errorf("%w: %s: waiting for %s: %w", ErrExportFailed, selector, requestID, ctx.Err())
		case <-ticker.C:
		}
		st, err := c.exportCall(ctx, "export_status", q, selector)
		if err != nil {
			return st, err
		}
		if !pendingStatuses[st.Status] {
			l.Debug("Export finished.", slog.Int("status", st.Status), slog.Int("count", st.Count))
			return st, nil
		}
	}
}

// listExportDir reads the HTML index of a staged export directory and rebuilds
// record descriptors from the canonical filenames it links to.
func (c *Client) listExportDir(ctx context.Context, dir, series string) (*table.Table, error) {
	body, err := c.get(ctx, "export_listing", strings.TrimRight(dir, "/")+"/", nil)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse export listing %s: %w", dir, err)
	}

	out := table.New(ColRecord, ColFilename)
	for _, name := range util.FileLinks(root, ".fits") {
		record, ok := recordFromFilename(series, name)
		if !ok {
			c.d.logger.Warn("Skipping unrecognised file in export listing.", slog.String("dir", dir), slog.String("file", name))
			continue
		}
		out.Append(record, path.Join(dir, name))
	}
	return out, nil
}

// recordFromFilename inverts the codec for names of the form
// series.key1.key2[.keyN].segment.fits.
func recordFromFilename(series, name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, series+".")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, ".fits")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, ".")
	if len(parts) < 3 {
		return "", false
	}
	keys, seg := parts[:len(parts)-1], parts[len(parts)-1]
	return series + "[" + strings.Join(keys, "][") + "]{" + seg + "}", true
}

func seriesOf(selector string) string {
	if i := strings.IndexAny(selector, "[{"); i >= 0 {
		return strings.TrimSpace(selector[:i])
	}
	return strings.TrimSpace(selector)
}

// Download fetches every row of an Export result into dir, naming each file by
// its canonical codec filename. Rows are attempted independently. It returns
// the rows whose files were written, together with the joined errors of the
// failed ones.
func (c *Client) Download(ctx context.Context, rows *table.Table, dir string) (*table.Table, error) {
	records, err := rows.Column(ColRecord)
	if err != nil {
		return nil, err
	}
	filenames, err := rows.Column(ColFilename)
	if err != nil {
		return nil, err
	}

	var downloadErr error
	var done []int
	for i, record := range records {
		if ctx.Err() != nil {
			return rows.Subset(done), errors.Join(downloadErr, ctx.Err())
		}
		name, err := codec.Filename(record)
		if err != nil {
			downloadErr = errors.Join(downloadErr, err)
			continue
		}
		dest := filepath.Join(dir, name)
		src := c.d.opts.BaseURL + filenames[i]

		var written int64
		_, err = c.d.guard.Do(ctx, "download", func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
			if err != nil {
				return nil, fmt.Errorf("create request failed: %w", err)
			}
			req.Header.Set("User-Agent", util.UserAgent)
			written, err = util.DownloadToFile(c.http, req, dest)
			return nil, err
		})
		if err != nil {
			c.d.logger.Warn("Download failed.", slog.String("record", record), "error", err)
			downloadErr = errors.Join(downloadErr, fmt.Errorf("download %s: %w", record, err))
			continue
		}
		series := seriesOf(record)
		metrics.FilesDownloaded.WithLabelValues(series).Inc()
		metrics.BytesDownloaded.WithLabelValues(series).Add(float64(written))
		done = append(done, i)
	}
	return rows.Subset(done), downloadErr
}
