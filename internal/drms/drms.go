// Package drms talks to the JSOC DRMS web API: keyword queries (jsoc_info
// rs_list), as-is exports (jsoc_fetch exp_request / exp_status) and file
// downloads.
package drms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/brensch/solarfetch/internal/remote"
	"github.com/brensch/solarfetch/internal/table"
	"github.com/brensch/solarfetch/internal/util"
)

const (
	infoPath  = "/cgi-bin/ajax/jsoc_info"
	fetchPath = "/cgi-bin/ajax/jsoc_fetch"

	// AllKeys requests every keyword of a series.
	AllKeys = "**ALL**"
)

var (
	// ErrQueryFailed is a DRMS-reported failure of a keyword query.
	ErrQueryFailed = errors.New("drms query failed")
	// ErrExportFailed is a DRMS-reported failure of an export request.
	ErrExportFailed = errors.New("drms export failed")
)

// Options configures a Dialer.
type Options struct {
	BaseURL           string
	Email             string
	RequestsPerSecond float64
	Timeout           time.Duration
	PollInterval      time.Duration
	ExportTimeout     time.Duration
}

// Dialer hands out sessions. Sessions created by the same Dialer share its
// rate limit and circuit breaker but nothing else.
type Dialer struct {
	opts   Options
	guard  *remote.Guard
	logger *slog.Logger
}

// NewDialer creates a Dialer for the JSOC instance at opts.BaseURL.
func NewDialer(opts Options, logger *slog.Logger) *Dialer {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 30 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	l := logger.With(slog.String("component", "drms"))
	return &Dialer{opts: opts, guard: remote.NewGuard("jsoc", opts.RequestsPerSecond, l), logger: l}
}

// NewClient opens a session with its own HTTP client.
func (d *Dialer) NewClient() *Client {
	return &Client{d: d, http: util.NewHTTPClient(d.opts.Timeout)}
}

// Client is one DRMS session. It is safe for use by a single unit of work;
// callers needing parallelism take one Client each from the Dialer.
type Client struct {
	d    *Dialer
	http *http.Client
}

// Close drops the session's idle keep-alive connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

type keywordList struct {
	Status   int    `json:"status"`
	Error    string `json:"error"`
	Count    int    `json:"count"`
	Keywords []struct {
		Name   string `json:"name"`
		Values []any  `json:"values"`
	} `json:"keywords"`
}

// Query lists keyword values of the records matching selector. A nil or empty
// keys slice requests every keyword. The result has one row per record.
func (c *Client) Query(ctx context.Context, selector string, keys []string) (*table.Table, error) {
	key := AllKeys
	if len(keys) > 0 {
		key = strings.Join(keys, ",")
	}
	q := url.Values{}
	q.Set("op", "rs_list")
	q.Set("ds", selector)
	q.Set("key", key)

	body, err := c.get(ctx, "query", infoPath, q)
	if err != nil {
		return nil, err
	}

	var resp keywordList
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode rs_list response for %s: %w", selector, err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrQueryFailed, selector, resp.Status, resp.Error)
	}

	t := &table.Table{}
	rows := 0
	for _, kw := range resp.Keywords {
		t.Columns = append(t.Columns, kw.Name)
		if len(kw.Values) > rows {
			rows = len(kw.Values)
		}
	}
	for i := 0; i < rows; i++ {
		cells := make([]string, len(resp.Keywords))
		for j, kw := range resp.Keywords {
			if i < len(kw.Values) {
				cells[j] = cellString(kw.Values[i])
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// get performs a guarded GET against the JSOC host and returns the body.
func (c *Client) get(ctx context.Context, operation, path string, q url.Values) ([]byte, error) {
	u := c.d.opts.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.d.guard.Do(ctx, operation, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request failed: %w", err)
		}
		req.Header.Set("User-Agent", util.UserAgent)
		req.Header.Set("Accept", "application/json")
		return util.DownloadFile(c.http, req)
	})
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// cellString renders a decoded JSON value as the CSV cell DRMS would print.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
