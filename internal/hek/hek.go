// Package hek searches the Heliophysics Event Knowledgebase.
package hek

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/brensch/solarfetch/internal/remote"
	"github.com/brensch/solarfetch/internal/table"
	"github.com/brensch/solarfetch/internal/util"
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	PageSize          int
}

// Query selects events of one type, from one observatory, in [Start, End).
type Query struct {
	Start       time.Time
	End         time.Time
	EventType   string // e.g. "FL"
	Observatory string // e.g. "GOES"
}

// Client is safe for concurrent use.
type Client struct {
	opts   Options
	http   *http.Client
	guard  *remote.Guard
	logger *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 20000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	l := logger.With(slog.String("component", "hek"))
	return &Client{
		opts:   opts,
		http:   util.NewHTTPClient(opts.Timeout),
		guard:  remote.NewGuard("hek", opts.RequestsPerSecond, l),
		logger: l,
	}
}

type searchPage struct {
	Result  []map[string]any `json:"result"`
	Overmax bool             `json:"overmax"`
}

// Search runs q, following result pages until the service reports no more. The
// table's columns are the union of every returned attribute, sorted. A search
// with no results returns a table with no columns.
func (c *Client) Search(ctx context.Context, q Query) (*table.Table, error) {
	var events []map[string]any
	for page := 1; ; page++ {
		body, err := c.guard.Do(ctx, "search", func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(q, page), nil)
			if err != nil {
				return nil, fmt.Errorf("create request failed: %w", err)
			}
			req.Header.Set("User-Agent", util.UserAgent)
			req.Header.Set("Accept", "application/json")
			return util.DownloadFile(c.http, req)
		})
		if err != nil {
			return nil, err
		}

		var sp searchPage
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&sp); err != nil {
			return nil, fmt.Errorf("failed to decode HEK page %d: %w", page, err)
		}
		events = append(events, sp.Result...)
		c.logger.Debug("HEK page fetched.", slog.Int("page", page), slog.Int("events", len(sp.Result)), slog.Bool("overmax", sp.Overmax))
		if !sp.Overmax || len(sp.Result) == 0 {
			break
		}
	}
	return eventsTable(events), nil
}

func (c *Client) searchURL(q Query, page int) string {
	v := url.Values{}
	v.Set("cosec", "2") // JSON
	v.Set("cmd", "search")
	v.Set("type", "column")
	v.Set("event_type", strings.ToLower(q.EventType))
	v.Set("event_starttime", q.Start.UTC().Format(util.HEKTimeLayout))
	v.Set("event_endtime", q.End.UTC().Format(util.HEKTimeLayout))
	v.Set("event_coordsys", "helioprojective")
	v.Set("x1", "-1200")
	v.Set("x2", "1200")
	v.Set("y1", "-1200")
	v.Set("y2", "1200")
	if q.Observatory != "" {
		v.Set("param0", "obs_observatory")
		v.Set("op0", "=")
		v.Set("value0", q.Observatory)
	}
	v.Set("result_limit", strconv.Itoa(c.opts.PageSize))
	v.Set("page", strconv.Itoa(page))
	return c.opts.BaseURL + "?" + v.Encode()
}

func eventsTable(events []map[string]any) *table.Table {
	seen := make(map[string]bool)
	var cols []string
	for _, e := range events {
		for k := range e {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)

	t := table.New(cols...)
	for _, e := range events {
		cells := make([]string, len(cols))
		for i, k := range cols {
			cells[i] = cell(e[k])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
