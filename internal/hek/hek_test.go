package hek

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Timeout: 5 * time.Second, PageSize: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSearch_Pages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "fl", q.Get("event_type"))
		assert.Equal(t, "GOES", q.Get("value0"))
		assert.Equal(t, "2011-01-01T00:00:00", q.Get("event_starttime"))
		assert.Equal(t, "2012-01-01T00:00:00", q.Get("event_endtime"))
		switch q.Get("page") {
		case "1":
			fmt.Fprint(w, `{"overmax":true,"result":[
				{"event_starttime":"2011-02-15T01:44:00","fl_goescls":"X2.2","ar_noaanum":11158},
				{"event_starttime":"2011-03-09T23:13:00","fl_goescls":"X1.5","ar_noaanum":11166}]}`)
		case "2":
			fmt.Fprint(w, `{"overmax":false,"result":[
				{"event_starttime":"2011-08-09T07:48:00","fl_goescls":"X6.9","ar_noaanum":null,"extra":true}]}`)
		default:
			t.Errorf("unexpected page %s", q.Get("page"))
		}
	})

	got, err := c.Search(context.Background(), Query{
		Start:       time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType:   "FL",
		Observatory: "GOES",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ar_noaanum", "event_starttime", "extra", "fl_goescls"}, got.Columns)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"11158", "2011-02-15T01:44:00", "", "X2.2"}, got.Rows[0])
	assert.Equal(t, []string{"", "2011-08-09T07:48:00", "true", "X6.9"}, got.Rows[2])
}

func TestSearch_NoResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"overmax":false,"result":[]}`)
	})
	got, err := c.Search(context.Background(), Query{EventType: "FL"})
	require.NoError(t, err)
	assert.Empty(t, got.Columns)
	assert.Equal(t, 0, got.Len())
}

func TestSearch_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	_, err := c.Search(context.Background(), Query{EventType: "FL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
