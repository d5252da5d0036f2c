package drms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/solarfetch/internal/table"
)

func testDialer(t *testing.T, h http.Handler) *Dialer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewDialer(Options{
		BaseURL:      srv.URL,
		Email:        "someone@example.org",
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQuery(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, infoPath, r.URL.Path)
		assert.Equal(t, "rs_list", r.URL.Query().Get("op"))
		assert.Equal(t, AllKeys, r.URL.Query().Get("key"))
		assert.Equal(t, "hmi.sharp_cea_720s[1][][? (QUALITY<65536) ?]", r.URL.Query().Get("ds"))
		fmt.Fprint(w, `{"status":0,"count":2,"keywords":[
			{"name":"T_REC","values":["2012.01.01_00:00:00_TAI","2012.01.01_01:36:00_TAI"]},
			{"name":"QUALITY","values":[0, 1024]},
			{"name":"USFLUX","values":[1.5e21, null]}]}`)
	}))

	got, err := d.NewClient().Query(context.Background(), "hmi.sharp_cea_720s[1][][? (QUALITY<65536) ?]", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"T_REC", "QUALITY", "USFLUX"}, got.Columns)
	assert.Equal(t, [][]string{
		{"2012.01.01_00:00:00_TAI", "0", "1.5e21"},
		{"2012.01.01_01:36:00_TAI", "1024", ""},
	}, got.Rows)
}

func TestQuery_StatusError(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1,"error":"bad series"}`)
	}))
	_, err := d.NewClient().Query(context.Background(), "nope[1]", []string{"T_REC"})
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestQuery_HTTPError(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	_, err := d.NewClient().Query(context.Background(), "x[1]", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestExport_PollsAndDownloads(t *testing.T) {
	var polls atomic.Int32
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == fetchPath && r.URL.Query().Get("op") == "exp_request":
			assert.Equal(t, "as-is", r.URL.Query().Get("protocol"))
			assert.Equal(t, "someone@example.org", r.URL.Query().Get("notify"))
			fmt.Fprint(w, `{"status":2,"requestid":"JSOC_1"}`)
		case r.URL.Path == fetchPath && r.URL.Query().Get("op") == "exp_status":
			if polls.Add(1) < 2 {
				fmt.Fprint(w, `{"status":1,"requestid":"JSOC_1"}`)
				return
			}
			fmt.Fprint(w, `{"status":0,"requestid":"JSOC_1","dir":"/SUM1/D1/S00000","count":2,"data":[
				{"record":"hmi.sharp_cea_720s[1][2012.01.01_00:00:00_TAI]{magnetogram}","filename":"a.fits"},
				{"record":"hmi.sharp_cea_720s[1][2012.01.01_01:36:00_TAI]{magnetogram}","filename":"/SUM2/D2/S00000/magnetogram.fits"}]}`)
		case r.URL.Path == "/SUM1/D1/S00000/a.fits", r.URL.Path == "/SUM2/D2/S00000/magnetogram.fits":
			fmt.Fprint(w, "FITS:"+r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))

	c := d.NewClient()
	rows, err := c.Export(context.Background(), "hmi.sharp_cea_720s[1][2012.01.01_00:00:00_TAI-2012.01.01_01:36:00_TAI@96m]{magnetogram}")
	require.NoError(t, err)
	require.Equal(t, 2, rows.Len())
	filenames, err := rows.Column(ColFilename)
	require.NoError(t, err)
	assert.Equal(t, "/SUM1/D1/S00000/a.fits", filenames[0])

	dir := t.TempDir()
	written, err := c.Download(context.Background(), rows, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, written.Len())

	data, err := os.ReadFile(filepath.Join(dir, "hmi.sharp_cea_720s.1.20120101_000000_TAI.magnetogram.fits"))
	require.NoError(t, err)
	assert.Equal(t, "FITS:/SUM1/D1/S00000/a.fits", string(data))
	_, err = os.Stat(filepath.Join(dir, "hmi.sharp_cea_720s.1.20120101_013600_TAI.magnetogram.fits"))
	assert.NoError(t, err)
}

func TestExport_Empty(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"count":0,"data":[]}`)
	}))
	rows, err := d.NewClient().Export(context.Background(), "mdi.smarp_cea_96m[5][]{magnetogram}")
	require.NoError(t, err)
	assert.Equal(t, 0, rows.Len())
}

func TestExport_Failure(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":4,"error":"Cannot export"}`)
	}))
	_, err := d.NewClient().Export(context.Background(), "x[1][2]{magnetogram}")
	assert.ErrorIs(t, err, ErrExportFailed)
}

func TestExport_ListingFallback(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == fetchPath {
			fmt.Fprint(w, `{"status":0,"dir":"/SUM9/D9/S00000","count":1}`)
			return
		}
		assert.Equal(t, "/SUM9/D9/S00000/", r.URL.Path)
		fmt.Fprint(w, `<html>
			<a href="../">Parent Directory</a>
			<a href="mdi.smarp_cea_96m.5.20030101_000000_TAI.magnetogram.fits">f</a>
			<a href="/SUM9/D9/S00000/mdi.smarp_cea_96m.5.20030101_013600_TAI.magnetogram.fits?C=M">g</a>
			<a href="./mdi.smarp_cea_96m.5.20030101_000000_TAI.magnetogram.fits">dup</a>
			<a href="other.txt">x</a></html>`)
	}))
	rows, err := d.NewClient().Export(context.Background(), "mdi.smarp_cea_96m[5][2003.01.01_00:00:00_TAI]{magnetogram}")
	require.NoError(t, err)
	require.Equal(t, 2, rows.Len())
	records, err := rows.Column(ColRecord)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"mdi.smarp_cea_96m[5][20030101_000000_TAI]{magnetogram}",
		"mdi.smarp_cea_96m[5][20030101_013600_TAI]{magnetogram}",
	}, records)
	filenames, err := rows.Column(ColFilename)
	require.NoError(t, err)
	assert.Equal(t, "/SUM9/D9/S00000/mdi.smarp_cea_96m.5.20030101_013600_TAI.magnetogram.fits", filenames[1])
}

func TestDownload_PartialFailureContinues(t *testing.T) {
	d := testDialer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.fits" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	rows := table.New(ColRecord, ColFilename)
	rows.Append("s.x[1][2012.01.01_00:00:00_TAI]{magnetogram}", "/bad.fits")
	rows.Append("s.x[1][2012.01.01_01:36:00_TAI]{magnetogram}", "/good.fits")

	dir := t.TempDir()
	written, err := d.NewClient().Download(context.Background(), rows, dir)
	require.Error(t, err)
	require.NotNil(t, written)
	records, colErr := written.Column(ColRecord)
	require.NoError(t, colErr)
	assert.Equal(t, []string{"s.x[1][2012.01.01_01:36:00_TAI]{magnetogram}"}, records)
	_, statErr := os.Stat(filepath.Join(dir, "s.x.1.20120101_013600_TAI.magnetogram.fits"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "s.x.1.20120101_000000_TAI.magnetogram.fits"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecordFromFilename(t *testing.T) {
	rec, ok := recordFromFilename("hmi.sharp_cea_720s", "hmi.sharp_cea_720s.377.20110215_000000_TAI.magnetogram.fits")
	require.True(t, ok)
	assert.Equal(t, "hmi.sharp_cea_720s[377][20110215_000000_TAI]{magnetogram}", rec)

	_, ok = recordFromFilename("hmi.sharp_cea_720s", "mdi.x.1.2.magnetogram.fits")
	assert.False(t, ok)
}

func TestClient_CloseReleasesConnections(t *testing.T) {
	var opened, closed atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":0,"count":0,"keywords":[]}`)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			opened.Add(1)
		case http.StateClosed:
			closed.Add(1)
		}
	}
	srv.Start()
	t.Cleanup(srv.Close)
	d := NewDialer(Options{BaseURL: srv.URL, Timeout: 5 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 5; i++ {
		c := d.NewClient()
		_, err := c.Query(context.Background(), fmt.Sprintf("hmi.sharp_cea_720s[%d]", i), nil)
		require.NoError(t, err)
		c.Close()
	}

	assert.Equal(t, int32(5), opened.Load())
	require.Eventually(t, func() bool { return closed.Load() == opened.Load() },
		2*time.Second, 10*time.Millisecond, "every session connection is closed once the session is")
}
