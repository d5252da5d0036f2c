package util

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseDRMSTime(t *testing.T) {
	cases := map[string]time.Time{
		"2012.01.01_00:12:00_TAI":     time.Date(2012, 1, 1, 0, 12, 0, 0, time.UTC),
		"2012.01.01_00:12_TAI":        time.Date(2012, 1, 1, 0, 12, 0, 0, time.UTC),
		"2003.10.28_11:11:03.500_TAI": time.Date(2003, 10, 28, 11, 11, 3, 500_000_000, time.UTC),
		"1996.05.01":                  time.Date(1996, 5, 1, 0, 0, 0, 0, time.UTC),
		`"2012.01.01_01:36:00_TAI"`:   time.Date(2012, 1, 1, 1, 36, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDRMSTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s want %s", in, got, want)
	}

	for _, bad := range []string{"", "MISSING", "Invalid KeyLink", "2012-01-01T00:00:00"} {
		_, err := ParseDRMSTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestMidnight(t *testing.T) {
	in := time.Date(2012, 3, 4, 17, 36, 12, 5, time.UTC)
	assert.Equal(t, time.Date(2012, 3, 4, 0, 0, 0, 0, time.UTC), Midnight(in))
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("SIMPLE  =                    T"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := NewHTTPClient(5 * time.Second)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	dest := filepath.Join(dir, "a.fits")
	n, err := DownloadToFile(client, req, dest)
	require.NoError(t, err)
	assert.EqualValues(t, 31, n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "SIMPLE"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
	_, err = DownloadToFile(client, req, filepath.Join(dir, "b.fits"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	_, statErr := os.Stat(filepath.Join(dir, "b.fits"))
	assert.True(t, os.IsNotExist(statErr))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "no partial files should remain")
}

func TestFileLinks(t *testing.T) {
	page := `<html><body><a href="/">up</a>
<a href="../">parent</a>
<a href="hmi.sharp_cea_720s.1.20120101_000000_TAI.magnetogram.fits">one</a>
<a href="/SUM1/D1/S00000/hmi.sharp_cea_720s.1.20120101_013600_TAI.magnetogram.FITS?C=M;O=A">two</a>
<a href="http://jsoc.stanford.edu/SUM1/D1/S00000/hmi.sharp_cea_720s.1.20120101_000000_TAI.magnetogram.fits#top">again</a>
<a href="fits/">dir</a>
<a name="anchor">no href</a>
<a href="index.json">idx</a></body></html>`
	root, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hmi.sharp_cea_720s.1.20120101_000000_TAI.magnetogram.fits",
		"hmi.sharp_cea_720s.1.20120101_013600_TAI.magnetogram.FITS",
	}, FileLinks(root, ".fits"))
	assert.Empty(t, FileLinks(root, ".txt"))
}
