package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRemote(t *testing.T) {
	ok := RemoteRequests.WithLabelValues("jsoc", "query", "success")
	bad := RemoteRequests.WithLabelValues("jsoc", "query", "failure")
	okBefore, badBefore := testutil.ToFloat64(ok), testutil.ToFloat64(bad)

	RecordRemote("jsoc", "query", nil)
	RecordRemote("jsoc", "query", errors.New("boom"))
	RecordRemote("jsoc", "query", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, badBefore+1, testutil.ToFloat64(bad))
}

func TestWriteTextfile(t *testing.T) {
	require.NoError(t, WriteTextfile(""))

	UnitOutcomes.WithLabelValues("sharp_headers", "written").Inc()
	path := filepath.Join(t.TempDir(), "solarfetch.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `solarfetch_unit_outcomes_total{outcome="written",tag="sharp_headers"}`), text)
	assert.Contains(t, text, "solarfetch_last_run_timestamp_seconds")
}
