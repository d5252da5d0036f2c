// Package metrics collects run statistics in a Prometheus registry. The fetcher is
// a batch job with no HTTP surface, so the registry is written once at the end of a
// run to a node_exporter textfile instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every solarfetch collector.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Unit outcomes per batch run tag, labelled with the outcome name.
	UnitOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarfetch_unit_outcomes_total",
			Help: "Unit fetch outcomes by run tag and outcome",
		},
		[]string{"tag", "outcome"},
	)

	UnitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarfetch_unit_duration_seconds",
			Help:    "Duration of a single unit fetch",
			Buckets: []float64{.01, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"tag"},
	)

	BatchesCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarfetch_batches_completed_total",
			Help: "Batches completed by run tag",
		},
		[]string{"tag"},
	)

	// Remote calls by service (jsoc, hek), operation and result.
	RemoteRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarfetch_remote_requests_total",
			Help: "Requests issued to remote archives",
		},
		[]string{"service", "operation", "result"},
	)

	FilesDownloaded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarfetch_files_downloaded_total",
			Help: "Image artifacts written to disk",
		},
		[]string{"series"},
	)

	BytesDownloaded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarfetch_bytes_downloaded_total",
			Help: "Bytes of image artifacts written to disk",
		},
		[]string{"series"},
	)

	CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarfetch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	LastRunTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarfetch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)
)

// RecordRemote counts one remote call.
func RecordRemote(service, operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RemoteRequests.WithLabelValues(service, operation, result).Inc()
}

// WriteTextfile stamps the run end time and writes the registry to path in the
// Prometheus text format. An empty path disables the export.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	LastRunTimestamp.Set(float64(time.Now().Unix()))
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
