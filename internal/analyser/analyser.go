// Package analyser turns the per-unit results of a batch run into the run's
// audit artifacts: the outcome log (log_download_<tag>.csv), the log of newly
// added image records (log_add_<tag>.csv) and a logged frequency table.
package analyser

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/brensch/solarfetch/internal/batch"
	"github.com/brensch/solarfetch/internal/fetcher"
	"github.com/brensch/solarfetch/internal/metrics"
	"github.com/brensch/solarfetch/internal/table"
)

// FailedCode is counted for units that returned an error instead of an outcome.
const FailedCode = -1

// Coded is an outcome that collapses to an integer code.
type Coded interface {
	Code() int
	String() string
}

// Summary is the outcome frequency table of one run.
type Summary struct {
	Tag      string
	Counts   map[int]int
	Labels   map[int]string
	Failures int
	Total    int
	// Added is the number of image records added by the run.
	Added int
}

// Count tallies outcome codes.
func Count(codes []int) map[int]int {
	out := make(map[int]int)
	for _, c := range codes {
		out[c]++
	}
	return out
}

// Codes returns the counted codes in ascending order.
func (s Summary) Codes() []int {
	codes := make([]int, 0, len(s.Counts))
	for c := range s.Counts {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// Analyser writes audit artifacts into one directory.
type Analyser struct {
	dir    string
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Analyser {
	return &Analyser{dir: dir, logger: logger.With(slog.String("component", "analyser"))}
}

// DownloadLogPath is the outcome log of tag.
func (a *Analyser) DownloadLogPath(tag string) string {
	return filepath.Join(a.dir, "log_download_"+tag+".csv")
}

// AddLogPath is the added-records log of tag.
func (a *Analyser) AddLogPath(tag string) string {
	return filepath.Join(a.dir, "log_add_"+tag+".csv")
}

// Analyze summarizes a header run.
func (a *Analyser) Analyze(tag string, results []batch.Result[fetcher.HeaderStatus]) (Summary, error) {
	return summarize(a, tag, results, 0)
}

// AnalyzeImages summarizes an image run. The rows of every ImagesAdded outcome
// are concatenated, with a fresh index, into the add log. Failed units that
// wrote some files before failing contribute those rows too.
func (a *Analyser) AnalyzeImages(tag string, results []batch.Result[fetcher.ImageOutcome]) (Summary, error) {
	var added []*table.Table
	for _, r := range results {
		if r.Value.Status == fetcher.ImagesAdded && r.Value.Added != nil && r.Value.Added.Len() > 0 {
			added = append(added, r.Value.Added)
		}
	}
	addedRows := 0
	if len(added) > 0 {
		all := table.Concat(added...)
		addedRows = all.Len()
		if err := table.WriteCSV(a.AddLogPath(tag), all, true); err != nil {
			return Summary{}, fmt.Errorf("failed to write add log for %s: %w", tag, err)
		}
	}
	return summarize(a, tag, results, addedRows)
}

func summarize[T Coded](a *Analyser, tag string, results []batch.Result[T], added int) (Summary, error) {
	s := Summary{Tag: tag, Labels: make(map[int]string), Total: len(results), Added: added}
	codes := make([]int, len(results))
	log := table.New("result", "error")
	for i, r := range results {
		if r.Err != nil {
			codes[i] = FailedCode
			s.Labels[FailedCode] = "failed"
			s.Failures++
			log.Append(strconv.Itoa(FailedCode), r.Err.Error())
			continue
		}
		codes[i] = r.Value.Code()
		s.Labels[codes[i]] = r.Value.String()
		log.Append(strconv.Itoa(codes[i]), "")
	}
	s.Counts = Count(codes)

	if err := table.WriteCSV(a.DownloadLogPath(tag), log, true); err != nil {
		return s, fmt.Errorf("failed to write download log for %s: %w", tag, err)
	}

	l := a.logger.With(slog.String("tag", tag))
	l.Info("Run summary.", slog.Int("total", s.Total), slog.Int("failed", s.Failures), slog.Int("added_records", s.Added))
	for _, c := range s.Codes() {
		l.Info("Outcome count.", slog.Int("result", c), slog.String("outcome", s.Labels[c]), slog.Int("count", s.Counts[c]))
		metrics.UnitOutcomes.WithLabelValues(tag, s.Labels[c]).Add(float64(s.Counts[c]))
	}
	return s, nil
}
