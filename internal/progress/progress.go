// Package progress reports batch-run progress, either as structured log lines or
// on a bubbletea terminal UI.
package progress

import (
	"log/slog"
	"time"
)

// Reporter receives progress of the batch runs. Implementations must be safe
// for use from the coordinating goroutine while their own goroutines render.
type Reporter interface {
	RunStarted(tag string, total int)
	// BatchStarted is called with the half-open identifier range [start, stop)
	// of the batch about to run and the size of the whole range.
	BatchStarted(tag string, start, stop, total int)
	BatchFinished(tag string, start, stop, total, failed int)
	RunFinished(tag string, err error)
}

// Nop discards progress.
type Nop struct{}

func (Nop) RunStarted(string, int)                   {}
func (Nop) BatchStarted(string, int, int, int)       {}
func (Nop) BatchFinished(string, int, int, int, int) {}
func (Nop) RunFinished(string, error)                {}

// LogReporter writes progress to a slog.Logger.
type LogReporter struct {
	logger *slog.Logger
	starts map[string]time.Time
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With(slog.String("component", "progress")), starts: make(map[string]time.Time)}
}

func (r *LogReporter) RunStarted(tag string, total int) {
	r.starts[tag] = time.Now()
	r.logger.Info("Run started.", slog.String("tag", tag), slog.Int("total", total))
}

func (r *LogReporter) BatchStarted(tag string, start, stop, total int) {
	r.logger.Info("Batch started.",
		slog.String("tag", tag),
		slog.String("batch", BatchLabel(start, stop, total)))
}

func (r *LogReporter) BatchFinished(tag string, start, stop, total, failed int) {
	l := r.logger.With(slog.String("tag", tag), slog.String("batch", BatchLabel(start, stop, total)))
	if failed > 0 {
		l.Warn("Batch finished with failures.", slog.Int("failed", failed))
		return
	}
	l.Debug("Batch finished.")
}

func (r *LogReporter) RunFinished(tag string, err error) {
	l := r.logger.With(slog.String("tag", tag))
	if start, ok := r.starts[tag]; ok {
		l = l.With(slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
		delete(r.starts, tag)
	}
	if err != nil {
		l.Error("Run finished with error.", "error", err)
		return
	}
	l.Info("Run finished.")
}
