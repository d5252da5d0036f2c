// Package batch drives a unit of work over a dense identifier range. The range
// is cut into fixed-size batches that run one after another; inside a batch the
// units run on a bounded pool of goroutines.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/solarfetch/internal/metrics"
	"github.com/brensch/solarfetch/internal/progress"
)

// DefaultWorkers is the pool width used when Options.Workers is not set.
const DefaultWorkers = 8

// ErrPanic marks a unit that panicked.
var ErrPanic = errors.New("unit panicked")

// UnitFunc performs the work for one identifier.
type UnitFunc[T any] func(ctx context.Context, id int) (T, error)

// Result is the outcome of one unit. Err is set when the unit failed. Value is
// whatever the unit returned alongside its error, and the zero value after a
// panic.
type Result[T any] struct {
	ID       int
	Value    T
	Err      error
	Duration time.Duration
}

// Range is a half-open identifier range.
type Range struct {
	Start int
	Stop  int
}

func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.Stop) }

// Options configures Run. Identifiers 0..MaxID inclusive are processed.
type Options struct {
	Tag       string
	MaxID     int
	BatchSize int
	Workers   int
	Logger    *slog.Logger
	Reporter  progress.Reporter
	// OnBatch is called from the coordinating goroutine after each batch with
	// that batch's results. Its errors are collected and returned by Run; they
	// do not stop the run.
	OnBatch func(ctx context.Context, r Range, results []Result[any]) error
}

// Batches returns the batch ranges covering [0, maxID].
func Batches(maxID, size int) []Range {
	var out []Range
	for start := 0; start <= maxID; start += size {
		out = append(out, Range{Start: start, Stop: min(start+size, maxID+1)})
	}
	return out
}

// Run applies fn to every identifier in [0, opts.MaxID] and returns one result
// per identifier in identifier order. A failing or panicking unit only affects
// its own Result. If ctx is cancelled no further batches are started and the
// results gathered so far are returned with the context error.
func Run[T any](ctx context.Context, opts Options, fn UnitFunc[T]) ([]Result[T], error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Nop{}
	}
	logger := opts.Logger.With(slog.String("tag", opts.Tag))
	total := opts.MaxID + 1
	if total < 0 {
		total = 0
	}

	opts.Reporter.RunStarted(opts.Tag, total)
	results := make([]Result[T], 0, total)
	var hookErr error

	for _, r := range Batches(opts.MaxID, opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled before batch.", slog.String("batch", r.String()))
			err = errors.Join(hookErr, err)
			opts.Reporter.RunFinished(opts.Tag, err)
			return results, err
		}

		opts.Reporter.BatchStarted(opts.Tag, r.Start, r.Stop, total)
		batch := runBatch(ctx, r, opts.Workers, opts.Tag, fn)
		results = append(results, batch...)

		failed := 0
		for _, res := range batch {
			if res.Err != nil {
				failed++
				logger.Warn("Unit failed.", slog.Int("id", res.ID), "error", res.Err)
			}
		}
		metrics.BatchesCompleted.WithLabelValues(opts.Tag).Inc()
		opts.Reporter.BatchFinished(opts.Tag, r.Start, r.Stop, total, failed)

		if opts.OnBatch != nil {
			if err := opts.OnBatch(ctx, r, erase(batch)); err != nil {
				logger.Error("Batch hook failed.", slog.String("batch", r.String()), "error", err)
				hookErr = errors.Join(hookErr, err)
			}
		}
	}

	opts.Reporter.RunFinished(opts.Tag, hookErr)
	return results, hookErr
}

// runBatch runs the identifiers of r on a pool of the given width. Each
// goroutine writes only its own slot of the result slice.
func runBatch[T any](ctx context.Context, r Range, workers int, tag string, fn UnitFunc[T]) []Result[T] {
	out := make([]Result[T], r.Stop-r.Start)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range out {
		id := r.Start + i
		g.Go(func() error {
			out[i] = runUnit(ctx, id, fn)
			metrics.UnitDuration.WithLabelValues(tag).Observe(out[i].Duration.Seconds())
			return nil
		})
	}
	_ = g.Wait() // units report through their Result, never through the group
	return out
}

func runUnit[T any](ctx context.Context, id int, fn UnitFunc[T]) (res Result[T]) {
	start := time.Now()
	res.ID = id
	defer func() {
		if p := recover(); p != nil {
			var zero T
			res.Value = zero
			res.Err = fmt.Errorf("%w: id %d: %v\n%s", ErrPanic, id, p, debug.Stack())
		}
		res.Duration = time.Since(start)
	}()
	res.Value, res.Err = fn(ctx, id)
	return res
}

// erase converts typed results for the OnBatch hook.
func erase[T any](in []Result[T]) []Result[any] {
	out := make([]Result[any], len(in))
	for i, r := range in {
		out[i] = Result[any]{ID: r.ID, Value: r.Value, Err: r.Err, Duration: r.Duration}
	}
	return out
}
