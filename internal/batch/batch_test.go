package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingReporter struct {
	mu       sync.Mutex
	started  []Range
	finished []Range
	failed   []int
	totals   []int
	runErr   error
	done     bool
}

func (r *recordingReporter) RunStarted(string, int) {}

func (r *recordingReporter) BatchStarted(_ string, start, stop, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, Range{start, stop})
	r.totals = append(r.totals, total)
}

func (r *recordingReporter) BatchFinished(_ string, start, stop, _ int, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, Range{start, stop})
	r.failed = append(r.failed, failed)
}

func (r *recordingReporter) RunFinished(_ string, err error) {
	r.runErr = err
	r.done = true
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_OrderAndBoundaries(t *testing.T) {
	rep := &recordingReporter{}
	results, err := Run(context.Background(), Options{
		Tag: "order", MaxID: 249, BatchSize: 100, Logger: quiet(), Reporter: rep,
	}, func(ctx context.Context, id int) (int, error) {
		// Later identifiers finish first inside a batch.
		time.Sleep(time.Duration(100-id%100) * 10 * time.Microsecond)
		return id * 2, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 250)
	for i, r := range results {
		assert.Equal(t, i, r.ID)
		assert.Equal(t, i*2, r.Value)
		assert.NoError(t, r.Err)
	}
	want := []Range{{0, 100}, {100, 200}, {200, 250}}
	assert.Equal(t, want, rep.started)
	assert.Equal(t, want, rep.finished)
	assert.Equal(t, []int{250, 250, 250}, rep.totals)
	assert.True(t, rep.done)
}

func TestBatches(t *testing.T) {
	assert.Equal(t, []Range{{0, 100}, {100, 200}, {200, 250}}, Batches(249, 100))
	assert.Equal(t, []Range{{0, 1}}, Batches(0, 100))
	assert.Empty(t, Batches(-1, 100))
	assert.Equal(t, "[100, 200)", Range{100, 200}.String())
}

func TestRun_BoundedPool(t *testing.T) {
	var running, peak atomic.Int32
	_, err := Run(context.Background(), Options{
		Tag: "pool", MaxID: 63, BatchSize: 32, Workers: 4, Logger: quiet(),
	}, func(ctx context.Context, id int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRun_FailureIsolation(t *testing.T) {
	rep := &recordingReporter{}
	boom := errors.New("export failed")
	results, err := Run(context.Background(), Options{
		Tag: "isolation", MaxID: 9, BatchSize: 5, Workers: 3, Logger: quiet(), Reporter: rep,
	}, func(ctx context.Context, id int) (string, error) {
		switch id {
		case 3:
			return "partial", boom
		case 7:
			panic("nil session")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Len(t, results, 10)
	for _, r := range results {
		switch r.ID {
		case 3:
			assert.ErrorIs(t, r.Err, boom)
			assert.Equal(t, "partial", r.Value, "a failed unit keeps what it returned")
		case 7:
			assert.ErrorIs(t, r.Err, ErrPanic)
			assert.Empty(t, r.Value)
		default:
			assert.NoError(t, r.Err)
			assert.Equal(t, "ok", r.Value)
		}
	}
	assert.Equal(t, []int{1, 1}, rep.failed)
}

func TestRun_OnBatch(t *testing.T) {
	var seen []Range
	var ids []int
	hookErr := errors.New("ledger down")
	results, err := Run(context.Background(), Options{
		Tag: "hook", MaxID: 4, BatchSize: 2, Logger: quiet(),
		OnBatch: func(ctx context.Context, r Range, rs []Result[any]) error {
			seen = append(seen, r)
			for _, res := range rs {
				ids = append(ids, res.ID)
				assert.Equal(t, res.ID+1, res.Value)
			}
			if r.Start == 2 {
				return hookErr
			}
			return nil
		},
	}, func(ctx context.Context, id int) (int, error) { return id + 1, nil })

	assert.ErrorIs(t, err, hookErr)
	assert.Len(t, results, 5, "a failing hook does not stop the run")
	assert.Equal(t, []Range{{0, 2}, {2, 4}, {4, 5}}, seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ids)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{}

	results, err := Run(ctx, Options{
		Tag: "cancel", MaxID: 29, BatchSize: 10, Logger: quiet(), Reporter: rep,
	}, func(ctx context.Context, id int) (int, error) {
		if id == 9 {
			cancel()
		}
		return id, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 10, "the running batch completes, later ones are not started")
	assert.ErrorIs(t, rep.runErr, context.Canceled)
}

func TestRun_InvalidBatchSize(t *testing.T) {
	_, err := Run(context.Background(), Options{MaxID: 3}, func(ctx context.Context, id int) (int, error) { return id, nil })
	assert.Error(t, err)
}
