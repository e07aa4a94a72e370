package monitor_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemaining(t *testing.T) {
	assert.Equal(t, 7*time.Second, monitor.Remaining(10*time.Second, 3*time.Second))
	assert.Equal(t, time.Duration(0), monitor.Remaining(10*time.Second, 10*time.Second))
	assert.Equal(t, time.Duration(0), monitor.Remaining(10*time.Second, 12*time.Second))
}

func TestNewRunnerRejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		_, err := monitor.NewRunner(&fakeSource{}, monitor.NewEvaluator(defaultThresholds), &captureSink{}, interval)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
	}
}

func runTicks(t *testing.T, cost time.Duration, ticks int) []time.Duration {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	clock.onSleep = func(n int) {
		if n == ticks {
			cancel()
		}
	}

	src := &fakeSource{clock: clock, cpuCost: cost, cur: nominal()}
	sink := &captureSink{}

	r, err := monitor.NewRunner(src, monitor.NewEvaluator(defaultThresholds), sink, 10*time.Second,
		monitor.WithClock(clock), monitor.WithLogger(logger.Nop()))
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	assert.Len(t, sink.results, ticks)

	return clock.Sleeps()
}

func TestRunCompensatesForAcquisitionTime(t *testing.T) {
	sleeps := runTicks(t, 3*time.Second, 3)
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second, 7 * time.Second}, sleeps)
}

func TestRunOverrunSleepsZero(t *testing.T) {
	sleeps := runTicks(t, 12*time.Second, 2)
	assert.Equal(t, []time.Duration{0, 0}, sleeps)
}

func TestRunStopsCleanlyWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	sink := &captureSink{}
	r, err := monitor.NewRunner(&fakeSource{}, monitor.NewEvaluator(defaultThresholds), sink, time.Second,
		monitor.WithLogger(logger.New(&buf, logger.FormatConsole, logger.InfoLevel)))
	require.NoError(t, err)

	assert.NoError(t, r.Run(ctx))
	assert.Empty(t, sink.results)

	out := buf.String()
	assert.Contains(t, out, "Starting system monitoring with interval: 1s")
	assert.Contains(t, out, "Monitoring stopped.")
}

func TestRunStopsDuringRealSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{}

	r, err := monitor.NewRunner(&fakeSource{cur: nominal()}, monitor.NewEvaluator(defaultThresholds), sink, time.Hour,
		monitor.WithLogger(logger.Nop()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
	assert.Len(t, sink.results, 1)
}

func TestRunEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	clock.onSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	src := &fakeSource{
		clock:   clock,
		cpuCost: time.Second,
		snapshot: func(tick int) monitor.Snapshot {
			s := monitor.Snapshot{
				CPU:          &monitor.CPUStat{Percent: 50},
				Memory:       &monitor.MemoryStat{Percent: 40},
				Disk:         &monitor.DiskCounters{},
				Net:          &monitor.NetCounters{},
				Temperatures: map[string]float64{},
			}
			if tick == 2 {
				s.CPU.Percent = 95
			}
			return s
		},
	}

	var buf bytes.Buffer
	log := logger.New(&buf, logger.FormatConsole, logger.InfoLevel)

	r, err := monitor.NewRunner(src, monitor.NewEvaluator(defaultThresholds), monitor.NewLogSink(log), 10*time.Second,
		monitor.WithClock(clock), monitor.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "INF Starting system monitoring")
	assert.Contains(t, lines[1], "INF CPU: 50.0%")
	assert.NotContains(t, lines[1], "Anomalies")
	assert.Contains(t, lines[2], "WRN CPU: 95.0%")
	assert.Contains(t, lines[2], "Anomalies: High CPU usage: 95.0%")
	assert.Contains(t, lines[3], "INF Monitoring stopped.")
}

type failingRecorder struct {
	calls int
}

func (f *failingRecorder) Record(context.Context, monitor.Result) error {
	f.calls++
	return fmt.Errorf("database is locked")
}

func TestTickRecorderFailureIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	rec := &failingRecorder{}
	sink := &captureSink{}

	r, err := monitor.NewRunner(&fakeSource{cur: nominal()}, monitor.NewEvaluator(defaultThresholds), sink, time.Second,
		monitor.WithRecorder(rec), monitor.WithLogger(logger.New(&buf, logger.FormatJSON, logger.InfoLevel)))
	require.NoError(t, err)

	r.Tick(context.Background())
	r.Tick(context.Background())

	assert.Equal(t, 2, rec.calls)
	assert.Len(t, sink.results, 2)
	assert.Contains(t, buf.String(), "Failed to record sample")
}

// cancellingSource cancels the run while the CPU window is open and then
// behaves like a context-aware reader.
type cancellingSource struct {
	fakeSource
	cancel context.CancelFunc
}

func (s *cancellingSource) CPUPercent(ctx context.Context) (float64, error) {
	s.cancel()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.fakeSource.CPUPercent(ctx)
}

func (s *cancellingSource) Memory(ctx context.Context) (monitor.MemoryStat, error) {
	if err := ctx.Err(); err != nil {
		return monitor.MemoryStat{}, err
	}
	return s.fakeSource.Memory(ctx)
}

type ctxRecorder struct {
	errs []error
}

func (c *ctxRecorder) Record(ctx context.Context, _ monitor.Result) error {
	c.errs = append(c.errs, ctx.Err())
	return ctx.Err()
}

func TestRunFinishesTickInterruptedByCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancellingSource{fakeSource: fakeSource{cur: nominal()}, cancel: cancel}
	rec := &ctxRecorder{}

	var buf bytes.Buffer
	log := logger.New(&buf, logger.FormatConsole, logger.DebugLevel)
	sink := &captureSink{}

	r, err := monitor.NewRunner(src, monitor.NewEvaluator(defaultThresholds), sink, time.Hour,
		monitor.WithRecorder(rec), monitor.WithClock(newFakeClock()), monitor.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	require.Len(t, sink.results, 1)
	snap := sink.results[0].Snapshot
	require.NotNil(t, snap.CPU)
	assert.InDelta(t, nominal().CPU.Percent, snap.CPU.Percent, 0.001)
	assert.NotNil(t, snap.Memory)

	assert.Equal(t, []error{nil}, rec.errs)
	assert.NotContains(t, buf.String(), "ERR")
	assert.Contains(t, buf.String(), "Monitoring stopped.")
}
