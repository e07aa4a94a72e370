package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
)

// Recorder keeps results beyond the log, e.g. in a database.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Clock is the time source of the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Runner drives the sampling loop: acquire, evaluate, emit, sleep.
type Runner struct {
	source    Source
	evaluator *Evaluator
	sink      Sink
	recorder  Recorder
	clock     Clock
	log       logger.Logger
	interval  time.Duration
}

type Option func(*Runner)

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func NewRunner(src Source, ev *Evaluator, sink Sink, interval time.Duration, opts ...Option) (*Runner, error) {
	if interval <= 0 {
		return nil, errors.New().WithData(errors.ErrInvalidInterval, interval)
	}

	r := &Runner{
		source:    src,
		evaluator: ev,
		sink:      sink,
		clock:     realClock{},
		log:       logger.Default(),
		interval:  interval,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run loops until ctx is cancelled. Cancellation is the normal way out and
// returns nil; it is only observed between ticks. A tick that is running
// when ctx is cancelled completes with all of its readings.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().
		Dur("interval", r.interval).
		Msgf("Starting system monitoring with interval: %s", r.interval)

	tickCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			break
		}

		start := r.clock.Now()
		r.Tick(tickCtx)
		wait := Remaining(r.interval, r.clock.Now().Sub(start))

		select {
		case <-ctx.Done():
		case <-r.clock.After(wait):
		}
	}

	r.log.Info().Msg("Monitoring stopped.")

	return nil
}

// Tick runs a single acquire, evaluate and emit cycle.
func (r *Runner) Tick(ctx context.Context) Result {
	snap := Acquire(ctx, r.source, r.log, r.clock.Now())
	res := r.evaluator.Evaluate(snap)
	r.sink.Emit(res)

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, res); err != nil {
			r.log.Error().Err(err).Msg("Failed to record sample")
		}
	}

	return res
}

// Remaining is how long to sleep so the tick period stays at interval. A
// tick that overran returns 0; missed ticks are not made up.
func Remaining(interval, elapsed time.Duration) time.Duration {
	return max(0, interval-elapsed)
}
