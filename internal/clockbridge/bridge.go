package clockbridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sim-control/simbridge/internal/clock"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/telemetry"
	"golang.org/x/time/rate"
)

// TimeSource supplies simulator time and liveness.
type TimeSource interface {
	SimTime(ctx context.Context) (uint64, error)
	Alive() bool
}

// Publisher receives clock samples.
type Publisher interface {
	Publish(topic string, data any) telemetry.Event
}

// Options configures a Bridge.
type Options struct {
	Source      TimeSource
	State       lifecycle.Reader
	Bus         Publisher
	Clock       clock.Clock
	Interval    time.Duration
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Bridge is the clock republishing loop.
type Bridge struct {
	opts    Options
	logger  *slog.Logger
	warn    *rate.Limiter
	samples atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

// New returns a bridge. Interval defaults to 1ms.
func New(opts Options) *Bridge {
	if opts.Interval <= 0 {
		opts.Interval = time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		opts:   opts,
		logger: logger.With("component", "clockbridge"),
		warn:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run samples until the source is no longer alive, the state reaches
// Shutdown or ctx ends. It always returns nil; the owner decides what
// a stop means.
func (b *Bridge) Run(ctx context.Context) error {
	clk := b.opts.Clock
	interval := b.opts.Interval
	start := clk.Now()
	var k int64

	b.logger.Debug("clock loop started", "interval", interval)
	defer b.logger.Debug("clock loop stopped", "samples", b.samples.Load(), "skipped", b.skipped.Load())

	for {
		if reason := b.stopReason(ctx); reason != "" {
			b.logger.Info("clock loop stopping", "reason", reason)
			return nil
		}

		b.sample(ctx)

		k++
		next := start.Add(time.Duration(k) * interval)
		now := clk.Now()
		if !now.Before(next) {
			missed := int64(now.Sub(next)/interval) + 1
			k += missed
			b.skipped.Add(uint64(missed))
			next = start.Add(time.Duration(k) * interval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-clk.After(next.Sub(now)):
		}
	}
}

func (b *Bridge) stopReason(ctx context.Context) string {
	switch {
	case ctx.Err() != nil:
		return "context done"
	case b.opts.State != nil && b.opts.State.Current() == lifecycle.Shutdown:
		return "shutdown"
	case !b.opts.Source.Alive():
		return "simulator not alive"
	}
	return ""
}

func (b *Bridge) sample(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, b.opts.CallTimeout)
	defer cancel()

	nanos, err := b.opts.Source.SimTime(callCtx)
	if err != nil {
		b.errors.Add(1)
		if b.warn.Allow() {
			b.logger.Warn("failed to read simulator time", "error", err, "failures", b.errors.Load())
		}
		return
	}
	b.samples.Add(1)
	if b.opts.Bus != nil {
		b.opts.Bus.Publish(telemetry.TopicClock, telemetry.ClockSample{SimTimeNanos: nanos})
	}
}

// Samples returns the number of published samples.
func (b *Bridge) Samples() uint64 { return b.samples.Load() }

// Skipped returns the number of grid points skipped after overruns.
func (b *Bridge) Skipped() uint64 { return b.skipped.Load() }
