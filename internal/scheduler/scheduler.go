package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sim-control/simbridge/internal/clock"
	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"golang.org/x/time/rate"
)

// PollFunc reads one sensor and publishes the result.
type PollFunc func(ctx context.Context, sensor config.SensorDescriptor) error

// Options configures a Scheduler.
type Options struct {
	Clock  clock.Clock
	State  lifecycle.Reader
	Poll   PollFunc
	Logger *slog.Logger

	// WarnInterval bounds poll-failure warnings to one per sensor per
	// interval. Zero logs every failure.
	WarnInterval time.Duration
}

// GroupStatus reports the activity of one group.
type GroupStatus struct {
	RateHz    float64  `json:"rateHz"`
	Exclusive bool     `json:"exclusive"`
	Members   []string `json:"members"`
	Polls     uint64   `json:"polls"`
	Failures  uint64   `json:"failures"`
}

type groupRunner struct {
	group    PollGroup
	polls    atomic.Uint64
	failures atomic.Uint64
}

// Scheduler runs one poll loop per group.
type Scheduler struct {
	opts    Options
	runners []*groupRunner

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New returns a scheduler for groups. Nothing runs until Start.
func New(groups []PollGroup, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scheduler{
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, g := range groups {
		s.runners = append(s.runners, &groupRunner{group: g})
	}
	return s
}

// Start launches the group loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for i, r := range s.runners {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runGroup(ctx, i, r)
		}()
	}
	s.opts.Logger.Info("sensor scheduler started", "groups", len(s.runners))
}

// Wait blocks until every group loop has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Run starts the loops and blocks until they all return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	s.Wait()
	return nil
}

// Stop cancels every group loop and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Status returns per-group counters.
func (s *Scheduler) Status() []GroupStatus {
	out := make([]GroupStatus, len(s.runners))
	for i, r := range s.runners {
		out[i] = GroupStatus{
			RateHz:    r.group.RateHz,
			Exclusive: r.group.Exclusive,
			Members:   r.group.MemberNames(),
			Polls:     r.polls.Load(),
			Failures:  r.failures.Load(),
		}
	}
	return out
}

func (s *Scheduler) runGroup(ctx context.Context, index int, r *groupRunner) {
	ticker := s.opts.Clock.NewTicker(r.group.Period())
	defer ticker.Stop()

	logger := s.opts.Logger.With("group", index, "rate_hz", r.group.RateHz)
	logger.Debug("poll group started", "members", r.group.MemberNames())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.opts.State != nil && s.opts.State.Current() == lifecycle.Shutdown {
			logger.Debug("poll group stopping on shutdown")
			return
		}

		for _, sensor := range r.group.Members {
			if ctx.Err() != nil {
				return
			}
			r.polls.Add(1)
			if err := s.opts.Poll(ctx, sensor); err != nil {
				r.failures.Add(1)
				if s.allowWarn(sensor.Name) {
					logger.Warn("sensor poll failed", "sensor", sensor.Name, "error", err)
				}
			}
		}
	}
}

func (s *Scheduler) allowWarn(sensor string) bool {
	if s.opts.WarnInterval <= 0 {
		return true
	}
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[sensor]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.opts.WarnInterval), 1)
		s.limiters[sensor] = l
	}
	return l.Allow()
}
