package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sim-control/simbridge/internal/clock"
	"github.com/sim-control/simbridge/internal/clockbridge"
	"github.com/sim-control/simbridge/internal/command"
	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/drift"
	"github.com/sim-control/simbridge/internal/frames"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/processing"
	"github.com/sim-control/simbridge/internal/scheduler"
	"github.com/sim-control/simbridge/internal/session"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Compile-time assertion that Session implements the arbiter's motion port
var _ command.Motion = (*session.Session)(nil)

// Options configures a Controller.
type Options struct {
	// Hub receives every published message. A private hub is created
	// when nil.
	Hub *telemetry.Hub

	// Audit records pose commands. Optional.
	Audit command.Auditor

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller owns the session state machine and every loop.
type Controller struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  *slog.Logger
	hub     *telemetry.Hub
	machine *lifecycle.Machine

	session   *session.Session
	frames    *frames.Converter
	drift     drift.Model
	arbiter   *command.Arbiter
	scheduler *scheduler.Scheduler
	clockLoop *clockbridge.Bridge
	groups    []scheduler.PollGroup

	// pipeline is set once in run before any sensor loop starts.
	pipeline *processing.Pipeline

	mu     sync.Mutex
	cancel context.CancelFunc
	ran    bool
}

// New wires a controller for sim. Nothing touches the simulator until
// Run.
func New(cfg *config.Config, sim simulator.Simulator, opts Options) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("controller: nil config")
	}
	model, err := drift.New(cfg.Drift)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = telemetry.NewHub(telemetry.Options{
			BufferSize:        cfg.Telemetry.EventBufferSize,
			HeartbeatInterval: cfg.Telemetry.HeartbeatInterval,
			HeartbeatJitter:   cfg.Telemetry.HeartbeatJitter,
			Clock:             clk,
			Logger:            logger,
		})
	}

	c := &Controller{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "controller", "vehicle", cfg.Vehicle.Name),
		hub:     hub,
		machine: lifecycle.NewMachine(),
		frames:  frames.NewConverter(),
		drift:   model,
	}

	c.session = session.New(sim, session.Options{
		Endpoint:      cfg.Simulator.Endpoint,
		Vehicle:       cfg.Vehicle.Name,
		HealthTimeout: cfg.Simulator.HealthTimeout,
		Logger:        logger.With("component", "session"),
	})

	c.arbiter = command.New(command.Options{
		Vehicle:           cfg.Vehicle.Name,
		Motion:            c.session,
		Drift:             model,
		Frames:            c.frames,
		State:             c.machine,
		Bus:               hub,
		Audit:             opts.Audit,
		Logger:            logger,
		Velocity:          cfg.Vehicle.Velocity,
		MinMovingDistance: cfg.Motion.MinMovingDistance,
		TimeoutSec:        cfg.Motion.CommandTimeoutSec,
		YawMarginDeg:      cfg.Motion.YawMarginDeg,
	})

	c.groups = scheduler.PlanGroups(cfg.SensorDescriptors)
	c.scheduler = scheduler.New(c.groups, scheduler.Options{
		Clock:        clk,
		State:        c.machine,
		Poll:         c.pollSensor,
		Logger:       logger.With("component", "scheduler"),
		WarnInterval: cfg.Telemetry.PollWarnInterval,
	})

	if cfg.Simulator.UseSimTime {
		c.clockLoop = clockbridge.New(clockbridge.Options{
			Source:      c.session,
			State:       c.machine,
			Bus:         hub,
			Clock:       clk,
			Interval:    cfg.Timing.TimePublisherInterval,
			CallTimeout: cfg.Simulator.CallTimeout,
			Logger:      logger,
		})
	}

	c.machine.OnTransition(func(from, to lifecycle.State) {
		c.logger.Info("session state changed", "from", from.String(), "to", to.String())
	})

	return c, nil
}

// Hub returns the telemetry hub.
func (c *Controller) Hub() *telemetry.Hub { return c.hub }

// Arbiter returns the pose command arbiter.
func (c *Controller) Arbiter() *command.Arbiter { return c.arbiter }

// State returns the current session state.
func (c *Controller) State() lifecycle.State { return c.machine.Current() }

// SessionStatus returns the simulator session status.
func (c *Controller) SessionStatus() session.Status { return c.session.Status() }

// Groups returns the poll group counters.
func (c *Controller) Groups() []scheduler.GroupStatus { return c.scheduler.Status() }

// Stop requests a clean shutdown of a running controller.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the controller until ctx ends or a fatal condition
// occurs. It returns nil on a requested shutdown and the fatal error
// otherwise. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return errors.New("controller: Run called twice")
	}
	c.ran = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	runErr := c.run(gctx, g)
	requested := runCtx.Err() != nil
	loopErr := c.shutdown(cancel, g)

	switch {
	case loopErr != nil:
		c.logger.Error("bridge stopped on fatal error", "error", loopErr)
		return loopErr
	case runErr != nil && !requested:
		c.logger.Error("bridge stopped on fatal error", "error", runErr)
		return runErr
	}
	c.logger.Info("bridge stopped")
	return nil
}

// run connects, starts the loops in g and flies the startup sequence.
// It returns when startup fails or gctx ends.
func (c *Controller) run(gctx context.Context, g *errgroup.Group) error {
	if err := c.connect(gctx); err != nil {
		return err
	}
	if err := c.initFrames(gctx); err != nil {
		return err
	}
	c.publishStaticTransforms()
	c.pipeline = processing.NewPipeline(gctx, c.cfg.ProcessorDescriptors, processing.CameraInfoFunc(c.cameraInfo), c.hub, c.logger)

	g.Go(func() error { return c.pollLoop(gctx) })
	g.Go(func() error { return c.scheduler.Run(gctx) })
	if c.clockLoop != nil {
		g.Go(func() error { return c.clockLoop.Run(gctx) })
	}

	if err := c.startup(gctx); err != nil {
		return err
	}

	<-gctx.Done()
	return nil
}

// connect establishes the session and checks versions.
func (c *Controller) connect(ctx context.Context) error {
	simCfg := c.cfg.Simulator
	c.logger.Info("connecting to simulator", "endpoint", simCfg.Endpoint, "timeout", simCfg.ConnectTimeout)

	if err := c.session.Connect(ctx, simCfg.ConnectTimeout, simCfg.ConnectRetryInterval); err != nil {
		return err
	}
	if err := c.machine.Transition(lifecycle.Connecting); err != nil {
		return err
	}

	if err := c.session.CheckVersionCompatibility(ctx); err != nil {
		return err
	}
	return c.machine.Transition(lifecycle.Connected)
}

// initFrames sets the local frame from the vehicle heading, retrying
// within the configured budget.
func (c *Controller) initFrames(ctx context.Context) error {
	simCfg := c.cfg.Simulator
	tries := simCfg.FrameInitRetries
	if tries < 1 {
		tries = 1
	}

	yaw, err := backoff.Retry(ctx, func() (float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, simCfg.CallTimeout)
		defer cancel()
		pose, err := c.session.GetVehiclePose(callCtx)
		if err != nil {
			return 0, err
		}
		return pose.Orientation.Yaw(), nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(simCfg.FrameInitRetryInterval)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("frame initialization failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %d attempts: %v", ErrFrameInit, tries, err)
	}

	snapped := c.frames.InitFromReferenceYaw(yaw)
	c.logger.Info("simulation frame initialized", "yaw_rad", yaw, "reference_yaw_rad", snapped)
	return nil
}

// startup flies the vehicle to a hover at the origin and enters
// Running.
func (c *Controller) startup(ctx context.Context) error {
	if d := c.cfg.Timing.StartupDelay; d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(d):
		}
	}

	motion := c.cfg.Motion
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"enable api control", func(ctx context.Context) error { return c.session.EnableAPIControl(ctx, true) }},
		{"arm", func(ctx context.Context) error { return c.session.Arm(ctx, true) }},
	}
	for _, step := range steps {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Simulator.CallTimeout)
		err := step.fn(callCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStartup, step.name, err)
		}
	}

	takeoff, err := c.session.Takeoff(ctx, motion.TakeoffTimeoutSec)
	if err != nil {
		return fmt.Errorf("%w: takeoff: %w", ErrStartup, err)
	}
	if err := takeoff.Wait(ctx); err != nil {
		return fmt.Errorf("%w: takeoff: %w", ErrStartup, err)
	}

	hover, err := c.session.MoveToPosition(ctx, simulator.Vector3{}, motion.StartupVelocity,
		motion.CommandTimeoutSec, simulator.YawMode{IsRate: true})
	if err != nil {
		return fmt.Errorf("%w: move to origin: %w", ErrStartup, err)
	}
	if err := hover.Wait(ctx); err != nil {
		return fmt.Errorf("%w: move to origin: %w", ErrStartup, err)
	}

	if err := c.machine.Transition(lifecycle.Running); err != nil {
		return err
	}
	c.hub.Publish(telemetry.TopicReady, telemetry.Ready{Ready: true})
	c.drift.Start()
	c.logger.Info("simulation is ready")
	return nil
}

// shutdown enters Shutdown, cancels motion, joins the loops and
// releases the simulator. It returns the first loop error.
func (c *Controller) shutdown(cancel context.CancelFunc, g *errgroup.Group) error {
	c.machine.Shutdown()

	timeout := c.cfg.Timing.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()

	c.arbiter.CancelOutstanding(ctx)
	cancel()
	loopErr := g.Wait()

	if c.session.EverConnected() {
		c.logger.Info("shutting down: resetting simulator")
		c.session.Reset(ctx)
		c.session.SetAPIControl(ctx, false)
	}
	return loopErr
}
