package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sim-control/simbridge/internal/audit"
	"github.com/sim-control/simbridge/internal/drift"
	"github.com/sim-control/simbridge/internal/frames"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
)

// ErrNoMotion is returned when the arbiter has no motion port.
var ErrNoMotion = errors.New("motion port not configured")

// Kind classifies a command decision.
type Kind string

const (
	KindDropped Kind = "dropped"
	KindMove    Kind = "move"
	KindRotate  Kind = "rotate"
)

// Motion issues asynchronous motion calls for one vehicle.
type Motion interface {
	MoveToPosition(ctx context.Context, target simulator.Vector3, velocity, timeoutSec float64, yaw simulator.YawMode) (simulator.Handle, error)
	RotateToYaw(ctx context.Context, yawDeg, timeoutSec, marginDeg float64) (simulator.Handle, error)
}

// Auditor records command decisions.
type Auditor interface {
	LogAction(ctx context.Context, action, vehicle, result string, latency time.Duration)
	LogCommand(ctx context.Context, action, vehicle, commandID string, params map[string]interface{}, outcome string, err error, latency time.Duration)
}

// Publisher is the bus side the arbiter reports faults to.
type Publisher interface {
	Publish(topic string, data any) telemetry.Event
}

// Compile-time assertion that the audit logger implements Auditor
var _ Auditor = (*audit.Logger)(nil)

// Options configures an Arbiter.
type Options struct {
	Vehicle string
	Motion  Motion
	Drift   drift.Model
	Frames  *frames.Converter
	State   lifecycle.Reader
	Bus     Publisher
	Audit   Auditor
	Logger  *slog.Logger

	Velocity          float64
	MinMovingDistance float64
	TimeoutSec        float64
	YawMarginDeg      float64
}

// MotionCommand describes the last decision taken.
type MotionCommand struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Target   simulator.Vector3 `json:"target"`
	YawDeg   float64           `json:"yawDeg"`
	Distance float64           `json:"distance"`
	IssuedAt time.Time         `json:"issuedAt"`
}

// Arbiter serializes pose commands.
type Arbiter struct {
	opts   Options
	logger *slog.Logger

	position atomic.Pointer[simulator.Vector3]

	mu      sync.Mutex
	handle  simulator.Handle
	last    *MotionCommand
	dropped atomic.Uint64
	issued  atomic.Uint64
}

// New returns an arbiter. Zero tunables fall back to 0.1 m, 3600 s
// and 5 degrees.
func New(opts Options) *Arbiter {
	if opts.MinMovingDistance <= 0 {
		opts.MinMovingDistance = 0.1
	}
	if opts.TimeoutSec <= 0 {
		opts.TimeoutSec = 3600
	}
	if opts.YawMarginDeg <= 0 {
		opts.YawMarginDeg = 5
	}
	if opts.Frames == nil {
		opts.Frames = frames.NewConverter()
	}
	if opts.Drift == nil {
		opts.Drift = drift.NewIdentity()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{opts: opts, logger: logger.With("component", "command")}
}

// UpdatePosition stores the latest ground-truth position in the local
// frame.
func (a *Arbiter) UpdatePosition(p simulator.Vector3) {
	a.position.Store(&p)
}

// Position returns the last ground-truth position snapshot.
func (a *Arbiter) Position() simulator.Vector3 {
	if p := a.position.Load(); p != nil {
		return *p
	}
	return a.opts.Drift.GroundTruth().Position
}

// Submit handles one pose setpoint given in the drifted local frame.
// Commands arriving before Running are dropped without error. The
// motion is not awaited.
func (a *Arbiter) Submit(ctx context.Context, pose simulator.Pose) (MotionCommand, error) {
	start := time.Now()

	if !a.running() {
		return a.drop(ctx, start), nil
	}
	if a.opts.Motion == nil {
		return MotionCommand{}, ErrNoMotion
	}

	target := a.opts.Drift.Invert(pose)

	a.mu.Lock()
	defer a.mu.Unlock()

	// Shutdown enters its state before taking mu to cancel, so a state
	// read under mu either sees Shutdown or precedes that cancel.
	if !a.running() {
		return a.drop(ctx, start), nil
	}

	a.cancelLocked(ctx)

	cmd := MotionCommand{
		ID:       uuid.NewString(),
		Distance: target.Position.Distance(a.Position()),
		YawDeg:   a.opts.Frames.YawToRemoteDegrees(target.Orientation),
		IssuedAt: start,
	}

	var (
		handle simulator.Handle
		err    error
		action string
	)
	if cmd.Distance >= a.opts.MinMovingDistance {
		cmd.Kind = KindMove
		cmd.Target = a.opts.Frames.VectorToRemote(target.Position)
		action = "moveToPosition"
		handle, err = a.opts.Motion.MoveToPosition(ctx, cmd.Target, a.opts.Velocity, a.opts.TimeoutSec,
			simulator.YawMode{IsRate: false, YawOrRateDeg: cmd.YawDeg})
	} else {
		cmd.Kind = KindRotate
		action = "rotateToYaw"
		handle, err = a.opts.Motion.RotateToYaw(ctx, cmd.YawDeg, a.opts.TimeoutSec, a.opts.YawMarginDeg)
	}

	params := map[string]interface{}{
		"x":        cmd.Target.X,
		"y":        cmd.Target.Y,
		"z":        cmd.Target.Z,
		"yawDeg":   cmd.YawDeg,
		"distance": cmd.Distance,
	}

	if err != nil {
		a.logger.Warn("motion command failed", "action", action, "commandId", cmd.ID, "error", err)
		a.audit(ctx, action, cmd.ID, params, "FAILED", err, time.Since(start))
		a.publishFault(action, err)
		return cmd, fmt.Errorf("%s: %w", action, err)
	}

	a.handle = handle
	a.last = &cmd
	a.issued.Add(1)
	a.logger.Debug("motion command issued", "action", action, "commandId", cmd.ID, "distance", cmd.Distance, "yawDeg", cmd.YawDeg)
	a.audit(ctx, action, cmd.ID, params, "ISSUED", nil, time.Since(start))
	return cmd, nil
}

// CancelOutstanding aborts the motion in flight, if any.
func (a *Arbiter) CancelOutstanding(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked(ctx)
}

func (a *Arbiter) cancelLocked(ctx context.Context) {
	if a.handle == nil {
		return
	}
	if err := a.handle.Cancel(ctx); err != nil {
		a.logger.Warn("failed to cancel previous motion", "taskId", a.handle.ID(), "error", err)
	}
	a.handle = nil
}

// Last returns the most recent issued command.
func (a *Arbiter) Last() (MotionCommand, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return MotionCommand{}, false
	}
	return *a.last, true
}

// Stats reports how many commands were issued and dropped.
func (a *Arbiter) Stats() (issued, dropped uint64) {
	return a.issued.Load(), a.dropped.Load()
}

func (a *Arbiter) running() bool {
	return a.opts.State != nil && a.opts.State.Current() == lifecycle.Running
}

func (a *Arbiter) drop(ctx context.Context, start time.Time) MotionCommand {
	a.dropped.Add(1)
	a.logger.Debug("pose command dropped", "state", a.state())
	if a.opts.Audit != nil {
		a.opts.Audit.LogAction(ctx, "pose", a.opts.Vehicle, audit.CodeDropped, time.Since(start))
	}
	return MotionCommand{Kind: KindDropped, IssuedAt: start}
}

func (a *Arbiter) state() string {
	if a.opts.State == nil {
		return "unknown"
	}
	return a.opts.State.Current().String()
}

func (a *Arbiter) audit(ctx context.Context, action, id string, params map[string]interface{}, outcome string, err error, latency time.Duration) {
	if a.opts.Audit == nil {
		return
	}
	a.opts.Audit.LogCommand(ctx, action, a.opts.Vehicle, id, params, outcome, err, latency)
}

func (a *Arbiter) publishFault(action string, err error) {
	if a.opts.Bus == nil {
		return
	}
	a.opts.Bus.Publish(telemetry.TopicFault, telemetry.Fault{
		Source:  "command." + action,
		Code:    audit.CodeFromError(err),
		Message: err.Error(),
	})
}
