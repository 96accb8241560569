package mocksim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sim-control/simbridge/internal/clock"
	"github.com/sim-control/simbridge/internal/simulator"
)

// codeServerError carries a token-bearing message the client normalizes.
const codeServerError = -32000

// maxFinishedTasks bounds how many finished tasks stay queryable.
const maxFinishedTasks = 256

// fault builds a JSON-RPC error whose message starts with token.
func fault(token, format string, args ...any) *simulator.RPCError {
	msg := token
	if format != "" {
		msg += ": " + fmt.Sprintf(format, args...)
	}
	return &simulator.RPCError{Code: codeServerError, Message: msg}
}

func invalidParams(format string, args ...any) *simulator.RPCError {
	return &simulator.RPCError{
		Code:    simulator.CodeInvalidParams,
		Message: "INVALID_PARAMS: " + fmt.Sprintf(format, args...),
	}
}

type taskKind string

const (
	taskTakeoff taskKind = "takeoff"
	taskMove    taskKind = "moveToPosition"
	taskRotate  taskKind = "rotateToYaw"
)

// task is one motion in flight or finished. status and message are
// written before done is closed.
type task struct {
	id       string
	kind     taskKind
	target   simulator.Vector3
	speed    float64
	yawMode  simulator.YawMode
	yaw      float64
	margin   float64
	deadline time.Time

	status  string
	message string
	done    chan struct{}
}

// vehicle is the worker-owned simulation state. NED frame, radians.
type vehicle struct {
	mode       string
	apiControl bool
	armed      bool

	position simulator.Vector3
	velocity simulator.Vector3
	yaw      float64
	yawRate  float64

	collision simulator.CollisionInfo

	tasks    map[string]*task
	finished []string
	active   *task
}

// Status is a snapshot reported on the maintenance port.
type Status struct {
	Mode       string            `json:"mode"`
	APIControl bool              `json:"apiControl"`
	Armed      bool              `json:"armed"`
	Position   simulator.Vector3 `json:"position"`
	YawDeg     float64           `json:"yawDeg"`
	ActiveTask string            `json:"activeTask,omitempty"`
	Collided   bool              `json:"collided"`
}

type command struct {
	apply    func(*vehicle) (any, error)
	response chan result
}

type result struct {
	value any
	err   error
}

// World owns the simulated vehicle. It is safe for concurrent use; every
// call is serialized through one worker goroutine.
type World struct {
	cfg    *Config
	clock  clock.Clock
	logger *slog.Logger

	queue chan command
	state vehicle

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorld starts the world worker. Close stops it.
func NewWorld(cfg *Config, clk clock.Clock, logger *slog.Logger) *World {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &World{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With("component", "world"),
		queue:  make(chan command, cfg.Timing.CommandQueueSize),
		state: vehicle{
			mode:  cfg.Mode,
			tasks: make(map[string]*task),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	w.wg.Add(1)
	go w.worker()
	return w
}

// worker applies commands in FIFO order and integrates the kinematics.
func (w *World) worker() {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.cfg.Timing.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-w.queue:
			value, err := cmd.apply(&w.state)
			cmd.response <- result{value, err}
		case now := <-ticker.C:
			w.step(now)
		case <-w.ctx.Done():
			return
		}
	}
}

// Execute runs fn on the worker and returns its result. A full queue
// yields BUSY after CommandTimeout.
func (w *World) Execute(ctx context.Context, fn func(*vehicle) (any, error)) (any, error) {
	cmd := command{apply: fn, response: make(chan result, 1)}
	timeout := w.cfg.Timing.CommandTimeout

	select {
	case w.queue <- cmd:
	case <-time.After(timeout):
		return nil, fault("BUSY", "command queue full")
	case <-ctx.Done():
		return nil, fault("UNAVAILABLE", "request cancelled")
	case <-w.ctx.Done():
		return nil, fault("UNAVAILABLE", "simulator shutting down")
	}

	select {
	case res := <-cmd.response:
		return res.value, res.err
	case <-time.After(timeout):
		return nil, fault("INTERNAL", "command timed out")
	case <-w.ctx.Done():
		return nil, fault("UNAVAILABLE", "simulator shutting down")
	}
}

// Close stops the worker and fails every running task.
func (w *World) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()
		w.wg.Wait()
		for _, t := range w.state.tasks {
			finish(&w.state, t, simulator.TaskCancelled, "simulator stopped")
		}
	})
	return nil
}

// step advances the active task by one StepInterval.
func (w *World) step(now time.Time) {
	v := &w.state
	t := v.active
	if t == nil || v.mode == ModeOffline {
		v.velocity = simulator.Vector3{}
		v.yawRate = 0
		return
	}

	if !t.deadline.IsZero() && now.After(t.deadline) {
		finish(v, t, simulator.TaskFailed, "timeout")
		return
	}

	dt := w.cfg.Timing.StepInterval.Seconds()
	maxYawStep := w.cfg.Vehicle.YawRateDeg * math.Pi / 180 * dt

	switch t.kind {
	case taskTakeoff, taskMove:
		yawBefore := v.yaw
		if t.kind == taskMove {
			if t.yawMode.IsRate {
				v.yaw = wrapAngle(v.yaw + t.yawMode.YawOrRateDeg*math.Pi/180*dt)
			} else {
				v.yaw = turnToward(v.yaw, t.yawMode.YawOrRateDeg*math.Pi/180, maxYawStep)
			}
		}
		v.yawRate = wrapAngle(v.yaw-yawBefore) / dt

		diff := t.target.Sub(v.position)
		dist := diff.Norm()
		stride := t.speed * dt
		if dist <= stride {
			v.position = t.target
			v.velocity = simulator.Vector3{}
			finish(v, t, simulator.TaskCompleted, "")
			return
		}
		dir := diff.Scale(1 / dist)
		v.position = v.position.Add(dir.Scale(stride))
		v.velocity = dir.Scale(t.speed)

	case taskRotate:
		v.velocity = simulator.Vector3{}
		yawBefore := v.yaw
		v.yaw = turnToward(v.yaw, t.yaw, maxYawStep)
		v.yawRate = wrapAngle(v.yaw-yawBefore) / dt
		if math.Abs(wrapAngle(t.yaw-v.yaw)) <= t.margin {
			v.yawRate = 0
			finish(v, t, simulator.TaskCompleted, "")
		}
	}
}

// startTask registers a motion and makes it the active one, cancelling
// any previous motion.
func (w *World) startTask(v *vehicle, t *task, timeoutSec float64) string {
	if v.active != nil {
		finish(v, v.active, simulator.TaskCancelled, "superseded")
	}
	t.id = uuid.NewString()
	t.status = simulator.TaskRunning
	t.done = make(chan struct{})
	if timeoutSec > 0 {
		t.deadline = w.clock.Now().Add(time.Duration(timeoutSec * float64(time.Second)))
	}
	v.tasks[t.id] = t
	v.active = t
	w.logger.Debug("task started", "taskId", t.id, "kind", t.kind)
	return t.id
}

// finish ends t once. Finished tasks beyond maxFinishedTasks are
// forgotten oldest first.
func finish(v *vehicle, t *task, status, message string) {
	if t.status != simulator.TaskRunning {
		return
	}
	t.status = status
	t.message = message
	close(t.done)
	if v.active == t {
		v.active = nil
		v.velocity = simulator.Vector3{}
		v.yawRate = 0
	}

	v.finished = append(v.finished, t.id)
	if len(v.finished) > maxFinishedTasks {
		delete(v.tasks, v.finished[0])
		v.finished = v.finished[1:]
	}
}

// requireControl rejects motion while the vehicle is not commandable.
func (w *World) requireControl(v *vehicle, needArmed bool) error {
	if v.mode == ModeDegraded {
		return fault("BUSY", "simulator degraded")
	}
	if !v.apiControl {
		return fault("API_CONTROL_DISABLED", "")
	}
	if needArmed && !v.armed {
		return fault("UNAVAILABLE", "vehicle is disarmed")
	}
	return nil
}

func (w *World) checkVehicle(name string) error {
	if name != "" && name != w.cfg.Vehicle.Name {
		return fault("UNKNOWN_VEHICLE", "%q", name)
	}
	return nil
}

func (w *World) pose(v *vehicle) simulator.Pose {
	return simulator.Pose{
		Position:    v.position,
		Orientation: simulator.QuaternionFromYaw(v.yaw),
	}
}

func (w *World) stamp() uint64 {
	return uint64(w.clock.Now().UnixNano())
}

// reset returns the vehicle to the origin, disarmed, with every task
// cancelled.
func (w *World) reset(v *vehicle) {
	for _, t := range v.tasks {
		finish(v, t, simulator.TaskCancelled, "reset")
	}
	v.armed = false
	v.position = simulator.Vector3{}
	v.velocity = simulator.Vector3{}
	v.yaw = 0
	v.yawRate = 0
	v.collision = simulator.CollisionInfo{}
	w.logger.Info("simulation reset")
}

// SetMode switches the operating mode.
func (w *World) SetMode(ctx context.Context, mode string) error {
	if !slices.Contains(validModes, mode) {
		return invalidParams("unknown mode %q", mode)
	}
	_, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		if v.mode != mode {
			w.logger.Info("mode changed", "from", v.mode, "to", mode)
		}
		v.mode = mode
		return nil, nil
	})
	return err
}

// InjectCollision records a collision with object at the current
// position.
func (w *World) InjectCollision(ctx context.Context, object string) error {
	_, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		v.collision = simulator.CollisionInfo{
			HasCollided:    true,
			ObjectName:     object,
			Position:       v.position,
			TimestampNanos: w.stamp(),
		}
		return nil, nil
	})
	return err
}

// ClearCollision forgets the last collision.
func (w *World) ClearCollision(ctx context.Context) error {
	_, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		v.collision = simulator.CollisionInfo{}
		return nil, nil
	})
	return err
}

// Reset resets the simulation.
func (w *World) Reset(ctx context.Context) error {
	_, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		w.reset(v)
		return nil, nil
	})
	return err
}

// Status returns a snapshot of the vehicle.
func (w *World) Status(ctx context.Context) (Status, error) {
	out, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		st := Status{
			Mode:       v.mode,
			APIControl: v.apiControl,
			Armed:      v.armed,
			Position:   v.position,
			YawDeg:     v.yaw * 180 / math.Pi,
			Collided:   v.collision.HasCollided,
		}
		if v.active != nil {
			st.ActiveTask = v.active.id
		}
		return st, nil
	})
	if err != nil {
		return Status{}, err
	}
	return out.(Status), nil
}

// WaitTask blocks until the task finishes or timeout elapses and returns
// its status and message.
func (w *World) WaitTask(ctx context.Context, id string, timeout time.Duration) (string, string, error) {
	out, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		t, ok := v.tasks[id]
		if !ok {
			return nil, fault("INVALID_ARGUMENT", "unknown task %q", id)
		}
		return t, nil
	})
	if err != nil {
		return "", "", err
	}
	t := out.(*task)

	select {
	case <-t.done:
		return t.status, t.message, nil
	case <-w.clock.After(timeout):
	case <-ctx.Done():
	case <-w.ctx.Done():
		return "", "", fault("UNAVAILABLE", "simulator shutting down")
	}
	return simulator.TaskRunning, "", nil
}

// CancelTask cancels a task. Cancelling a finished task is a no-op.
func (w *World) CancelTask(ctx context.Context, id string) error {
	_, err := w.Execute(ctx, func(v *vehicle) (any, error) {
		t, ok := v.tasks[id]
		if !ok {
			return nil, fault("INVALID_ARGUMENT", "unknown task %q", id)
		}
		finish(v, t, simulator.TaskCancelled, "cancelled by client")
		return nil, nil
	})
	return err
}

// wrapAngle maps a to (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a == -math.Pi {
		return math.Pi
	}
	return a
}

// turnToward rotates from toward target by at most maxStep.
func turnToward(from, target, maxStep float64) float64 {
	diff := wrapAngle(target - from)
	if math.Abs(diff) <= maxStep {
		return wrapAngle(target)
	}
	return wrapAngle(from + math.Copysign(maxStep, diff))
}
