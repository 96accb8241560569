package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/clock"
	"github.com/sim-control/simbridge/internal/command"
	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/session"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/simulator/fake"
	"github.com/sim-control/simbridge/internal/telemetry"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Vehicle.Name = "drone_1"
	cfg.Vehicle.Velocity = 2
	cfg.Timing.StartupDelay = 0
	cfg.Timing.StateRefreshRate = 100
	cfg.Simulator.ConnectTimeout = 200 * time.Millisecond
	cfg.Simulator.ConnectRetryInterval = 10 * time.Millisecond
	cfg.Simulator.FrameInitRetries = 2
	cfg.Simulator.FrameInitRetryInterval = time.Millisecond
	cfg.Telemetry.PollWarnInterval = time.Hour
	cfg.SensorDescriptors = []config.SensorDescriptor{
		{
			Name:        "imu",
			RateHz:      10,
			OutputTopic: "drone_1/imu",
			FrameName:   "drone_1/imu",
			Mount:       simulator.IdentityPose(),
			Spec:        config.ImuSpec{},
		},
		{
			Name:        "front",
			RateHz:      10,
			OutputTopic: "drone_1/front",
			FrameName:   "drone_1/front",
			Mount:       simulator.IdentityPose(),
			Spec:        config.CameraSpec{ImageType: simulator.ImageScene},
		},
	}
	return cfg
}

type harness struct {
	sim    *fake.Simulator
	clk    *clock.FakeClock
	ctrl   *Controller
	cancel context.CancelFunc
	errCh  chan error
}

func newHarness(t *testing.T, cfg *config.Config, setup func(*fake.Simulator)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := fake.New()
	if setup != nil {
		setup(sim)
	}
	clk := clock.Fake(epoch)
	ctrl, err := New(cfg, sim, Options{Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{sim: sim, clk: clk, ctrl: ctrl}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.errCh = make(chan error, 1)
	go func() { h.errCh <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.errCh:
		case <-time.After(5 * time.Second):
		}
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		h.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) methods(names ...string) []string {
	want := make(map[string]bool)
	for _, n := range names {
		want[n] = true
	}
	var out []string
	for _, c := range h.sim.Calls() {
		if want[c.Method] {
			out = append(out, c.Method)
		}
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })

	hub := h.ctrl.Hub()
	if ev, ok := hub.Latest(telemetry.TopicReady); !ok || !ev.Data.(telemetry.Ready).Ready {
		t.Fatal("Expected simulation_is_ready=true")
	}

	got := h.methods("EnableAPIControl", "ArmDisarm", "Takeoff", "MoveToPosition")
	want := []string{"EnableAPIControl", "ArmDisarm", "Takeoff", "MoveToPosition"}
	if len(got) != len(want) {
		t.Fatalf("Expected startup calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected startup calls %v, got %v", want, got)
		}
	}
	for _, c := range h.sim.Calls() {
		if c.Method == "MoveToPosition" {
			if target := c.Args[0].(simulator.Vector3); target != (simulator.Vector3{}) {
				t.Errorf("Expected hover at origin, got %+v", target)
			}
			if v := c.Args[1].(float64); v != 5 {
				t.Errorf("Expected startup velocity 5, got %v", v)
			}
		}
	}

	// The camera is listed last, so the latest static transform is the
	// camera mount with the optical rotation applied.
	ev, ok := hub.Latest(telemetry.TopicTFStatic)
	if !ok {
		t.Fatal("Expected static sensor transforms")
	}
	tf := ev.Data.(telemetry.TransformStamped)
	if tf.ChildFrameID != "drone_1/front" || tf.Header.FrameID != "drone_1" {
		t.Errorf("Unexpected static transform %+v", tf)
	}
	if q := tf.Transform.Orientation; math.Abs(q.W-0.5) > 1e-9 || math.Abs(q.X+0.5) > 1e-9 {
		t.Errorf("Expected optical rotation, got %+v", q)
	}

	h.clk.WaitForTimers(2)
	h.clk.Advance(100 * time.Millisecond)

	eventually(t, "odometry", func() bool {
		_, ok := hub.Latest(telemetry.OdometryTopic("drone_1"))
		return ok
	})
	eventually(t, "sensor readings", func() bool {
		_, imu := hub.Latest("drone_1/imu")
		_, cam := hub.Latest("drone_1/front")
		return imu && cam
	})
	for _, topic := range []string{
		telemetry.GroundTruthOdometryTopic("drone_1"),
		telemetry.GroundTruthPoseTopic("drone_1"),
		telemetry.TopicTF,
	} {
		if _, ok := hub.Latest(topic); !ok {
			t.Errorf("Expected a message on %s", topic)
		}
	}
	if _, ok := hub.Latest(telemetry.CollisionTopic("drone_1")); ok {
		t.Error("Did not expect a collision message")
	}

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.ctrl.State() != lifecycle.Shutdown {
		t.Errorf("Expected Shutdown, got %s", h.ctrl.State())
	}
	if n := h.sim.CallCount("Reset"); n != 1 {
		t.Errorf("Expected one Reset, got %d", n)
	}
	calls := h.sim.Calls()
	last := calls[len(calls)-1]
	if last.Method != "EnableAPIControl" || last.Args[0] != false {
		t.Errorf("Expected API control released last, got %s %v", last.Method, last.Args)
	}
}

func TestProcessorsRunAfterSensorRead(t *testing.T) {
	cfg := testConfig()
	cfg.SensorDescriptors[1].Spec = config.CameraSpec{ImageType: simulator.ImageDepthPlanar, PixelsAsFloat: true}
	cfg.ProcessorDescriptors = []config.ProcessorDescriptor{
		{Name: "cloud", Input: "front", OutputTopic: "drone_1/cloud", Spec: config.DepthToPointcloudSpec{}},
		{Name: "imu_link", Input: "imu", OutputTopic: "drone_1/imu_link", Spec: config.ChangeFrameIDSpec{FrameID: "imu_link"}},
	}
	h := newHarness(t, cfg, func(sim *fake.Simulator) { sim.SetDepth(2) })
	h.start(t)

	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })
	if n := h.sim.CallCount("GetCameraInfo"); n != 1 {
		t.Errorf("Expected camera info fetched once, got %d", n)
	}

	h.clk.WaitForTimers(2)
	h.clk.Advance(100 * time.Millisecond)

	hub := h.ctrl.Hub()
	eventually(t, "processor outputs", func() bool {
		_, cloud := hub.Latest("drone_1/cloud")
		_, relabel := hub.Latest("drone_1/imu_link")
		return cloud && relabel
	})

	ev, _ := hub.Latest("drone_1/cloud")
	cloud := ev.Data.(telemetry.PointCloud)
	// A 1x1 image behind a 90 degree lens has f = 0.5, so its only pixel
	// lies on the ray (-1, -1, 1).
	want := []float32{-2, -2, 2}
	if len(cloud.Points) != len(want) {
		t.Fatalf("Expected points %v, got %v", want, cloud.Points)
	}
	for i := range want {
		if math.Abs(float64(cloud.Points[i]-want[i])) > 1e-5 {
			t.Fatalf("Expected points %v, got %v", want, cloud.Points)
		}
	}
	if cloud.Header.FrameID != "drone_1/front" {
		t.Errorf("Expected cloud in drone_1/front, got %q", cloud.Header.FrameID)
	}

	ev, _ = hub.Latest("drone_1/imu_link")
	if frame := ev.Data.(telemetry.SensorReading).Header.FrameID; frame != "imu_link" {
		t.Errorf("Expected imu_link frame, got %q", frame)
	}
}

func TestHealthLossShutsDown(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })
	h.clk.WaitForTimers(2)

	h.sim.SetConnected(false)
	h.clk.Advance(10 * time.Millisecond)

	err := h.wait(t)
	if !errors.Is(err, ErrHealthLost) {
		t.Fatalf("Expected ErrHealthLost, got %v", err)
	}
	if h.ctrl.State() != lifecycle.Shutdown {
		t.Errorf("Expected Shutdown, got %s", h.ctrl.State())
	}

	// Every loop has been joined; further ticks poll nothing.
	polls := h.sim.CallCount("GetImuData")
	h.clk.Advance(time.Second)
	if got := h.sim.CallCount("GetImuData"); got != polls {
		t.Errorf("Expected no polls after shutdown, got %d more", got-polls)
	}
	if err := h.ctrl.machine.Transition(lifecycle.Running); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("Expected Shutdown to be terminal, got %v", err)
	}
}

func TestHealthLossDuringStartupShutsDown(t *testing.T) {
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) { sim.HoldTasks(true) })
	h.start(t)

	eventually(t, "takeoff issued", func() bool {
		for _, hd := range h.sim.Handles() {
			if hd.Kind == "Takeoff" {
				return true
			}
		}
		return false
	})
	if h.ctrl.State() != lifecycle.Connected {
		t.Fatalf("Expected Connected during takeoff, got %s", h.ctrl.State())
	}

	h.sim.SetConnected(false)
	eventually(t, "Shutdown", func() bool {
		h.clk.Advance(10 * time.Millisecond)
		return h.ctrl.State() == lifecycle.Shutdown
	})

	err := h.wait(t)
	if !errors.Is(err, ErrHealthLost) {
		t.Fatalf("Expected ErrHealthLost, got %v", err)
	}
	if n := h.sim.CallCount("MoveToPosition"); n != 0 {
		t.Errorf("Expected no hover after health loss, got %d", n)
	}
	if err := h.ctrl.machine.Transition(lifecycle.Running); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("Expected Shutdown to be terminal, got %v", err)
	}
}

func TestConnectTimeoutIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Simulator.ConnectTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, func(sim *fake.Simulator) { sim.SetConnected(false) })
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, session.ErrConnectTimeout) {
		t.Fatalf("Expected ErrConnectTimeout, got %v", err)
	}
	if h.ctrl.State() != lifecycle.Shutdown {
		t.Errorf("Expected Shutdown, got %s", h.ctrl.State())
	}
	if n := h.sim.CallCount("Reset"); n != 0 {
		t.Errorf("Expected no Reset without a connection, got %d", n)
	}
}

func TestVersionMismatchIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) { sim.SetVersions(1, 1, 1, 2) })
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, session.ErrVersionIncompatible) {
		t.Fatalf("Expected ErrVersionIncompatible, got %v", err)
	}
	var verr *session.VersionError
	if !errors.As(err, &verr) || verr.Kind != session.ClientTooOld {
		t.Errorf("Expected client-too-old VersionError, got %v", err)
	}
	if n := h.sim.CallCount("Reset"); n != 1 {
		t.Errorf("Expected Reset after a connection, got %d", n)
	}
	if n := h.sim.CallCount("Takeoff"); n != 0 {
		t.Errorf("Expected no takeoff, got %d", n)
	}
}

func TestFrameInitBudget(t *testing.T) {
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) {
		sim.SetError("GetVehiclePose", simulator.ErrUnavailable)
	})
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, ErrFrameInit) {
		t.Fatalf("Expected ErrFrameInit, got %v", err)
	}
	if n := h.sim.CallCount("GetVehiclePose"); n != 2 {
		t.Errorf("Expected 2 attempts, got %d", n)
	}
}

func TestFrameInitSnapsReferenceYaw(t *testing.T) {
	yaw := 5 * math.Pi / 180
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) {
		sim.SetVehicleState(simulator.VehicleState{Pose: simulator.Pose{
			Orientation: simulator.QuaternionFromYaw(yaw),
		}})
	})
	h.start(t)

	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })
	if ref := h.ctrl.frames.ReferenceYaw(); math.Abs(ref) > 1e-9 {
		t.Errorf("Expected reference yaw snapped to 0, got %v", ref)
	}
}

func TestStartupFailureIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) {
		sim.SetError("Takeoff", simulator.ErrUnavailable)
	})
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, ErrStartup) || !errors.Is(err, simulator.ErrUnavailable) {
		t.Fatalf("Expected startup failure, got %v", err)
	}
	if h.ctrl.State() != lifecycle.Shutdown {
		t.Errorf("Expected Shutdown, got %s", h.ctrl.State())
	}
}

func TestCommandsGatedOnRunning(t *testing.T) {
	h := newHarness(t, testConfig(), func(sim *fake.Simulator) { sim.HoldTasks(true) })
	h.start(t)

	// The hover move is held, so startup stays in Connected.
	var hover *fake.Handle
	eventually(t, "hover issued", func() bool {
		for _, hd := range h.sim.Handles() {
			if hd.Kind == "MoveToPosition" {
				hover = hd
				return true
			}
		}
		return false
	})
	if h.ctrl.State() != lifecycle.Connected {
		t.Fatalf("Expected Connected during startup, got %s", h.ctrl.State())
	}

	ctx := context.Background()
	cmd, err := h.ctrl.Arbiter().Submit(ctx, simulator.Pose{
		Position:    simulator.Vector3{X: 10},
		Orientation: simulator.IdentityQuaternion(),
	})
	if err != nil || cmd.Kind != command.KindDropped {
		t.Fatalf("Expected dropped command, got %+v %v", cmd, err)
	}

	hover.Complete()
	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })

	cmd, err = h.ctrl.Arbiter().Submit(ctx, simulator.Pose{
		Position:    simulator.Vector3{X: 10},
		Orientation: simulator.IdentityQuaternion(),
	})
	if err != nil || cmd.Kind != command.KindMove {
		t.Fatalf("Expected move command, got %+v %v", cmd, err)
	}

	// Shutdown cancels the motion in flight.
	h.ctrl.Stop()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	handles := h.sim.Handles()
	if last := handles[len(handles)-1]; !last.Cancelled() {
		t.Error("Expected the outstanding motion cancelled on shutdown")
	}
}

func TestSimTimeStamping(t *testing.T) {
	cfg := testConfig()
	cfg.Simulator.UseSimTime = true
	cfg.Timing.TimePublisherInterval = 10 * time.Millisecond
	cfg.SensorDescriptors = nil

	h := newHarness(t, cfg, func(sim *fake.Simulator) {
		sim.SetVehicleState(simulator.VehicleState{
			Pose:           simulator.IdentityPose(),
			TimestampNanos: 5_000_000_000,
		})
		sim.SetCollision(simulator.CollisionInfo{HasCollided: true, ObjectName: "wall"})
	})
	h.start(t)

	eventually(t, "Running", func() bool { return h.ctrl.State() == lifecycle.Running })
	hub := h.ctrl.Hub()
	eventually(t, "clock sample", func() bool {
		ev, ok := hub.Latest(telemetry.TopicClock)
		return ok && ev.Data.(telemetry.ClockSample).SimTimeNanos == 5_000_000_000
	})

	// Poll ticker plus the clock loop's next wake-up.
	h.clk.WaitForTimers(2)
	h.clk.Advance(10 * time.Millisecond)

	eventually(t, "odometry", func() bool {
		_, ok := hub.Latest(telemetry.OdometryTopic("drone_1"))
		return ok
	})
	ev, _ := hub.Latest(telemetry.OdometryTopic("drone_1"))
	if want := time.Unix(5, 0).UTC(); !ev.Stamp.Equal(want) {
		t.Errorf("Expected sim-time stamp %v, got %v", want, ev.Stamp)
	}
	eventually(t, "collision", func() bool {
		ev, ok := hub.Latest(telemetry.CollisionTopic("drone_1"))
		return ok && ev.Data.(telemetry.Collision).ObjectName == "wall"
	})
}

func TestNewRejectsUnknownDriftModel(t *testing.T) {
	cfg := testConfig()
	cfg.Drift.Model = "gyro"
	if _, err := New(cfg, fake.New(), Options{}); err == nil {
		t.Fatal("Expected error for unknown drift model")
	}
}
