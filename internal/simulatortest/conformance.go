// Package simulatortest provides implementation-agnostic conformance
// tests for simulator.Simulator.
//
// Any simulator backend (the in-memory fake, the JSON-RPC client against
// the mock process) must pass the same suite.
package simulatortest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
)

// Result is the outcome of one conformance check.
type Result struct {
	Name     string
	Passed   bool
	Error    string
	Duration time.Duration
}

// Report collects the results of a conformance run.
type Report struct {
	Results []Result
	Passed  int
	Failed  int
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// RunConformance runs the suite against fresh simulators from newSim.
func RunConformance(t *testing.T, newSim func() simulator.Simulator, vehicle string) {
	t.Helper()
	report := &Report{}

	checks := []struct {
		name string
		fn   func(ctx context.Context, sim simulator.Simulator, vehicle string) error
	}{
		{"Handshake", checkHandshake},
		{"Versions", checkVersions},
		{"VehicleState", checkVehicleState},
		{"CameraInfo", checkCameraInfo},
		{"CancelIdempotent", checkCancelIdempotent},
		{"TakeoffCompletes", checkTakeoff},
		{"ControlToggle", checkControlToggle},
	}

	for _, c := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		start := time.Now()
		err := c.fn(ctx, newSim(), vehicle)
		cancel()

		res := Result{Name: c.name, Passed: err == nil, Duration: time.Since(start)}
		if err != nil {
			res.Error = err.Error()
			t.Errorf("%s: %v", c.name, err)
		}
		report.add(res)
	}

	t.Logf("simulator conformance: %d/%d passed", report.Passed, len(report.Results))
}

func checkHandshake(ctx context.Context, sim simulator.Simulator, _ string) error {
	ok, err := sim.GetConnectionState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("handshake reported not connected")
	}
	return nil
}

func checkVersions(ctx context.Context, sim simulator.Simulator, _ string) error {
	getters := []func(context.Context) (int, error){
		sim.GetServerVersion,
		sim.GetClientVersion,
		sim.GetMinRequiredServerVersion,
		sim.GetMinRequiredClientVersion,
	}
	for _, get := range getters {
		v, err := get(ctx)
		if err != nil {
			return err
		}
		if v <= 0 {
			return errors.New("version must be positive")
		}
	}
	return nil
}

func checkVehicleState(ctx context.Context, sim simulator.Simulator, vehicle string) error {
	state, err := sim.GetVehicleState(ctx, vehicle)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.New("nil vehicle state")
	}
	q := state.Pose.Orientation
	if n := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z; n < 0.99 || n > 1.01 {
		return errors.New("orientation is not a unit quaternion")
	}
	return nil
}

func checkCameraInfo(ctx context.Context, sim simulator.Simulator, vehicle string) error {
	info, err := sim.GetCameraInfo(ctx, "front_center", vehicle)
	if err != nil {
		return err
	}
	if info == nil {
		return errors.New("nil camera info")
	}
	if info.FOVDeg <= 0 || info.FOVDeg >= 180 {
		return errors.New("camera field of view must be in (0, 180) degrees")
	}
	return nil
}

func checkCancelIdempotent(ctx context.Context, sim simulator.Simulator, vehicle string) error {
	if err := sim.EnableAPIControl(ctx, true, vehicle); err != nil {
		return err
	}
	if err := sim.ArmDisarm(ctx, true, vehicle); err != nil {
		return err
	}
	h, err := sim.MoveToPosition(ctx, simulator.Vector3{X: 50}, 1, 3600, simulator.YawMode{}, vehicle)
	if err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := h.Cancel(ctx); err != nil {
			return err
		}
	}
	if err := h.Wait(ctx); err != nil && !errors.Is(err, simulator.ErrTaskCancelled) {
		return err
	}
	return nil
}

func checkTakeoff(ctx context.Context, sim simulator.Simulator, vehicle string) error {
	if err := sim.EnableAPIControl(ctx, true, vehicle); err != nil {
		return err
	}
	if err := sim.ArmDisarm(ctx, true, vehicle); err != nil {
		return err
	}
	h, err := sim.Takeoff(ctx, 5, vehicle)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

func checkControlToggle(ctx context.Context, sim simulator.Simulator, vehicle string) error {
	if err := sim.EnableAPIControl(ctx, true, vehicle); err != nil {
		return err
	}
	if err := sim.Reset(ctx); err != nil {
		return err
	}
	return sim.EnableAPIControl(ctx, false, vehicle)
}
