// Package fake provides an in-memory Simulator for unit tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sim-control/simbridge/internal/simulator"
)

// Call records one invocation on the fake.
type Call struct {
	Method string
	Args   []any
}

// Simulator implements simulator.Simulator in memory. Zero value is not
// usable; call New.
type Simulator struct {
	mu sync.Mutex

	connected    bool
	connectAfter int
	pings        int

	serverVersion    int
	clientVersion    int
	minServerVersion int
	minClientVersion int

	state     simulator.VehicleState
	collision simulator.CollisionInfo
	camera    simulator.CameraInfo
	depth     float32
	errs      map[string]error
	calls     []Call
	handles   []*Handle
	holdTasks bool
	nextTask  int

	// OnCall, when set, runs after every recorded call without the
	// lock held. Tests use it to advance a fake clock from inside a
	// simulator query.
	OnCall func(method string)
}

// Compile-time assertion that Simulator implements simulator.Simulator
var _ simulator.Simulator = (*Simulator)(nil)

// New returns a connected fake reporting protocol version 1 on both
// sides.
func New() *Simulator {
	return &Simulator{
		connected:        true,
		serverVersion:    1,
		clientVersion:    1,
		minServerVersion: 1,
		minClientVersion: 1,
		state: simulator.VehicleState{
			Pose: simulator.IdentityPose(),
		},
		camera: simulator.CameraInfo{Pose: simulator.IdentityPose(), FOVDeg: 90},
		depth:  1,
		errs:   make(map[string]error),
	}
}

// SetConnected toggles the handshake result.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// SetConnectAfter makes the first n pings fail.
func (s *Simulator) SetConnectAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectAfter = n
}

// SetVersions sets server, client, min-server and min-client versions.
func (s *Simulator) SetVersions(server, client, minServer, minClient int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverVersion, s.clientVersion = server, client
	s.minServerVersion, s.minClientVersion = minServer, minClient
}

// SetVehicleState replaces the reported kinematic state.
func (s *Simulator) SetVehicleState(state simulator.VehicleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SetCollision replaces the reported collision info.
func (s *Simulator) SetCollision(info simulator.CollisionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collision = info
}

// SetCameraInfo replaces the info reported for every camera.
func (s *Simulator) SetCameraInfo(info simulator.CameraInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = info
}

// SetDepth sets the value of every float pixel returned by GetImages.
func (s *Simulator) SetDepth(depth float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = depth
}

// SetError makes method fail with err. A nil err clears it.
func (s *Simulator) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// HoldTasks makes motion handles stay in flight until cancelled or
// completed explicitly.
func (s *Simulator) HoldTasks(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdTasks = hold
}

// Calls returns a copy of the call log.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts calls to method.
func (s *Simulator) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Handles returns every motion handle issued so far, oldest first.
func (s *Simulator) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

func (s *Simulator) record(method string, args ...any) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
	err := s.errs[method]
	hook := s.OnCall
	s.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	return err
}

func (s *Simulator) GetConnectionState(ctx context.Context) (bool, error) {
	if err := s.record("GetConnectionState"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if s.pings <= s.connectAfter {
		return false, nil
	}
	return s.connected, nil
}

func (s *Simulator) GetServerVersion(ctx context.Context) (int, error) {
	if err := s.record("GetServerVersion"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverVersion, nil
}

func (s *Simulator) GetClientVersion(ctx context.Context) (int, error) {
	if err := s.record("GetClientVersion"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientVersion, nil
}

func (s *Simulator) GetMinRequiredServerVersion(ctx context.Context) (int, error) {
	if err := s.record("GetMinRequiredServerVersion"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minServerVersion, nil
}

func (s *Simulator) GetMinRequiredClientVersion(ctx context.Context) (int, error) {
	if err := s.record("GetMinRequiredClientVersion"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minClientVersion, nil
}

func (s *Simulator) GetVehicleState(ctx context.Context, vehicle string) (*simulator.VehicleState, error) {
	if err := s.record("GetVehicleState", vehicle); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	return &st, nil
}

func (s *Simulator) GetCollisionInfo(ctx context.Context, vehicle string) (*simulator.CollisionInfo, error) {
	if err := s.record("GetCollisionInfo", vehicle); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.collision
	return &info, nil
}

func (s *Simulator) GetVehiclePose(ctx context.Context, vehicle string) (*simulator.Pose, error) {
	if err := s.record("GetVehiclePose", vehicle); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pose := s.state.Pose
	return &pose, nil
}

func (s *Simulator) GetImages(ctx context.Context, vehicle string, requests []simulator.ImageRequest) ([]simulator.Image, error) {
	if err := s.record("GetImages", vehicle, requests); err != nil {
		return nil, err
	}
	s.mu.Lock()
	depth := s.depth
	s.mu.Unlock()
	images := make([]simulator.Image, len(requests))
	for i, r := range requests {
		images[i] = simulator.Image{CameraName: r.CameraName, ImageType: r.ImageType, Width: 1, Height: 1}
		if r.PixelsAsFloat {
			images[i].DataFloat = []float32{depth}
		} else {
			images[i].Data = []byte{0, 0, 0}
		}
	}
	return images, nil
}

func (s *Simulator) GetCameraInfo(ctx context.Context, camera, vehicle string) (*simulator.CameraInfo, error) {
	if err := s.record("GetCameraInfo", camera, vehicle); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.camera
	return &info, nil
}

func (s *Simulator) GetLidarData(ctx context.Context, sensor, vehicle string) (*simulator.LidarScan, error) {
	if err := s.record("GetLidarData", sensor, vehicle); err != nil {
		return nil, err
	}
	return &simulator.LidarScan{Points: []float32{1, 0, 0}, Pose: simulator.IdentityPose()}, nil
}

func (s *Simulator) GetImuData(ctx context.Context, sensor, vehicle string) (*simulator.ImuSample, error) {
	if err := s.record("GetImuData", sensor, vehicle); err != nil {
		return nil, err
	}
	return &simulator.ImuSample{Orientation: simulator.IdentityQuaternion()}, nil
}

func (s *Simulator) EnableAPIControl(ctx context.Context, enable bool, vehicle string) error {
	return s.record("EnableAPIControl", enable, vehicle)
}

func (s *Simulator) ArmDisarm(ctx context.Context, arm bool, vehicle string) error {
	return s.record("ArmDisarm", arm, vehicle)
}

func (s *Simulator) Reset(ctx context.Context) error {
	return s.record("Reset")
}

func (s *Simulator) Takeoff(ctx context.Context, timeoutSec float64, vehicle string) (simulator.Handle, error) {
	if err := s.record("Takeoff", timeoutSec, vehicle); err != nil {
		return nil, err
	}
	return s.newHandle("Takeoff", false), nil
}

func (s *Simulator) MoveToPosition(ctx context.Context, target simulator.Vector3, velocity, timeoutSec float64, yaw simulator.YawMode, vehicle string) (simulator.Handle, error) {
	if err := s.record("MoveToPosition", target, velocity, timeoutSec, yaw, vehicle); err != nil {
		return nil, err
	}
	return s.newHandle("MoveToPosition", true), nil
}

func (s *Simulator) RotateToYaw(ctx context.Context, yawDeg, timeoutSec, marginDeg float64, vehicle string) (simulator.Handle, error) {
	if err := s.record("RotateToYaw", yawDeg, timeoutSec, marginDeg, vehicle); err != nil {
		return nil, err
	}
	return s.newHandle("RotateToYaw", true), nil
}

func (s *Simulator) newHandle(kind string, holdable bool) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	h := &Handle{
		id:   fmt.Sprintf("task-%d", s.nextTask),
		Kind: kind,
		done: make(chan struct{}),
	}
	if !(holdable && s.holdTasks) {
		h.finish(nil)
	}
	s.handles = append(s.handles, h)
	return h
}

// Handle is a fake motion task.
type Handle struct {
	id   string
	Kind string

	cancels atomic.Int32
	once    sync.Once
	done    chan struct{}
	result  error
}

func (h *Handle) ID() string { return h.id }

// Cancel finishes the task with ErrTaskCancelled if still running.
func (h *Handle) Cancel(ctx context.Context) error {
	h.cancels.Add(1)
	h.finish(simulator.ErrTaskCancelled)
	return nil
}

// Complete finishes the task successfully if still running.
func (h *Handle) Complete() { h.finish(nil) }

// CancelCount reports how many times Cancel was called.
func (h *Handle) CancelCount() int { return int(h.cancels.Load()) }

// Cancelled reports whether the task ended through Cancel.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.done:
		return h.result == simulator.ErrTaskCancelled
	default:
		return false
	}
}

func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.result = err
		close(h.done)
	})
}
