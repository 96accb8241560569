package session

import (
	"context"

	"github.com/sim-control/simbridge/internal/simulator"
)

// Data-plane calls bound to the session vehicle.

func (s *Session) EnableAPIControl(ctx context.Context, enable bool) error {
	return s.sim.EnableAPIControl(ctx, enable, s.vehicle)
}

func (s *Session) Arm(ctx context.Context, arm bool) error {
	return s.sim.ArmDisarm(ctx, arm, s.vehicle)
}

func (s *Session) GetVehicleState(ctx context.Context) (*simulator.VehicleState, error) {
	return s.sim.GetVehicleState(ctx, s.vehicle)
}

func (s *Session) GetCollisionInfo(ctx context.Context) (*simulator.CollisionInfo, error) {
	return s.sim.GetCollisionInfo(ctx, s.vehicle)
}

func (s *Session) GetVehiclePose(ctx context.Context) (*simulator.Pose, error) {
	return s.sim.GetVehiclePose(ctx, s.vehicle)
}

func (s *Session) GetImages(ctx context.Context, requests []simulator.ImageRequest) ([]simulator.Image, error) {
	return s.sim.GetImages(ctx, s.vehicle, requests)
}

func (s *Session) GetLidarData(ctx context.Context, sensor string) (*simulator.LidarScan, error) {
	return s.sim.GetLidarData(ctx, sensor, s.vehicle)
}

func (s *Session) GetImuData(ctx context.Context, sensor string) (*simulator.ImuSample, error) {
	return s.sim.GetImuData(ctx, sensor, s.vehicle)
}

func (s *Session) Takeoff(ctx context.Context, timeoutSec float64) (simulator.Handle, error) {
	return s.sim.Takeoff(ctx, timeoutSec, s.vehicle)
}

func (s *Session) MoveToPosition(ctx context.Context, target simulator.Vector3, velocity, timeoutSec float64, yaw simulator.YawMode) (simulator.Handle, error) {
	return s.sim.MoveToPosition(ctx, target, velocity, timeoutSec, yaw, s.vehicle)
}

func (s *Session) RotateToYaw(ctx context.Context, yawDeg, timeoutSec, marginDeg float64) (simulator.Handle, error) {
	return s.sim.RotateToYaw(ctx, yawDeg, timeoutSec, marginDeg, s.vehicle)
}

func (s *Session) GetCameraInfo(ctx context.Context, camera string) (*simulator.CameraInfo, error) {
	return s.sim.GetCameraInfo(ctx, camera, s.vehicle)
}
