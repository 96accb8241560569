package simulator

import (
	"context"
)

// ImageType selects the render pass of a camera capture.
type ImageType int

// Camera render passes, numbered as on the wire.
const (
	ImageScene ImageType = iota
	ImageDepthPlanar
	ImageDepthPerspective
	ImageDepthVis
	ImageDisparityNormalized
	ImageSegmentation
	ImageSurfaceNormals
	ImageInfrared
)

var imageTypeNames = map[ImageType]string{
	ImageScene:               "Scene",
	ImageDepthPlanar:         "DepthPlanar",
	ImageDepthPerspective:    "DepthPerspective",
	ImageDepthVis:            "DepthVis",
	ImageDisparityNormalized: "DisparityNormalized",
	ImageSegmentation:        "Segmentation",
	ImageSurfaceNormals:      "SurfaceNormals",
	ImageInfrared:            "Infrared",
}

func (t ImageType) String() string {
	if name, ok := imageTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseImageType resolves a render pass by name.
func ParseImageType(name string) (ImageType, bool) {
	for t, n := range imageTypeNames {
		if n == name {
			return t, true
		}
	}
	return ImageScene, false
}

// Twist carries linear and angular velocity.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// VehicleState is the kinematic state reported by the simulator.
type VehicleState struct {
	Pose           Pose   `json:"pose"`
	Twist          Twist  `json:"twist"`
	TimestampNanos uint64 `json:"timestamp"`
}

// CollisionInfo reports the most recent collision of a vehicle.
type CollisionInfo struct {
	HasCollided    bool    `json:"hasCollided"`
	ObjectName     string  `json:"objectName,omitempty"`
	Position       Vector3 `json:"position"`
	TimestampNanos uint64  `json:"timestamp"`
}

// YawMode is the heading directive attached to a move command.
type YawMode struct {
	IsRate       bool    `json:"isRate"`
	YawOrRateDeg float64 `json:"yawOrRate"`
}

// ImageRequest asks one camera for one render pass.
type ImageRequest struct {
	CameraName    string    `json:"cameraName"`
	ImageType     ImageType `json:"imageType"`
	PixelsAsFloat bool      `json:"pixelsAsFloat"`
}

// Image is one camera capture.
type Image struct {
	CameraName     string    `json:"cameraName"`
	ImageType      ImageType `json:"imageType"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Data           []byte    `json:"data,omitempty"`
	DataFloat      []float32 `json:"dataFloat,omitempty"`
	Pose           Pose      `json:"pose"`
	TimestampNanos uint64    `json:"timestamp"`
}

// CameraInfo is the mount and horizontal field of view of a camera.
type CameraInfo struct {
	Pose   Pose    `json:"pose"`
	FOVDeg float64 `json:"fov"`
}

// LidarScan is a flat x,y,z point list in the sensor frame.
type LidarScan struct {
	Points         []float32 `json:"points"`
	Pose           Pose      `json:"pose"`
	TimestampNanos uint64    `json:"timestamp"`
}

// ImuSample is one inertial measurement.
type ImuSample struct {
	Orientation        Quaternion `json:"orientation"`
	AngularVelocity    Vector3    `json:"angularVelocity"`
	LinearAcceleration Vector3    `json:"linearAcceleration"`
	TimestampNanos     uint64     `json:"timestamp"`
}

// Handle is an in-flight asynchronous motion call.
type Handle interface {
	// ID identifies the task on the simulator side.
	ID() string

	// Cancel aborts the motion. Calling it more than once, or after
	// the motion finished, is a no-op.
	Cancel(ctx context.Context) error

	// Wait blocks until the motion completes, fails, is cancelled, or
	// ctx ends.
	Wait(ctx context.Context) error
}

// Simulator is the southbound contract of the bridge.
type Simulator interface {
	// GetConnectionState reports whether the simulator answers the
	// handshake.
	GetConnectionState(ctx context.Context) (bool, error)

	GetServerVersion(ctx context.Context) (int, error)
	GetClientVersion(ctx context.Context) (int, error)
	GetMinRequiredServerVersion(ctx context.Context) (int, error)
	GetMinRequiredClientVersion(ctx context.Context) (int, error)

	GetVehicleState(ctx context.Context, vehicle string) (*VehicleState, error)
	GetCollisionInfo(ctx context.Context, vehicle string) (*CollisionInfo, error)
	GetVehiclePose(ctx context.Context, vehicle string) (*Pose, error)

	GetImages(ctx context.Context, vehicle string, requests []ImageRequest) ([]Image, error)
	GetCameraInfo(ctx context.Context, camera, vehicle string) (*CameraInfo, error)
	GetLidarData(ctx context.Context, sensor, vehicle string) (*LidarScan, error)
	GetImuData(ctx context.Context, sensor, vehicle string) (*ImuSample, error)

	EnableAPIControl(ctx context.Context, enable bool, vehicle string) error
	ArmDisarm(ctx context.Context, arm bool, vehicle string) error
	Reset(ctx context.Context) error

	// Motion primitives are asynchronous and return a Handle at once.
	Takeoff(ctx context.Context, timeoutSec float64, vehicle string) (Handle, error)
	MoveToPosition(ctx context.Context, target Vector3, velocity, timeoutSec float64, yaw YawMode, vehicle string) (Handle, error)
	RotateToYaw(ctx context.Context, yawDeg, timeoutSec, marginDeg float64, vehicle string) (Handle, error)
}
