package telemetry

import (
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
)

// Fixed topic names.
const (
	TopicReady    = "simulation_is_ready"
	TopicClock    = "clock"
	TopicTFStatic = "tf_static"
	TopicTF       = "tf"
	TopicFault    = "fault"
)

// OdometryTopic carries the drifted odometry of vehicle.
func OdometryTopic(vehicle string) string { return vehicle + "/odometry" }

// GroundTruthOdometryTopic carries the true odometry of vehicle.
func GroundTruthOdometryTopic(vehicle string) string { return vehicle + "/ground_truth/odometry" }

// GroundTruthPoseTopic carries the true pose of vehicle.
func GroundTruthPoseTopic(vehicle string) string { return vehicle + "/ground_truth/pose" }

// CollisionTopic carries collision notices for vehicle.
func CollisionTopic(vehicle string) string { return vehicle + "/collision" }

// Header stamps a message and names its reference frame.
type Header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frameId"`
}

// Odometry is a pose with its velocity.
type Odometry struct {
	Header       Header          `json:"header"`
	ChildFrameID string          `json:"childFrameId"`
	Pose         simulator.Pose  `json:"pose"`
	Twist        simulator.Twist `json:"twist"`
}

// PoseStamped is a pose in a named frame.
type PoseStamped struct {
	Header Header         `json:"header"`
	Pose   simulator.Pose `json:"pose"`
}

// TransformStamped places ChildFrameID in Header.FrameID.
type TransformStamped struct {
	Header       Header         `json:"header"`
	ChildFrameID string         `json:"childFrameId"`
	Transform    simulator.Pose `json:"transform"`
}

// Collision reports that the vehicle hit something.
type Collision struct {
	Header     Header            `json:"header"`
	Collided   bool              `json:"collided"`
	ObjectName string            `json:"objectName,omitempty"`
	Position   simulator.Vector3 `json:"position"`
}

// Ready announces that the vehicle accepts commands.
type Ready struct {
	Ready bool `json:"ready"`
}

// ClockSample republishes simulator time.
type ClockSample struct {
	SimTimeNanos uint64 `json:"simTimeNanos"`
}

// Fault reports a failed operation.
type Fault struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SensorReading is one sensor sample. Exactly one of Image, Lidar and
// Imu is set.
type SensorReading struct {
	Header Header               `json:"header"`
	Sensor string               `json:"sensor"`
	Kind   string               `json:"kind"`
	Image  *simulator.Image     `json:"image,omitempty"`
	Lidar  *simulator.LidarScan `json:"lidar,omitempty"`
	Imu    *simulator.ImuSample `json:"imu,omitempty"`
}

// PointCloud is a flat x,y,z point list in Header.FrameID.
type PointCloud struct {
	Header Header    `json:"header"`
	Source string    `json:"source"`
	Points []float32 `json:"points"`
}
