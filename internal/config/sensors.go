package config

import (
	"fmt"
	"log/slog"

	"github.com/sim-control/simbridge/internal/simulator"
)

// SensorKind names a sensor family.
type SensorKind string

const (
	KindCamera SensorKind = "camera"
	KindLidar  SensorKind = "lidar"
	KindImu    SensorKind = "imu"
)

// SensorSpec carries the kind-specific part of a sensor.
type SensorSpec interface {
	Kind() SensorKind
}

// CameraSpec configures a camera capture.
type CameraSpec struct {
	ImageType     simulator.ImageType
	PixelsAsFloat bool
}

func (CameraSpec) Kind() SensorKind { return KindCamera }

// LidarSpec configures a lidar. It has no kind-specific fields.
type LidarSpec struct{}

func (LidarSpec) Kind() SensorKind { return KindLidar }

// ImuSpec configures an IMU. It has no kind-specific fields.
type ImuSpec struct{}

func (ImuSpec) Kind() SensorKind { return KindImu }

// SensorDescriptor is one validated, immutable sensor.
type SensorDescriptor struct {
	Name           string
	RateHz         float64
	ExclusiveTimer bool
	OutputTopic    string
	FrameName      string
	Mount          simulator.Pose
	Spec           SensorSpec
}

// Kind returns the sensor family.
func (d SensorDescriptor) Kind() SensorKind { return d.Spec.Kind() }

// SensorEntry is one sensor as written in the configuration file.
type SensorEntry struct {
	Name               string  `yaml:"name"`
	SensorType         string  `yaml:"sensor_type"`
	OutputTopic        string  `yaml:"output_topic"`
	FrameName          string  `yaml:"frame_name"`
	ForceSeparateTimer bool    `yaml:"force_separate_timer"`
	Rate               float64 `yaml:"rate"`
	ImageType          string  `yaml:"image_type"`
	PixelsAsFloat      bool    `yaml:"pixels_as_float"`

	// TBS is the 4x4 row-major body-to-sensor transform. It is decoded
	// loosely so a malformed matrix only costs this sensor its mount.
	TBS interface{} `yaml:"T_B_S"`
}

// BuildSensors turns raw entries into descriptors. Entries without a
// name or with an unknown type are skipped; bad rates, image types and
// transforms fall back to defaults. Every fallback is logged.
func BuildSensors(entries []SensorEntry, vehicle string, logger *slog.Logger) []SensorDescriptor {
	seen := make(map[string]bool, len(entries))
	out := make([]SensorDescriptor, 0, len(entries))

	for i, e := range entries {
		if e.Name == "" {
			logger.Warn("sensor has no name and will be ignored", "index", i)
			continue
		}
		if seen[e.Name] {
			logger.Warn("duplicate sensor name, entry ignored", "sensor", e.Name)
			continue
		}

		var spec SensorSpec
		switch SensorKind(e.SensorType) {
		case KindCamera:
			spec = buildCamera(e, logger)
		case KindLidar:
			spec = LidarSpec{}
		case KindImu:
			spec = ImuSpec{}
		case "":
			logger.Warn("sensor has no sensor_type and will be ignored", "sensor", e.Name)
			continue
		default:
			logger.Warn("unknown sensor_type, sensor will be ignored", "sensor", e.Name, "sensor_type", e.SensorType)
			continue
		}
		seen[e.Name] = true

		d := SensorDescriptor{
			Name:           e.Name,
			RateHz:         e.Rate,
			ExclusiveTimer: e.ForceSeparateTimer,
			OutputTopic:    e.OutputTopic,
			FrameName:      e.FrameName,
			Spec:           spec,
		}
		if d.OutputTopic == "" {
			d.OutputTopic = vehicle + "/" + e.Name
		}
		if d.FrameName == "" {
			d.FrameName = vehicle + "/" + e.Name
		}
		if d.RateHz <= 0 {
			logger.Warn("sensor rate must be > 0, using default", "sensor", e.Name, "rate", e.Rate, "default", DefaultSensorRate)
			d.RateHz = DefaultSensorRate
		}

		mount, err := ParseTransform(e.TBS)
		if err != nil {
			logger.Warn("invalid T_B_S, using identity", "sensor", e.Name, "error", err)
			mount = simulator.IdentityPose()
		}
		d.Mount = mount

		out = append(out, d)
	}
	return out
}

func buildCamera(e SensorEntry, logger *slog.Logger) CameraSpec {
	spec := CameraSpec{ImageType: simulator.ImageScene, PixelsAsFloat: e.PixelsAsFloat}
	if e.ImageType == "" {
		return spec
	}
	t, ok := simulator.ParseImageType(e.ImageType)
	if !ok {
		logger.Warn("unrecognized image_type, using default", "sensor", e.Name, "image_type", e.ImageType, "default", simulator.ImageScene.String())
		return spec
	}
	spec.ImageType = t
	return spec
}

// ParseTransform decodes a 4x4 row-major matrix as loaded from YAML. A
// nil value is the identity transform. Only the first three rows are
// used.
func ParseTransform(raw interface{}) (simulator.Pose, error) {
	if raw == nil {
		return simulator.IdentityPose(), nil
	}
	rows, ok := raw.([]interface{})
	if !ok || len(rows) != 4 {
		return simulator.Pose{}, fmt.Errorf("expected 4x4 array")
	}

	var rot [3][3]float64
	var trans [3]float64
	for i := 0; i < 3; i++ {
		row, ok := rows[i].([]interface{})
		if !ok || len(row) != 4 {
			return simulator.Pose{}, fmt.Errorf("expected 4x4 array")
		}
		for j := 0; j < 4; j++ {
			v, ok := toFloat(row[j])
			if !ok {
				return simulator.Pose{}, fmt.Errorf("entry (%d,%d) is not a number", i, j)
			}
			if j < 3 {
				rot[i][j] = v
			} else {
				trans[i] = v
			}
		}
	}

	return simulator.Pose{
		Position:    simulator.Vector3{X: trans[0], Y: trans[1], Z: trans[2]},
		Orientation: simulator.QuaternionFromMatrix(rot),
	}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
