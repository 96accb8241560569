package config

import (
	"log/slog"

	"github.com/sim-control/simbridge/internal/simulator"
)

// ProcessorKind names a post-processing stage.
type ProcessorKind string

const (
	ProcessorChangeFrameID     ProcessorKind = "change_frame_id"
	ProcessorDepthToPointcloud ProcessorKind = "depth_to_pointcloud"
)

// ProcessorSpec carries the kind-specific part of a processor.
type ProcessorSpec interface {
	Kind() ProcessorKind
}

// ChangeFrameIDSpec republishes readings under another frame.
type ChangeFrameIDSpec struct {
	FrameID string
}

func (ChangeFrameIDSpec) Kind() ProcessorKind { return ProcessorChangeFrameID }

// DepthToPointcloudSpec projects float depth images into points. A zero
// MaxDepth keeps every valid pixel.
type DepthToPointcloudSpec struct {
	MaxDepth float64
}

func (DepthToPointcloudSpec) Kind() ProcessorKind { return ProcessorDepthToPointcloud }

// ProcessorDescriptor is one validated processor bound to a sensor.
type ProcessorDescriptor struct {
	Name        string
	Input       string
	OutputTopic string
	Spec        ProcessorSpec
}

func (d ProcessorDescriptor) Kind() ProcessorKind { return d.Spec.Kind() }

// ProcessorEntry is one processor as written in the configuration file.
type ProcessorEntry struct {
	Name          string  `yaml:"name"`
	ProcessorType string  `yaml:"processor_type"`
	Input         string  `yaml:"input"`
	OutputTopic   string  `yaml:"output_topic"`
	FrameID       string  `yaml:"frame_id"`
	MaxDepth      float64 `yaml:"max_depth"`
}

// BuildProcessors binds raw entries to sensors. Entries that cannot run
// are logged and skipped; the rest of the list is kept.
func BuildProcessors(entries []ProcessorEntry, sensors []SensorDescriptor, vehicle string, logger *slog.Logger) []ProcessorDescriptor {
	byName := make(map[string]SensorDescriptor, len(sensors))
	for _, s := range sensors {
		byName[s.Name] = s
	}
	seen := make(map[string]bool, len(entries))
	out := make([]ProcessorDescriptor, 0, len(entries))

	for i, e := range entries {
		if e.Name == "" {
			logger.Warn("processor has no name and will be ignored", "index", i)
			continue
		}
		if seen[e.Name] {
			logger.Warn("duplicate processor name, entry ignored", "processor", e.Name)
			continue
		}
		if e.ProcessorType == "" {
			logger.Warn("processor does not name a processor_type and will be ignored", "processor", e.Name)
			continue
		}
		sensor, ok := byName[e.Input]
		if !ok {
			logger.Warn("processor input is not a configured sensor, processor will be ignored", "processor", e.Name, "input", e.Input)
			continue
		}

		var spec ProcessorSpec
		switch ProcessorKind(e.ProcessorType) {
		case ProcessorChangeFrameID:
			if e.FrameID == "" {
				logger.Warn("change_frame_id needs frame_id, processor will be ignored", "processor", e.Name)
				continue
			}
			spec = ChangeFrameIDSpec{FrameID: e.FrameID}
		case ProcessorDepthToPointcloud:
			if !isDepthCamera(sensor) {
				logger.Warn("depth_to_pointcloud needs a float depth camera, processor will be ignored", "processor", e.Name, "input", e.Input)
				continue
			}
			maxDepth := e.MaxDepth
			if maxDepth < 0 {
				logger.Warn("max_depth must be >= 0, using no limit", "processor", e.Name, "max_depth", e.MaxDepth)
				maxDepth = 0
			}
			spec = DepthToPointcloudSpec{MaxDepth: maxDepth}
		default:
			logger.Warn("unknown processor_type, processor will be ignored", "processor", e.Name, "processor_type", e.ProcessorType)
			continue
		}
		seen[e.Name] = true

		d := ProcessorDescriptor{
			Name:        e.Name,
			Input:       e.Input,
			OutputTopic: e.OutputTopic,
			Spec:        spec,
		}
		if d.OutputTopic == "" {
			d.OutputTopic = vehicle + "/" + e.Name
		}
		out = append(out, d)
	}
	return out
}

func isDepthCamera(s SensorDescriptor) bool {
	cam, ok := s.Spec.(CameraSpec)
	if !ok || !cam.PixelsAsFloat {
		return false
	}
	return cam.ImageType == simulator.ImageDepthPlanar || cam.ImageType == simulator.ImageDepthPerspective
}
